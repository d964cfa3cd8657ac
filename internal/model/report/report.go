package report

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Row is one stored session summary joined with its user's name.
type Row struct {
	UserID          int64  `json:"userId"`
	DominantEmotion string `json:"dominantEmotion"`
	Username        string `json:"username"`
}

// Report maps username to the last stored dominant emotion, keeping the
// position at which each username first appeared.
type Report struct {
	entries *orderedmap.OrderedMap[string, string]
}

// New returns an empty report.
func New() *Report {
	return &Report{entries: orderedmap.New[string, string]()}
}

// FromRows folds joined rows, in row order, into a report. A repeated username
// keeps its first position and takes the later emotion.
func FromRows(rows []Row) *Report {
	r := New()
	for _, row := range rows {
		r.Set(row.Username, row.DominantEmotion)
	}
	return r
}

// Set records the emotion for username.
func (r *Report) Set(username, emotion string) {
	r.entries.Set(username, emotion)
}

// Get returns the emotion recorded for username.
func (r *Report) Get(username string) (string, bool) {
	return r.entries.Get(username)
}

// Len returns the number of usernames in the report.
func (r *Report) Len() int {
	if r == nil || r.entries == nil {
		return 0
	}
	return r.entries.Len()
}

// Each visits the entries in report order.
func (r *Report) Each(fn func(username, emotion string)) {
	if r == nil || r.entries == nil {
		return
	}
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Usernames returns the keys in report order.
func (r *Report) Usernames() []string {
	names := make([]string, 0, r.Len())
	r.Each(func(username, _ string) {
		names = append(names, username)
	})
	return names
}

// MarshalJSON encodes the report as a JSON object in report order.
func (r *Report) MarshalJSON() ([]byte, error) {
	if r == nil || r.entries == nil {
		return []byte("{}"), nil
	}
	return r.entries.MarshalJSON()
}
