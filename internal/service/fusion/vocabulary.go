package fusion

import (
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/protocol"
)

// Entry maps one classifier class onto the label and event kind it produces.
type Entry struct {
	Label string
	Kind  protocol.Kind
}

// Vocabulary is the immutable gesture table of one role, indexed by the
// classifier's class number. It is chosen once per session.
type Vocabulary struct {
	role    user.Role
	entries []Entry
	byLabel map[string]protocol.Kind
}

var kidEntries = []Entry{
	{Label: "Rotate", Kind: protocol.KindGesture},
	{Label: "Home", Kind: protocol.KindHabitat},
	{Label: "Farm", Kind: protocol.KindHabitat},
	{Label: "WildLife", Kind: protocol.KindHabitat},
	{Label: "Select", Kind: protocol.KindGesture},
	{Label: "Back", Kind: protocol.KindGesture},
}

var teacherEntries = []Entry{
	{Label: "HappyKids", Kind: protocol.KindReportType},
	{Label: "SadKids", Kind: protocol.KindReportType},
	{Label: "NeutralKids", Kind: protocol.KindReportType},
	{Label: "FearKids", Kind: protocol.KindReportType},
	{Label: "AngryKids", Kind: protocol.KindReportType},
	{Label: "SurpriseStudents", Kind: protocol.KindReportType},
}

// VocabularyFor returns the table for role. Roles without gestures get an
// empty vocabulary, so every classification is ignored.
func VocabularyFor(role user.Role) Vocabulary {
	var entries []Entry
	switch role {
	case user.Kid:
		entries = kidEntries
	case user.Teacher:
		entries = teacherEntries
	}

	byLabel := make(map[string]protocol.Kind, len(entries))
	for _, e := range entries {
		byLabel[e.Label] = e.Kind
	}
	return Vocabulary{role: role, entries: append([]Entry(nil), entries...), byLabel: byLabel}
}

// Role returns the role the vocabulary was built for.
func (v Vocabulary) Role() user.Role {
	return v.role
}

// Lookup maps a classifier class to its entry.
func (v Vocabulary) Lookup(class int) (Entry, bool) {
	if class < 0 || class >= len(v.entries) {
		return Entry{}, false
	}
	return v.entries[class], true
}

// KindOf returns the event kind a label produces.
func (v Vocabulary) KindOf(label string) (protocol.Kind, bool) {
	kind, ok := v.byLabel[label]
	return kind, ok
}

// Labels lists the vocabulary in class order.
func (v Vocabulary) Labels() []string {
	labels := make([]string, len(v.entries))
	for i, e := range v.entries {
		labels[i] = e.Label
	}
	return labels
}

// Event builds the protocol event for entry.
func (e Entry) Event() protocol.Event {
	return protocol.Event{Kind: e.Kind, Label: e.Label}
}
