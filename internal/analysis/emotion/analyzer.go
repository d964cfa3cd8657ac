package emotion

import "strings"

// Label 表示情绪识别器输出的情绪标签。
type Label string

const (
	Neutral  Label = "neutral"
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Fear     Label = "fear"
	Surprise Label = "surprise"
	Disgust  Label = "disgust"
)

// tracked lists the labels a session buffers; everything else the estimator
// reports is dropped before aggregation.
var tracked = []Label{Happy, Sad, Angry, Neutral}

// Tracked returns the buffered label set in a stable order.
func Tracked() []Label {
	return append([]Label(nil), tracked...)
}

// IsTracked reports whether label belongs to the buffered set.
func IsTracked(label Label) bool {
	for _, l := range tracked {
		if l == label {
			return true
		}
	}
	return false
}

// ParseLabel normalizes raw estimator output. Unknown labels are rejected.
func ParseLabel(raw string) (Label, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "neutral":
		return Neutral, true
	case "happy":
		return Happy, true
	case "sad":
		return Sad, true
	case "angry":
		return Angry, true
	case "fear":
		return Fear, true
	case "surprise":
		return Surprise, true
	case "disgust":
		return Disgust, true
	default:
		return "", false
	}
}

// Dominant returns the stable mode of observations: the most frequent label,
// ties going to the label that occurred first. ok is false for an empty input.
func Dominant(observations []Label) (Label, bool) {
	if len(observations) == 0 {
		return "", false
	}

	counts := make(map[Label]int, len(tracked))
	order := make([]Label, 0, len(tracked))
	for _, label := range observations {
		if _, seen := counts[label]; !seen {
			order = append(order, label)
		}
		counts[label]++
	}

	best := order[0]
	for _, label := range order[1:] {
		if counts[label] > counts[best] {
			best = label
		}
	}
	return best, true
}
