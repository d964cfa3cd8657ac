package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/report"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
)

var (
	ErrUnknownKind   = errors.New("unknown event kind")
	ErrMalformedLine = errors.New("malformed event line")
	ErrTransport     = errors.New("event transport failed")
)

// Event is one outbound protocol message. Label carries the payload of label
// events (the role string for Identity); Report carries the TeacherReport body.
type Event struct {
	Kind   Kind
	Label  string
	Report *report.Report
}

// Identity announces the authenticated role.
func Identity(role user.Role) Event {
	return Event{Kind: KindIdentity, Label: string(role)}
}

// TeacherReport carries every known user's last dominant emotion.
func TeacherReport(r *report.Report) Event {
	if r == nil {
		r = report.New()
	}
	return Event{Kind: KindTeacherReport, Report: r}
}

// Gesture is a navigation gesture such as Rotate or Select.
func Gesture(label string) Event { return Event{Kind: KindGesture, Label: label} }

// Habitat selects a habitat scene.
func Habitat(label string) Event { return Event{Kind: KindHabitat, Label: label} }

// Animal reports a detected animal class.
func Animal(label string) Event { return Event{Kind: KindAnimal, Label: label} }

// ReportType asks the client for one teacher report view.
func ReportType(label string) Event { return Event{Kind: KindReportType, Label: label} }

// Validate checks the event against the schema without encoding it.
func (e Event) Validate() error {
	payload, ok := PayloadOf(e.Kind)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(e.Kind))
	}

	switch payload {
	case JSONPayload:
		return nil
	case LabelPayload:
		if err := validateLabel(e.Label); err != nil {
			return err
		}
		if e.Kind == KindIdentity && user.ParseRole(e.Label) == user.Unknown && e.Label != string(user.Unknown) {
			return fmt.Errorf("%w: unknown role %q", ErrMalformedLine, e.Label)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(e.Kind))
	}
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("%w: empty label", ErrMalformedLine)
	}
	if !utf8.ValidString(label) {
		return fmt.Errorf("%w: label is not valid utf-8", ErrMalformedLine)
	}
	if strings.ContainsAny(label, "\r\n") {
		return fmt.Errorf("%w: label contains a line break", ErrMalformedLine)
	}
	return nil
}

// String renders the event as its wire line without the terminator.
func (e Event) String() string {
	line, err := Encode(e)
	if err != nil {
		return fmt.Sprintf("%s:<invalid: %v>", e.Kind, err)
	}
	return string(line[:len(line)-1])
}
