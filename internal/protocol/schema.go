package protocol

// Kind is the literal event tag that prefixes every wire line.
type Kind string

const (
	KindIdentity      Kind = "Identity"
	KindTeacherReport Kind = "TeacherReport"
	KindGesture       Kind = "Gesture"
	KindHabitat       Kind = "Habitat"
	KindAnimal        Kind = "Animal"
	KindReportType    Kind = "ReportType"
)

// PayloadType describes how the text after the kind separator is encoded.
type PayloadType uint8

const (
	// LabelPayload 单个标签字符串，不允许换行。
	LabelPayload PayloadType = iota + 1
	// JSONPayload 一个 JSON 对象。
	JSONPayload
)

// Separator splits kind from payload on the wire.
const Separator = ':'

// Terminator ends every wire line.
const Terminator = '\n'

// kinds is the closed event schema; encoder and decoder are both driven by it.
var kinds = []struct {
	Kind    Kind
	Payload PayloadType
	// Sensor events may only be emitted once the session is authenticated.
	Sensor bool
}{
	{Kind: KindIdentity, Payload: LabelPayload},
	{Kind: KindTeacherReport, Payload: JSONPayload},
	{Kind: KindGesture, Payload: LabelPayload, Sensor: true},
	{Kind: KindHabitat, Payload: LabelPayload, Sensor: true},
	{Kind: KindAnimal, Payload: LabelPayload, Sensor: true},
	{Kind: KindReportType, Payload: LabelPayload, Sensor: true},
}

// Kinds returns every event kind in schema order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, k.Kind)
	}
	return out
}

// PayloadOf returns the payload encoding for kind; ok is false for kinds
// outside the schema.
func PayloadOf(kind Kind) (PayloadType, bool) {
	for _, k := range kinds {
		if k.Kind == kind {
			return k.Payload, true
		}
	}
	return 0, false
}

// IsSensor reports whether kind is produced by the fusion loop.
func IsSensor(kind Kind) bool {
	for _, k := range kinds {
		if k.Kind == kind {
			return k.Sensor
		}
	}
	return false
}
