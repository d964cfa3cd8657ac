package vision

import "time"

// Frame is one captured camera image. Image holds the encoded bytes (JPEG or
// PNG) exactly as delivered by the capture source.
type Frame struct {
	Seq        uint64    `json:"seq"`
	Image      []byte    `json:"-"`
	MIMEType   string    `json:"mimeType"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// IdentityStatus is the face resolver verdict for one frame.
type IdentityStatus string

const (
	Recognized IdentityStatus = "recognized"
	NoFace     IdentityStatus = "no_face"
	Unresolved IdentityStatus = "unknown"
)

// Identification is an identity candidate. Name is set only when Status is Recognized.
type Identification struct {
	Status IdentityStatus `json:"status"`
	Name   string         `json:"name,omitempty"`
}

// String renders the verdict the way operators read it in the logs.
func (i Identification) String() string {
	switch i.Status {
	case Recognized:
		return i.Name
	case NoFace:
		return "can't find faces in provided picture"
	default:
		return "can't identify the person in the picture"
	}
}
