package vision

// Direction is the persisted gaze label.
type Direction string

const (
	Blinking      Direction = "Blinking"
	LookingRight  Direction = "Looking right"
	LookingLeft   Direction = "Looking left"
	LookingCenter Direction = "Looking center"
	GazeUnknown   Direction = "could not detect gaze"
)

// ParseDirection accepts both the persisted labels and the short sidecar forms.
func ParseDirection(raw string) Direction {
	switch raw {
	case "blinking", string(Blinking):
		return Blinking
	case "right", string(LookingRight):
		return LookingRight
	case "left", string(LookingLeft):
		return LookingLeft
	case "center", string(LookingCenter):
		return LookingCenter
	default:
		return GazeUnknown
	}
}

// Point is an image-space coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GazeReading is one gaze estimation result.
type GazeReading struct {
	Direction  Direction `json:"direction"`
	LeftPupil  *Point    `json:"leftPupil,omitempty"`
	RightPupil *Point    `json:"rightPupil,omitempty"`
}

// Average returns the midpoint of both pupils. ok is false unless both were located.
func (g GazeReading) Average() (Point, bool) {
	if g.LeftPupil == nil || g.RightPupil == nil {
		return Point{}, false
	}
	return Point{
		X: (g.LeftPupil.X + g.RightPupil.X) / 2,
		Y: (g.LeftPupil.Y + g.RightPupil.Y) / 2,
	}, true
}

// GazeObservation is one row of the per-frame gaze log.
type GazeObservation struct {
	Direction Direction
	X         float64
	Y         float64
}
