package vision

// Landmark is a normalized hand keypoint (0..1 relative to the frame).
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HandLandmarks holds the keypoints of one detected hand.
type HandLandmarks struct {
	Landmarks []Landmark `json:"landmarks"`
}

// Features flattens hands into the classifier input vector: every keypoint as
// (x - min x, y - min y) where the minima run over all hands seen so far,
// matching how the gesture model was trained.
func Features(hands []HandLandmarks) []float64 {
	var (
		xs       []float64
		ys       []float64
		features []float64
	)
	for _, hand := range hands {
		for _, lm := range hand.Landmarks {
			xs = append(xs, lm.X)
			ys = append(ys, lm.Y)
		}
		minX, minY := minOf(xs), minOf(ys)
		for _, lm := range hand.Landmarks {
			features = append(features, lm.X-minX, lm.Y-minY)
		}
	}
	return features
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// BBox is an axis-aligned box in pixel coordinates.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Detection is one object detector hit.
type Detection struct {
	Label      string  `json:"label"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

var animals = map[string]struct{}{
	"cat": {}, "dog": {}, "bird": {}, "horse": {}, "sheep": {},
	"giraffe": {}, "bear": {}, "zebra": {}, "elephant": {}, "cow": {},
}

// IsAnimal reports whether label is on the habitat animal allow-list.
func IsAnimal(label string) bool {
	_, ok := animals[label]
	return ok
}
