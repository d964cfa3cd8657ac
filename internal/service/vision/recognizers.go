package vision

import (
	"context"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
)

// FrameSource yields camera frames. io.EOF marks the end of the stream.
type FrameSource interface {
	Next(ctx context.Context) (vision.Frame, error)
}

// FaceResolver proposes an identity candidate for the person in frame.
type FaceResolver interface {
	Identify(ctx context.Context, frame vision.Frame) (vision.Identification, error)
}

// GazeEstimator locates the pupils and the looking direction.
type GazeEstimator interface {
	Estimate(ctx context.Context, frame vision.Frame) (vision.GazeReading, error)
}

// HandDetector finds hand landmarks. An empty result is a recognition miss.
type HandDetector interface {
	Detect(ctx context.Context, frame vision.Frame) ([]vision.HandLandmarks, error)
}

// GestureClassifier maps a landmark feature vector onto a class index of the
// active gesture vocabulary. ok is false when the classifier abstains.
type GestureClassifier interface {
	Classify(ctx context.Context, features []float64) (class int, ok bool, err error)
}

// ObjectDetector returns the objects found in frame.
type ObjectDetector interface {
	DetectObjects(ctx context.Context, frame vision.Frame) ([]vision.Detection, error)
}

// EmotionEstimator returns the dominant facial emotion in frame.
type EmotionEstimator interface {
	EstimateEmotion(ctx context.Context, frame vision.Frame) (label string, ok bool, err error)
}

// Recognizers bundles every capability the fusion loop consumes.
type Recognizers struct {
	Gaze     GazeEstimator
	Hands    HandDetector
	Gestures GestureClassifier
	Objects  ObjectDetector
	Emotions EmotionEstimator
}
