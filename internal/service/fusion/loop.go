// Package fusion runs the per-frame sensor pipeline after a person has been
// authenticated and turns recognizer output into protocol events.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/analysis/emotion"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/protocol"
	visionsvc "github.com/zhouzirui/habitat-kiosk/backend/internal/service/vision"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/worker"
)

// Emitter sends one event to the presentation client.
type Emitter interface {
	Send(protocol.Event) error
}

// GazeRecorder persists per-frame gaze observations.
type GazeRecorder interface {
	Append(vision.GazeObservation) error
}

// StopReason tells why the loop ended.
type StopReason string

const (
	StopEndOfStream   StopReason = "end_of_stream"
	StopCancelled     StopReason = "cancelled"
	StopCaptureFailed StopReason = "capture_failed"
	StopTransport     StopReason = "transport_failed"
)

// DefaultMinConfidence is the detector confidence floor for animal events.
const DefaultMinConfidence = 0.25

// Config tunes the loop pacing.
type Config struct {
	GestureDelay      time.Duration
	AnimalCooldown    time.Duration
	RecognizerTimeout time.Duration
	MinConfidence     float64
	// OnEmotion observes every buffered emotion.
	OnEmotion func(emotion.Label)
}

// Result summarizes one run.
type Result struct {
	Frames   int
	Emotions []emotion.Label
	Reason   StopReason
	Err      error
}

// Loop owns the frame source and the emitter for the duration of a session.
type Loop struct {
	frames  visionsvc.FrameSource
	rec     visionsvc.Recognizers
	emitter Emitter
	gaze    GazeRecorder
	cfg     Config
	emotion *worker.Slot
	sleep   func(context.Context, time.Duration) error
}

// New returns a loop. gaze may be nil when observations are not persisted.
func New(frames visionsvc.FrameSource, rec visionsvc.Recognizers, emitter Emitter, gaze GazeRecorder, cfg Config) *Loop {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	return &Loop{
		frames:  frames,
		rec:     rec,
		emitter: emitter,
		gaze:    gaze,
		cfg:     cfg,
		emotion: worker.NewSlot("emotion", cfg.RecognizerTimeout),
		sleep:   worker.Sleep,
	}
}

type session struct {
	role     user.Role
	vocab    Vocabulary
	emotions []emotion.Label
}

// errStop ends the loop from inside a stage.
type errStop struct {
	reason StopReason
	err    error
}

func (e *errStop) Error() string { return fmt.Sprintf("%s: %v", e.reason, e.err) }
func (e *errStop) Unwrap() error { return e.err }

// Run processes frames until the source is exhausted, ctx ends, or the client
// goes away. It never returns an error for a single recognizer failure.
func (l *Loop) Run(ctx context.Context, role user.Role) Result {
	s := &session{role: role, vocab: VocabularyFor(role)}
	result := Result{}

	for {
		if err := ctx.Err(); err != nil {
			return l.finish(result, s, StopCancelled, err)
		}

		frame, err := l.frames.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Printf("[fusion] frame stream ended after %d frames", result.Frames)
				return l.finish(result, s, StopEndOfStream, nil)
			case ctx.Err() != nil:
				return l.finish(result, s, StopCancelled, ctx.Err())
			default:
				log.Printf("[fusion] capture failed: %v", err)
				return l.finish(result, s, StopCaptureFailed, err)
			}
		}
		result.Frames++

		if err := l.processFrame(ctx, s, frame); err != nil {
			var stop *errStop
			if errors.As(err, &stop) {
				return l.finish(result, s, stop.reason, stop.err)
			}
			return l.finish(result, s, StopCancelled, err)
		}
	}
}

func (l *Loop) finish(result Result, s *session, reason StopReason, err error) Result {
	result.Reason = reason
	result.Err = err
	result.Emotions = s.emotions
	return result
}

func (l *Loop) processFrame(ctx context.Context, s *session, frame vision.Frame) error {
	kid := s.role == user.Kid

	if kid {
		l.trackGaze(ctx, frame)
	}

	gestured, err := l.recognizeGesture(ctx, s, frame)
	if err != nil {
		return err
	}

	if kid {
		if err := l.recognizeAnimals(ctx, frame); err != nil {
			return err
		}
		l.recognizeEmotion(ctx, s, frame)
	}

	if gestured {
		if err := l.sleep(ctx, l.cfg.GestureDelay); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) trackGaze(ctx context.Context, frame vision.Frame) {
	defer recoverStage("gaze", frame)

	if l.rec.Gaze == nil {
		return
	}
	reading, err := l.rec.Gaze.Estimate(ctx, frame)
	if err != nil {
		log.Printf("[fusion] gaze estimation failed for frame %d: %v", frame.Seq, err)
		return
	}
	point, ok := reading.Average()
	if !ok || l.gaze == nil {
		return
	}
	obs := vision.GazeObservation{Direction: reading.Direction, X: point.X, Y: point.Y}
	if err := l.gaze.Append(obs); err != nil {
		log.Printf("[store] save gaze observation failed: %v", err)
	}
}

func (l *Loop) recognizeGesture(ctx context.Context, s *session, frame vision.Frame) (bool, error) {
	defer recoverStage("gesture", frame)

	if l.rec.Hands == nil || l.rec.Gestures == nil {
		return false, nil
	}

	hands, err := l.rec.Hands.Detect(ctx, frame)
	if err != nil {
		log.Printf("[fusion] hand detection failed for frame %d: %v", frame.Seq, err)
		return false, nil
	}
	if len(hands) == 0 {
		return false, nil
	}

	class, ok, err := l.rec.Gestures.Classify(ctx, vision.Features(hands))
	if err != nil {
		log.Printf("[fusion] gesture classification failed for frame %d: %v", frame.Seq, err)
		return false, nil
	}
	if !ok {
		return false, nil
	}

	entry, ok := s.vocab.Lookup(class)
	if !ok {
		log.Printf("[fusion] class %d outside %s vocabulary", class, s.role)
		return false, nil
	}

	if err := l.emitter.Send(entry.Event()); err != nil {
		return false, l.sendFailed(ctx, entry.Kind, err)
	}
	log.Printf("[fusion] sent %s: %s", entry.Kind, entry.Label)
	return true, nil
}

func (l *Loop) recognizeAnimals(ctx context.Context, frame vision.Frame) error {
	defer recoverStage("objects", frame)

	if l.rec.Objects == nil {
		return nil
	}

	detections, err := l.rec.Objects.DetectObjects(ctx, frame)
	if err != nil {
		log.Printf("[fusion] object detection failed for frame %d: %v", frame.Seq, err)
		return nil
	}

	for _, det := range detections {
		if det.Confidence < l.cfg.MinConfidence || !vision.IsAnimal(det.Label) {
			continue
		}
		if err := l.emitter.Send(protocol.Animal(det.Label)); err != nil {
			return l.sendFailed(ctx, protocol.KindAnimal, err)
		}
		log.Printf("[fusion] sent %s: %s (%.2f)", protocol.KindAnimal, det.Label, det.Confidence)
		if err := l.sleep(ctx, l.cfg.AnimalCooldown); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) recognizeEmotion(ctx context.Context, s *session, frame vision.Frame) {
	if l.rec.Emotions == nil {
		return
	}

	type estimate struct {
		label string
		ok    bool
	}
	got, err := worker.Join(ctx, l.emotion, func(ctx context.Context) (estimate, error) {
		label, ok, err := l.rec.Emotions.EstimateEmotion(ctx, frame)
		return estimate{label: label, ok: ok}, err
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[fusion] emotion estimation failed for frame %d: %v", frame.Seq, err)
		}
		return
	}
	if !got.ok {
		return
	}

	label, ok := emotion.ParseLabel(got.label)
	if !ok || !emotion.IsTracked(label) {
		return
	}
	s.emotions = append(s.emotions, label)
	if l.cfg.OnEmotion != nil {
		l.cfg.OnEmotion(label)
	}
}

// recoverStage absorbs a recognizer panic so the stage ends as a miss and the
// next frame still runs.
func recoverStage(stage string, frame vision.Frame) {
	if r := recover(); r != nil {
		log.Printf("[fusion] recognizer panic for frame %d in %s stage: %v", frame.Seq, stage, r)
	}
}

func (l *Loop) sendFailed(ctx context.Context, kind protocol.Kind, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Printf("[fusion] send %s failed, stopping: %v", kind, err)
	return &errStop{reason: StopTransport, err: err}
}
