// Package auth resolves who is standing in front of the kiosk. A face match is
// only trusted once the person's paired device is seen connected.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/presence"
	visionsvc "github.com/zhouzirui/habitat-kiosk/backend/internal/service/vision"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/worker"
)

// State is the authentication state machine position.
type State string

const (
	AwaitingFrame State = "awaiting_frame"
	Resolving     State = "resolving"
	Verified      State = "verified"
)

// ErrCaptureFailed wraps the frame source error that ended authentication.
var ErrCaptureFailed = errors.New("capture failed during authentication")

// Config tunes the authenticator.
type Config struct {
	// Timeout bounds the whole authentication. Zero waits for a person forever.
	Timeout time.Duration
	// RecognizerTimeout bounds a single face resolution. Zero waits forever.
	RecognizerTimeout time.Duration
	// OnState, when set, observes every transition.
	OnState func(State)
}

// Authenticator drives repeated identity resolution until a verified identity
// is obtained.
type Authenticator struct {
	frames   visionsvc.FrameSource
	faces    visionsvc.FaceResolver
	users    user.Lister
	presence presence.Source
	slot     *worker.Slot
	cfg      Config
}

// New returns an authenticator.
func New(frames visionsvc.FrameSource, faces visionsvc.FaceResolver, users user.Lister, devices presence.Source, cfg Config) *Authenticator {
	return &Authenticator{
		frames:   frames,
		faces:    faces,
		users:    users,
		presence: devices,
		slot:     worker.NewSlot("face", cfg.RecognizerTimeout),
		cfg:      cfg,
	}
}

// Authenticate blocks until a recognized face is corroborated by a connected
// device, the context ends, or the frame source fails. Recognition misses,
// recognizer errors and presence mismatches all start a new round.
func (a *Authenticator) Authenticate(ctx context.Context) (user.Identity, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return user.Identity{}, fmt.Errorf("authenticate: %w", err)
		}
		a.enter(AwaitingFrame)

		frame, err := a.frames.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return user.Identity{}, fmt.Errorf("authenticate: %w", ctx.Err())
			}
			return user.Identity{}, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		}

		candidate, ok := a.resolve(ctx, frame)
		if !ok {
			continue
		}

		a.enter(Resolving)
		identity, ok := a.corroborate(ctx, candidate)
		if !ok {
			log.Printf("[auth] round %d: %s recognized but no paired device connected", round, candidate)
			continue
		}

		a.enter(Verified)
		log.Printf("[auth] authenticated via presence and face: %s (%s)", identity.Name, identity.Role)
		return identity, nil
	}
}

func (a *Authenticator) resolve(ctx context.Context, frame vision.Frame) (string, bool) {
	result, err := worker.Join(ctx, a.slot, func(ctx context.Context) (vision.Identification, error) {
		return a.faces.Identify(ctx, frame)
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[auth] face resolution failed for frame %d: %v", frame.Seq, err)
		}
		return "", false
	}
	if result.Status != vision.Recognized || result.Name == "" {
		log.Printf("[auth] %s", result)
		return "", false
	}
	log.Printf("[auth] detected user: %s", result.Name)
	return result.Name, true
}

func (a *Authenticator) corroborate(ctx context.Context, candidate string) (user.Identity, bool) {
	users, err := a.users.ListUsers(ctx)
	if err != nil {
		log.Printf("[auth] list users failed: %v", err)
		return user.Identity{}, false
	}

	devices, err := a.presence.ConnectedDevices(ctx)
	if err != nil {
		log.Printf("[presence] list connected devices failed: %v", err)
		return user.Identity{}, false
	}

	return presence.Verify(candidate, users, devices)
}

func (a *Authenticator) enter(state State) {
	if a.cfg.OnState != nil {
		a.cfg.OnState(state)
	}
}
