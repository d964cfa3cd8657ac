// Package session sequences one kiosk session over the single accepted client
// connection: authenticate, stream sensor events, then persist the summary.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/analysis/emotion"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/analysis/heatmap"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/report"
	model "github.com/zhouzirui/habitat-kiosk/backend/internal/model/session"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/auth"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/fusion"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/presence"
	visionsvc "github.com/zhouzirui/habitat-kiosk/backend/internal/service/vision"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/worker"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/transport"
)

// closeTimeout bounds persistence at session close, which runs even after the
// process context is cancelled.
const closeTimeout = 10 * time.Second

// Directory is the user and summary store the session reads and writes.
type Directory interface {
	user.Lister
	ListSummaries(ctx context.Context) ([]report.Row, error)
	SaveSummary(ctx context.Context, summary model.Summary) error
}

// GazeLog is the per-session gaze observation store.
type GazeLog interface {
	Reset() error
	Append(vision.GazeObservation) error
	ReadAll() ([]vision.GazeObservation, error)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Listener    transport.Listener
	Frames      visionsvc.FrameSource
	Faces       visionsvc.FaceResolver
	Recognizers visionsvc.Recognizers
	Presence    presence.Source
	Directory   Directory
	Gaze        GazeLog
}

// Config tunes the session.
type Config struct {
	PostAuthDelay time.Duration
	HeatmapPath   string
	Heatmap       heatmap.Options
	Auth          auth.Config
	Fusion        fusion.Config
}

// Outcome describes a finished session.
type Outcome struct {
	ID       string
	Identity user.Identity
	Fusion   fusion.Result
	Summary  *model.Summary
}

// Runner owns the single session of the process.
type Runner struct {
	deps Deps
	cfg  Config

	mu       sync.RWMutex
	snapshot *model.Snapshot
	heatmap  string
}

// NewRunner returns a runner.
func NewRunner(deps Deps, cfg Config) *Runner {
	return &Runner{deps: deps, cfg: cfg}
}

// Run accepts the client and drives the session to completion. The returned
// error is non-nil only when the session could not reach the streaming phase.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	if r.deps.Gaze != nil {
		if err := r.deps.Gaze.Reset(); err != nil {
			log.Printf("[store] reset gaze log failed: %v", err)
		}
	}
	defer r.deps.Listener.Close()

	conn, err := r.deps.Listener.Accept(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("accept client: %w", err)
	}

	out := Outcome{ID: uuid.NewString()}
	r.setSnapshot(model.Snapshot{
		ID:         out.ID,
		Phase:      model.PhaseAuthenticating,
		Role:       user.Unknown,
		RemoteAddr: conn.RemoteAddr(),
		StartedAt:  time.Now().UTC(),
	})
	log.Printf("[session] %s started for client %s", out.ID, conn.RemoteAddr())

	channel := NewChannel(conn)
	defer r.finish(out.ID, channel)

	identity, err := r.authenticate(ctx, channel)
	if err != nil {
		return out, err
	}
	out.Identity = identity

	if err := worker.Sleep(ctx, r.cfg.PostAuthDelay); err != nil {
		return out, fmt.Errorf("post auth delay: %w", err)
	}

	r.update(func(s *model.Snapshot) { s.Phase = model.PhaseStreaming })

	fusionCfg := r.cfg.Fusion
	onEmotion := fusionCfg.OnEmotion
	fusionCfg.OnEmotion = func(label emotion.Label) {
		r.update(func(s *model.Snapshot) { s.BufferedEmotions++ })
		if onEmotion != nil {
			onEmotion(label)
		}
	}

	var gaze fusion.GazeRecorder
	if r.deps.Gaze != nil {
		gaze = r.deps.Gaze
	}
	loop := fusion.New(r.deps.Frames, r.deps.Recognizers, channel, gaze, fusionCfg)
	out.Fusion = loop.Run(ctx, identity.Role)
	log.Printf("[session] %s fusion stopped: %s after %d frames", out.ID, out.Fusion.Reason, out.Fusion.Frames)

	r.update(func(s *model.Snapshot) { s.Phase = model.PhaseClosing })
	out.Summary = r.aggregate(context.WithoutCancel(ctx), identity, out.Fusion.Emotions)
	return out, nil
}

func (r *Runner) authenticate(ctx context.Context, channel *Channel) (user.Identity, error) {
	authCfg := r.cfg.Auth
	authn := auth.New(r.deps.Frames, r.deps.Faces, r.deps.Directory, r.deps.Presence, authCfg)

	identity, err := authn.Authenticate(ctx)
	if err != nil {
		return user.Identity{}, fmt.Errorf("authenticate: %w", err)
	}

	r.update(func(s *model.Snapshot) {
		s.Role = identity.Role
		s.UserID = identity.UserID
		s.Username = identity.Name
	})

	if err := channel.SendIdentity(identity.Role); err != nil {
		return identity, fmt.Errorf("send identity: %w", err)
	}
	log.Printf("[session] sent Identity: %s", identity.Role)

	if identity.Role == user.Teacher {
		r.sendTeacherReport(ctx, channel)
	}
	return identity, nil
}

func (r *Runner) sendTeacherReport(ctx context.Context, channel *Channel) {
	rows, err := r.deps.Directory.ListSummaries(ctx)
	if err != nil {
		log.Printf("[store] fetch teacher report failed: %v", err)
		return
	}
	rep := report.FromRows(rows)
	if err := channel.SendTeacherReport(rep); err != nil {
		log.Printf("[session] send teacher report failed: %v", err)
		return
	}
	log.Printf("[session] sent TeacherReport with %d users", rep.Len())
}

// aggregate persists the Kid summary and renders the gaze heatmap. An empty
// emotion buffer skips both.
func (r *Runner) aggregate(ctx context.Context, identity user.Identity, emotions []emotion.Label) *model.Summary {
	if identity.Role != user.Kid {
		return nil
	}

	dominant, ok := emotion.Dominant(emotions)
	if !ok {
		log.Printf("[session] no emotions buffered for %s, skipping summary", identity.Name)
		return nil
	}

	summary := model.Summary{UserID: identity.UserID, DominantEmotion: dominant}
	log.Printf("[session] saving average emotion %s for %s", dominant, identity.Name)

	saveCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := r.deps.Directory.SaveSummary(saveCtx, summary); err != nil {
		log.Printf("[store] save summary failed: %v", err)
	}

	r.renderHeatmap()
	return &summary
}

func (r *Runner) renderHeatmap() {
	if r.deps.Gaze == nil || r.cfg.HeatmapPath == "" {
		return
	}
	obs, err := r.deps.Gaze.ReadAll()
	if err != nil {
		log.Printf("[heatmap] read gaze log failed: %v", err)
		return
	}
	if err := heatmap.Generate(r.cfg.HeatmapPath, obs, r.cfg.Heatmap); err != nil {
		if errors.Is(err, heatmap.ErrNoData) {
			log.Printf("[heatmap] gaze log is empty, no heatmap to generate")
			return
		}
		log.Printf("[heatmap] generate failed: %v", err)
		return
	}

	r.mu.Lock()
	r.heatmap = r.cfg.HeatmapPath
	r.mu.Unlock()
	log.Printf("[heatmap] generated %s from %d observations", r.cfg.HeatmapPath, len(obs))
}

func (r *Runner) finish(id string, channel *Channel) {
	if err := channel.Close(); err != nil {
		log.Printf("[session] close client connection: %v", err)
	}
	r.update(func(s *model.Snapshot) { s.Phase = model.PhaseClosed })
	log.Printf("[session] %s closed", id)
}

// Snapshot returns the current session state. ok is false before a client
// has connected.
func (r *Runner) Snapshot() (model.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snapshot == nil {
		return model.Snapshot{}, false
	}
	return *r.snapshot, true
}

// HeatmapPath returns the path of the heatmap generated by this process, if
// any.
func (r *Runner) HeatmapPath() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.heatmap, r.heatmap != ""
}

func (r *Runner) setSnapshot(s model.Snapshot) {
	r.mu.Lock()
	r.snapshot = &s
	r.mu.Unlock()
}

func (r *Runner) update(fn func(*model.Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot != nil {
		fn(r.snapshot)
	}
}
