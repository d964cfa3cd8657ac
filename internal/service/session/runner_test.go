package session

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/analysis/emotion"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/report"
	model "github.com/zhouzirui/habitat-kiosk/backend/internal/model/session"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/protocol"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/presence"
	visionsvc "github.com/zhouzirui/habitat-kiosk/backend/internal/service/vision"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/storage/gazelog"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/transport"
)

type pipeConn struct {
	net.Conn
}

func (p pipeConn) RemoteAddr() string { return "pipe" }

type pipeListener struct {
	conn   transport.Conn
	closed bool
}

func (l *pipeListener) Accept(ctx context.Context) (transport.Conn, error) {
	if l.conn == nil {
		return nil, transport.ErrAlreadyAccepted
	}
	c := l.conn
	l.conn = nil
	return c, nil
}

func (l *pipeListener) Addr() string { return "pipe" }
func (l *pipeListener) Close() error { l.closed = true; return nil }

type countedFrames struct {
	mu   sync.Mutex
	left int
	seq  uint64
}

func (f *countedFrames) Next(ctx context.Context) (vision.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.left == 0 {
		return vision.Frame{}, io.EOF
	}
	f.left--
	f.seq++
	return vision.Frame{Seq: f.seq}, nil
}

type nameFace string

func (n nameFace) Identify(ctx context.Context, frame vision.Frame) (vision.Identification, error) {
	return vision.Identification{Status: vision.Recognized, Name: string(n)}, nil
}

type memoryDirectory struct {
	*user.MemoryStore
	mu      sync.Mutex
	rows    []report.Row
	saved   []model.Summary
	saveErr error
}

func (d *memoryDirectory) ListSummaries(ctx context.Context) ([]report.Row, error) {
	return append([]report.Row(nil), d.rows...), nil
}

func (d *memoryDirectory) SaveSummary(ctx context.Context, s model.Summary) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saveErr != nil {
		return d.saveErr
	}
	d.saved = append(d.saved, s)
	return nil
}

type scriptedSensors struct {
	mu       sync.Mutex
	emotions []string
	calls    int
	classes  []int
	classIdx int
}

func (s *scriptedSensors) EstimateEmotion(ctx context.Context, frame vision.Frame) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.emotions) {
		return "", false, nil
	}
	label := s.emotions[s.calls]
	s.calls++
	return label, true, nil
}

func (s *scriptedSensors) Estimate(ctx context.Context, frame vision.Frame) (vision.GazeReading, error) {
	p := &vision.Point{X: float64(frame.Seq), Y: float64(frame.Seq) * 2}
	return vision.GazeReading{Direction: vision.LookingCenter, LeftPupil: p, RightPupil: p}, nil
}

func (s *scriptedSensors) Detect(ctx context.Context, frame vision.Frame) ([]vision.HandLandmarks, error) {
	return []vision.HandLandmarks{{Landmarks: []vision.Landmark{{X: 0.5, Y: 0.5}}}}, nil
}

func (s *scriptedSensors) Classify(ctx context.Context, features []float64) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classIdx >= len(s.classes) {
		return 0, false, nil
	}
	c := s.classes[s.classIdx]
	s.classIdx++
	return c, true, nil
}

type harness struct {
	runner   *Runner
	dir      *memoryDirectory
	listener *pipeListener
	client   net.Conn
	heatmap  string
}

func newHarness(t *testing.T, face string, frames int, rec visionsvc.Recognizers) *harness {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	tmp := t.TempDir()
	dir := &memoryDirectory{MemoryStore: user.NewMemoryStore(user.Seed())}
	listener := &pipeListener{conn: pipeConn{Conn: server}}
	heatmapPath := filepath.Join(tmp, "heatmap.png")

	runner := NewRunner(Deps{
		Listener:    listener,
		Frames:      &countedFrames{left: frames},
		Faces:       nameFace(face),
		Recognizers: rec,
		Presence: presence.StaticSource{Devices: []presence.Device{
			{Address: "CC:6B:1E:80:F5:85"},
			{Address: "24:5E:48:D6:C5:C6"},
		}},
		Directory: dir,
		Gaze:      gazelog.New(filepath.Join(tmp, "gaze.csv")),
	}, Config{HeatmapPath: heatmapPath})

	return &harness{runner: runner, dir: dir, listener: listener, client: client, heatmap: heatmapPath}
}

// readAll collects every event until the server closes the connection.
func readAll(t *testing.T, conn net.Conn) <-chan []protocol.Event {
	t.Helper()
	out := make(chan []protocol.Event, 1)
	go func() {
		dec := protocol.NewDecoder(conn)
		var events []protocol.Event
		for {
			e, err := dec.Next()
			if err != nil {
				out <- events
				return
			}
			events = append(events, e)
		}
	}()
	return out
}

func run(t *testing.T, h *harness) (Outcome, []protocol.Event, error) {
	t.Helper()
	events := readAll(t, h.client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := h.runner.Run(ctx)
	select {
	case got := <-events:
		return out, got, err
	case <-time.After(5 * time.Second):
		t.Fatal("client never saw the connection close")
		return out, nil, err
	}
}

func TestKidSessionPersistsDominantEmotion(t *testing.T) {
	sensors := &scriptedSensors{emotions: []string{"sad", "happy", "sad", "angry"}}
	rec := visionsvc.Recognizers{Gaze: sensors, Emotions: sensors}
	h := newHarness(t, "noha", 5, rec)

	out, events, err := run(t, h)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(events) != 1 || events[0].Kind != protocol.KindIdentity || events[0].Label != "Kid" {
		t.Fatalf("expected only Identity:Kid, got %+v", events)
	}
	if out.Identity.Name != "noha" || out.Fusion.Frames != 4 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	want := model.Summary{UserID: 1, DominantEmotion: emotion.Sad}
	if out.Summary == nil || *out.Summary != want {
		t.Fatalf("unexpected summary: %+v", out.Summary)
	}
	if len(h.dir.saved) != 1 || h.dir.saved[0] != want {
		t.Fatalf("expected one saved summary, got %+v", h.dir.saved)
	}

	if _, err := os.Stat(h.heatmap); err != nil {
		t.Fatalf("expected heatmap at close: %v", err)
	}
	if path, ok := h.runner.HeatmapPath(); !ok || path != h.heatmap {
		t.Fatalf("runner must report the heatmap, got %q %v", path, ok)
	}

	snap, ok := h.runner.Snapshot()
	if !ok || snap.Phase != model.PhaseClosed || snap.Role != user.Kid || snap.BufferedEmotions != 4 || snap.ID != out.ID {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !h.listener.closed {
		t.Fatal("listener must be closed after the session")
	}
}

func TestKidSessionWithoutEmotionsSkipsSummary(t *testing.T) {
	sensors := &scriptedSensors{}
	h := newHarness(t, "noha", 3, visionsvc.Recognizers{Emotions: sensors})

	out, _, err := run(t, h)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Summary != nil || len(h.dir.saved) != 0 {
		t.Fatalf("no summary may be written, got %+v / %+v", out.Summary, h.dir.saved)
	}
	if _, err := os.Stat(h.heatmap); !os.IsNotExist(err) {
		t.Fatalf("no heatmap expected, stat err=%v", err)
	}
}

func TestKidSessionSurvivesPersistenceFailure(t *testing.T) {
	sensors := &scriptedSensors{emotions: []string{"happy"}}
	h := newHarness(t, "noha", 2, visionsvc.Recognizers{Emotions: sensors})
	h.dir.saveErr = errors.New("database is locked")

	out, _, err := run(t, h)
	if err != nil {
		t.Fatalf("persistence errors must not fail the session: %v", err)
	}
	if out.Summary == nil || out.Summary.DominantEmotion != emotion.Happy {
		t.Fatalf("unexpected summary: %+v", out.Summary)
	}
}

func TestTeacherSessionSendsReportThenReportTypes(t *testing.T) {
	sensors := &scriptedSensors{classes: []int{0, 4}, emotions: []string{"happy"}}
	rec := visionsvc.Recognizers{Hands: sensors, Gestures: sensors, Emotions: sensors}
	h := newHarness(t, "seif", 3, rec)
	h.dir.rows = []report.Row{
		{UserID: 1, DominantEmotion: "sad", Username: "noha"},
		{UserID: 2, DominantEmotion: "happy", Username: "youssef"},
		{UserID: 1, DominantEmotion: "angry", Username: "noha"},
	}

	out, events, err := run(t, h)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %+v", events)
	}
	if events[0].Kind != protocol.KindIdentity || events[0].Label != "Teacher" {
		t.Fatalf("Identity must come first, got %s", events[0])
	}
	if events[1].Kind != protocol.KindTeacherReport {
		t.Fatalf("TeacherReport must follow Identity, got %s", events[1])
	}
	if got := events[1].Report.Usernames(); len(got) != 2 || got[0] != "noha" || got[1] != "youssef" {
		t.Fatalf("unexpected report order: %v", got)
	}
	if v, _ := events[1].Report.Get("noha"); v != "angry" {
		t.Fatalf("latest summary must win, got %q", v)
	}
	if events[2].Label != "HappyKids" || events[3].Label != "AngryKids" {
		t.Fatalf("unexpected report types: %s %s", events[2], events[3])
	}
	if out.Summary != nil || len(h.dir.saved) != 0 {
		t.Fatal("teacher sessions are not summarized")
	}
	if sensors.calls != 0 {
		t.Fatal("teacher sessions do not estimate emotions")
	}
}

func TestSessionWithoutVerifiedIdentitySendsNothing(t *testing.T) {
	h := newHarness(t, "youssef", 3, visionsvc.Recognizers{})

	_, events, err := run(t, h)
	if err == nil {
		t.Fatal("expected authentication error when frames run out")
	}
	if len(events) != 0 {
		t.Fatalf("no event may be sent without a verified identity, got %+v", events)
	}
	snap, ok := h.runner.Snapshot()
	if !ok || snap.Phase != model.PhaseClosed || snap.Role != user.Unknown {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSnapshotBeforeAccept(t *testing.T) {
	r := NewRunner(Deps{}, Config{})
	if _, ok := r.Snapshot(); ok {
		t.Fatal("no snapshot before a client connects")
	}
	if _, ok := r.HeatmapPath(); ok {
		t.Fatal("no heatmap before a session closes")
	}
}
