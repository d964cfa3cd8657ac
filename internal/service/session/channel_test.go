package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/report"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/protocol"
)

type bufferConn struct {
	bytes.Buffer
	closed bool
	fail   bool
}

func (b *bufferConn) Write(p []byte) (int, error) {
	if b.fail {
		return 0, errors.New("broken pipe")
	}
	return b.Buffer.Write(p)
}

func (b *bufferConn) Close() error {
	b.closed = true
	return nil
}

func TestChannelRejectsSensorEventsBeforeIdentity(t *testing.T) {
	conn := &bufferConn{}
	ch := NewChannel(conn)

	if err := ch.Send(protocol.Gesture("Rotate")); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if err := ch.SendTeacherReport(report.New()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for report, got %v", err)
	}
	if conn.Len() != 0 {
		t.Fatalf("nothing may reach the wire before Identity, got %q", conn.String())
	}
}

func TestChannelIdentityExactlyOnce(t *testing.T) {
	conn := &bufferConn{}
	ch := NewChannel(conn)

	if err := ch.SendIdentity(user.Kid); err != nil {
		t.Fatalf("send identity: %v", err)
	}
	if err := ch.SendIdentity(user.Kid); !errors.Is(err, ErrIdentityAlreadySent) {
		t.Fatalf("expected ErrIdentityAlreadySent, got %v", err)
	}
	if err := ch.Send(protocol.Animal("zebra")); err != nil {
		t.Fatalf("send animal: %v", err)
	}
	if err := ch.SendTeacherReport(report.New()); !errors.Is(err, ErrReportOutOfOrder) {
		t.Fatalf("kid sessions get no teacher report, got %v", err)
	}

	if got := conn.String(); got != "Identity:Kid\nAnimal:zebra\n" {
		t.Fatalf("unexpected wire: %q", got)
	}
	if ch.Sent() != 2 {
		t.Fatalf("expected 2 sent events, got %d", ch.Sent())
	}
}

func TestChannelTeacherReportDirectlyAfterIdentity(t *testing.T) {
	conn := &bufferConn{}
	ch := NewChannel(conn)
	r := report.New()
	r.Set("alice", "happy")

	if err := ch.SendIdentity(user.Teacher); err != nil {
		t.Fatalf("send identity: %v", err)
	}
	if err := ch.SendTeacherReport(r); err != nil {
		t.Fatalf("send report: %v", err)
	}
	if err := ch.SendTeacherReport(r); !errors.Is(err, ErrReportOutOfOrder) {
		t.Fatalf("second report must be rejected, got %v", err)
	}
	if got := conn.String(); got != "Identity:Teacher\nTeacherReport:{\"alice\": \"happy\"}\n" {
		t.Fatalf("unexpected wire: %q", got)
	}
}

func TestChannelTransportFailureCloses(t *testing.T) {
	conn := &bufferConn{}
	ch := NewChannel(conn)
	if err := ch.SendIdentity(user.Kid); err != nil {
		t.Fatalf("send identity: %v", err)
	}

	conn.fail = true
	if err := ch.Send(protocol.Gesture("Select")); !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	conn.fail = false
	if err := ch.Send(protocol.Gesture("Select")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after a transport failure, got %v", err)
	}

	if err := ch.Close(); err != nil || !conn.closed {
		t.Fatalf("close: %v closed=%v", err, conn.closed)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
}

func TestChannelGuardFollowsSchema(t *testing.T) {
	conn := &bufferConn{}
	ch := NewChannel(conn)

	for _, kind := range protocol.Kinds() {
		if !protocol.IsSensor(kind) {
			continue
		}
		err := ch.Send(protocol.Event{Kind: kind, Label: "Rotate"})
		if !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("%s before identity: expected ErrNotAuthenticated, got %v", kind, err)
		}
	}

	if err := ch.SendIdentity(user.Kid); err != nil {
		t.Fatalf("send identity: %v", err)
	}
	if err := ch.Send(protocol.Event{Kind: "Heartbeat", Label: "x"}); !errors.Is(err, protocol.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if got := conn.String(); got != "Identity:Kid\n" {
		t.Fatalf("rejected events must not reach the wire, got %q", got)
	}
}
