package session

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/report"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/protocol"
)

var (
	ErrNotAuthenticated    = errors.New("session not authenticated")
	ErrIdentityAlreadySent = errors.New("identity already sent")
	ErrReportOutOfOrder    = errors.New("teacher report must directly follow a teacher identity")
	ErrClosed              = errors.New("session channel closed")
)

type channelState int

const (
	stateConnected channelState = iota
	stateIdentified
	stateClosed
)

// Channel is the only writer to the client connection. It enforces the wire
// order: one Identity first, an optional TeacherReport right after a Teacher
// identity, then sensor events.
type Channel struct {
	mu          sync.Mutex
	enc         *protocol.Encoder
	closer      io.Closer
	state       channelState
	role        user.Role
	sent        int
	reportReady bool
}

// NewChannel wraps the client connection.
func NewChannel(conn io.WriteCloser) *Channel {
	return &Channel{enc: protocol.NewEncoder(conn), closer: conn}
}

// SendIdentity announces the verified role. It succeeds once.
func (c *Channel) SendIdentity(role user.Role) error {
	return c.Send(protocol.Identity(role))
}

// SendTeacherReport sends the report directly after a Teacher identity.
func (c *Channel) SendTeacherReport(r *report.Report) error {
	return c.Send(protocol.TeacherReport(r))
}

// Send writes e if the session state allows it.
func (c *Channel) Send(e protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return ErrClosed
	}

	switch {
	case e.Kind == protocol.KindIdentity:
		if c.state != stateConnected {
			return ErrIdentityAlreadySent
		}
	case e.Kind == protocol.KindTeacherReport:
		if c.state != stateIdentified {
			return ErrNotAuthenticated
		}
		if !c.reportReady {
			return ErrReportOutOfOrder
		}
	case protocol.IsSensor(e.Kind):
		if c.state != stateIdentified {
			return fmt.Errorf("%w: cannot send %s", ErrNotAuthenticated, e.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownKind, e.Kind)
	}

	if err := c.enc.Send(e); err != nil {
		if errors.Is(err, protocol.ErrTransport) {
			c.state = stateClosed
		}
		return err
	}

	c.sent++
	c.reportReady = false
	if e.Kind == protocol.KindIdentity {
		c.state = stateIdentified
		c.role = user.Role(e.Label)
		c.reportReady = c.role == user.Teacher
	}
	return nil
}

// Sent returns the number of events written so far.
func (c *Channel) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// Close closes the connection. Further sends fail with ErrClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer == nil {
		return nil
	}
	c.state = stateClosed
	closer := c.closer
	c.closer = nil
	return closer.Close()
}
