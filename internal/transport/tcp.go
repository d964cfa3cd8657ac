package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

// TCPListener accepts a single TCP client and then stops listening.
type TCPListener struct {
	ln       net.Listener
	mu       sync.Mutex
	accepted bool
	closed   bool
}

// ListenTCP binds addr.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	log.Printf("[transport] socket server started on %s, waiting for connection...", ln.Addr())
	return &TCPListener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

// Accept waits for the client. The listening socket is closed as soon as one
// connection is accepted, so later dial attempts are refused.
func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	l.mu.Lock()
	if l.accepted {
		l.mu.Unlock()
		return nil, ErrAlreadyAccepted
	}
	if l.closed {
		l.mu.Unlock()
		return nil, ErrListenerClosed
	}
	l.accepted = true
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	conn, err := l.ln.Accept()
	stop()
	_ = l.Close()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, fmt.Errorf("accept: %w", err)
	}

	log.Printf("[transport] connected to client at %s", conn.RemoteAddr())
	return tcpConn{Conn: conn}, nil
}

// Close stops listening. It is safe to call more than once.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

type tcpConn struct {
	net.Conn
}

func (c tcpConn) RemoteAddr() string {
	return c.Conn.RemoteAddr().String()
}
