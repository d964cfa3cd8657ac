// Package transport hands the session exactly one presentation client
// connection, over raw TCP or a websocket.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrAlreadyAccepted is returned once the single client has been handed out.
	ErrAlreadyAccepted = errors.New("client connection already accepted")
	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("listener closed")
)

// Conn is the write side of the client connection. Every Write carries whole
// protocol lines.
type Conn interface {
	io.WriteCloser
	RemoteAddr() string
}

// Listener yields one client connection per process lifetime.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}
