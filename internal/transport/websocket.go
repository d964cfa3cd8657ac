package transport

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketListener is an http.Handler whose first successful upgrade becomes
// the session's client. Later upgrade attempts get 409 Conflict.
type WebSocketListener struct {
	upgrader websocket.Upgrader
	addr     string

	mu       sync.Mutex
	taken    bool
	handed   bool
	closed   bool
	accepted chan Conn
	done     chan struct{}
}

// NewWebSocketListener returns a listener. addr is informational and names
// the HTTP server the handler is mounted on.
func NewWebSocketListener(addr string) *WebSocketListener {
	return &WebSocketListener{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		accepted: make(chan Conn, 1),
		done:     make(chan struct{}),
	}
}

// Addr returns the HTTP address the handler is served from.
func (l *WebSocketListener) Addr() string {
	return l.addr
}

// ServeHTTP upgrades the first client.
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	}
	if l.taken {
		l.mu.Unlock()
		http.Error(w, "a client is already connected", http.StatusConflict)
		return
	}
	l.taken = true
	l.mu.Unlock()

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		l.mu.Lock()
		l.taken = false
		l.mu.Unlock()
		return
	}

	conn := newWSConn(ws)
	log.Printf("[transport] connected to websocket client at %s", conn.RemoteAddr())
	l.accepted <- conn
}

// Accept waits for the first upgrade.
func (l *WebSocketListener) Accept(ctx context.Context) (Conn, error) {
	l.mu.Lock()
	if l.handed {
		l.mu.Unlock()
		return nil, ErrAlreadyAccepted
	}
	l.mu.Unlock()

	select {
	case conn := <-l.accepted:
		l.mu.Lock()
		l.handed = true
		l.mu.Unlock()
		return conn, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close rejects further upgrades.
func (l *WebSocketListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	return nil
}

type wsConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{ws: ws, closed: make(chan struct{})}
	go c.drain()
	return c
}

// drain 持续读取以处理控制帧；客户端不发送业务消息。
func (c *wsConn) drain() {
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			c.once.Do(func() { close(c.closed) })
			return
		}
	}
}

// Write sends each line of p as one text message without its terminator.
func (c *wsConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return 0, websocket.ErrCloseSent
	default:
	}

	for _, line := range bytes.Split(bytes.TrimSuffix(p, []byte{'\n'}), []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
