package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestTCPListenerAcceptsExactlyOneClient(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr()

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := ln.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer conn.Close()

	if conn.RemoteAddr() == "" {
		t.Fatal("expected remote address")
	}
	if _, err := conn.Write([]byte("Identity:Kid\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil || line != "Identity:Kid\n" {
		t.Fatalf("unexpected line %q err=%v", line, err)
	}

	if _, err := ln.Accept(ctx); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
	if second, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		second.Close()
		t.Fatal("listening socket must be closed after the first accept")
	}
}

func TestTCPListenerAcceptHonoursContext(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := ln.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("close after cancel: %v", err)
	}
}

func TestTCPListenerClosedBeforeAccept(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_ = ln.Close()
	if _, err := ln.Accept(context.Background()); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("expected ErrListenerClosed, got %v", err)
	}
}
