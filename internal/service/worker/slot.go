// Package worker isolates slow recognizer calls on short-lived goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

var (
	// ErrBusy is returned while an abandoned call still occupies the slot.
	ErrBusy = errors.New("worker slot busy")
	// ErrTimeout is returned when a call outlives the slot timeout.
	ErrTimeout = errors.New("worker call timed out")
)

// Slot runs one recognizer call at a time on a background goroutine and lets
// the caller block until it finishes. A zero timeout waits forever; the
// caller's context still ends the wait.
type Slot struct {
	name    string
	timeout time.Duration
	sem     chan struct{}
}

// NewSlot returns a slot identified by name in errors and logs.
func NewSlot(name string, timeout time.Duration) *Slot {
	return &Slot{
		name:    name,
		timeout: timeout,
		sem:     make(chan struct{}, 1),
	}
}

type result[T any] struct {
	value T
	err   error
}

// Join dispatches fn and waits for its result. If the wait is abandoned
// (timeout or cancellation) the goroutine keeps the slot until fn returns, so
// later calls fail fast with ErrBusy instead of piling up.
func Join[T any](ctx context.Context, s *Slot, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case s.sem <- struct{}{}:
	default:
		return zero, fmt.Errorf("%s: %w", s.name, ErrBusy)
	}

	callCtx := ctx
	cancel := func() {}
	if s.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		var res result[T]
		func() {
			defer func() {
				if r := recover(); r != nil {
					res = result[T]{err: fmt.Errorf("%s: recognizer panic: %v\n%s", s.name, r, debug.Stack())}
				}
			}()
			res.value, res.err = fn(callCtx)
		}()

		// Release before publishing so a sequential caller finds the slot free.
		<-s.sem
		done <- res
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-callCtx.Done():
		select {
		case res := <-done:
			return res.value, res.err
		default:
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%s: %w after %s", s.name, ErrTimeout, s.timeout)
	}
}

// Sleep waits for d or until ctx ends. A non-positive d only reports ctx.Err.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
