package util //nolint:revive // package name util hosts small shared concurrency helpers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status tags how a bounded call ended.
type Status int

const (
	// StatusOK means fn returned without error before the deadline.
	StatusOK Status = iota
	// StatusTimedOut means the deadline passed first.
	StatusTimedOut
	// StatusFailed means fn returned an error, or the parent context was canceled.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimedOut:
		return "timeout"
	case StatusFailed:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the tagged result of Within.
type Outcome[T any] struct {
	Status Status
	Value  T
	Err    error
}

// OK reports whether the call finished successfully in time.
func (o Outcome[T]) OK() bool { return o.Status == StatusOK }

// ErrTimedOut is recorded in Outcome.Err when the deadline wins.
var ErrTimedOut = errors.New("operation timed out")

type result[T any] struct {
	val T
	err error
}

// Within runs fn with a context bounded by d and returns as soon as fn finishes
// or the deadline passes, whichever is first. fn keeps running in the background
// if it ignores its context; its late result is dropped.
func Within[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) Outcome[T] {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(cctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return settle(ctx, r)
	case <-cctx.Done():
		return expired(ctx, done)
	}
}

func settle[T any](ctx context.Context, r result[T]) Outcome[T] {
	switch {
	case r.err == nil:
		return Outcome[T]{Status: StatusOK, Value: r.val}
	case errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil:
		return Outcome[T]{Status: StatusTimedOut, Err: ErrTimedOut}
	default:
		return Outcome[T]{Status: StatusFailed, Err: r.err}
	}
}

// expired decides the outcome once the bounded context is done. A result
// that is already waiting wins over the deadline.
func expired[T any](ctx context.Context, done <-chan result[T]) Outcome[T] {
	select {
	case r := <-done:
		return settle(ctx, r)
	default:
	}
	if ctx.Err() != nil {
		return Outcome[T]{Status: StatusFailed, Err: ctx.Err()}
	}
	return Outcome[T]{Status: StatusTimedOut, Err: ErrTimedOut}
}

// WithinErr is Within for calls that only return an error.
func WithinErr(ctx context.Context, d time.Duration, fn func(context.Context) error) Outcome[struct{}] {
	return Within(ctx, d, func(c context.Context) (struct{}, error) {
		return struct{}{}, fn(c)
	})
}
