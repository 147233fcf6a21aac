package gate

import (
	"context"
	"sync/atomic"
)

// initializer runs a piece of one-time startup work eagerly in the
// background and lets any number of requests await its completion. All
// callers that arrive before completion share the same underlying wait; no
// work is ever duplicated. After the first post-completion observation an
// atomic flag short-circuits ready so the steady-state path never touches
// the channel again.
type initializer struct {
	done     chan struct{}
	resolved atomic.Bool
	err      error
}

// newInitializer starts run immediately in its own goroutine.
func newInitializer(run func(context.Context) error) *initializer {
	in := &initializer{done: make(chan struct{})}
	go func() {
		in.err = run(context.Background())
		close(in.done)
	}()
	return in
}

// ready blocks until the startup work completes, then returns its error.
// A canceled context unblocks the caller without consuming the result;
// later callers still observe the completion normally.
func (in *initializer) ready(ctx context.Context) error {
	if in.resolved.Load() {
		return in.err
	}
	select {
	case <-in.done:
		in.resolved.Store(true)
		return in.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
