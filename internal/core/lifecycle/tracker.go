// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Tracker holds lifecycle state plus the background goroutines and async
// errors of one component run.
type Tracker struct {
	state atomic.Int32

	mu      sync.Mutex
	lastErr error
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  chan struct{}
	errCh  chan error
}

// NewTracker returns a Tracker in StateCreated.
func NewTracker() *Tracker {
	t := &Tracker{
		ready: make(chan struct{}),
		errCh: make(chan error, 1),
	}
	t.state.Store(int32(StateCreated))
	return t
}

// State returns the current state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// IsRunning reports whether the component is serving.
func (t *Tracker) IsRunning() bool {
	return t.State() == StateRunning
}

// Err delivers asynchronous failures. It is closed by Stopped.
func (t *Tracker) Err() <-chan error {
	return t.errCh
}

// LastError returns the error that moved the tracker to StateFailed.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Context is canceled when stopping begins or the tracker fails.
// It is nil before Begin succeeds.
func (t *Tracker) Context() context.Context {
	return t.ctx
}

// Begin moves created → starting. A canceled ctx fails the tracker.
func (t *Tracker) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("context canceled before start: %w", err)
		t.Fail(err)
		return err
	}
	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start in state %s", t.State())
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return nil
}

// Ready moves starting → running and releases WaitForReady callers.
func (t *Tracker) Ready() {
	if t.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(t.ready)
	}
}

// Fail records err and moves to StateFailed.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()

	t.state.Store(int32(StateFailed))
	if t.cancel != nil {
		t.cancel()
	}
	t.Report(err)
}

// BeginStop moves starting or running → stopping. It returns false when
// there is nothing to stop; a never-started tracker goes straight to
// StateStopped.
func (t *Tracker) BeginStop() bool {
	for {
		cur := t.State()
		switch cur {
		case StateCreated:
			if t.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if t.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				if t.cancel != nil {
					t.cancel()
				}
				return true
			}
		default:
			return false
		}
	}
}

// Stopped waits for tracked goroutines, marks the tracker stopped and
// closes the error channel. A failed tracker keeps StateFailed.
func (t *Tracker) Stopped() {
	t.wg.Wait()
	t.state.CompareAndSwap(int32(StateStopping), int32(StateStopped))
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.errCh)
	}
}

// Go runs fn on a tracked goroutine.
func (t *Tracker) Go(fn func()) {
	t.wg.Go(fn)
}

// Report sends err to Err without blocking; it is dropped when a prior
// error is still unread.
func (t *Tracker) Report(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.errCh <- err:
	default:
	}
}

// WaitForReady blocks until Ready or ctx is done.
func (t *Tracker) WaitForReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ready: %w", ctx.Err())
	}
}
