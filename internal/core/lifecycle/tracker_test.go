// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTracker_HappyPath(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if tr.State() != StateCreated {
		t.Fatalf("initial state = %s, want created", tr.State())
	}
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if tr.State() != StateStarting {
		t.Errorf("state = %s, want starting", tr.State())
	}
	if tr.Context() == nil {
		t.Fatal("Context() is nil after Begin")
	}

	tr.Ready()
	if !tr.IsRunning() {
		t.Errorf("state = %s, want running", tr.State())
	}
	if err := tr.WaitForReady(context.Background()); err != nil {
		t.Errorf("WaitForReady() error = %v", err)
	}

	if !tr.BeginStop() {
		t.Fatal("BeginStop() = false on a running tracker")
	}
	if tr.Context().Err() == nil {
		t.Error("context not canceled after BeginStop")
	}
	tr.Stopped()
	if tr.State() != StateStopped {
		t.Errorf("state = %s, want stopped", tr.State())
	}
	if _, ok := <-tr.Err(); ok {
		t.Error("Err() channel still open after Stopped")
	}
}

func TestTracker_Fail(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	boom := errors.New("bind failed")
	tr.Fail(boom)

	if tr.State() != StateFailed {
		t.Errorf("state = %s, want failed", tr.State())
	}
	if !errors.Is(tr.LastError(), boom) {
		t.Errorf("LastError() = %v, want %v", tr.LastError(), boom)
	}
	select {
	case err := <-tr.Err():
		if !errors.Is(err, boom) {
			t.Errorf("Err() delivered %v", err)
		}
	default:
		t.Error("no error delivered on Err()")
	}

	if tr.BeginStop() {
		t.Error("BeginStop() = true on a failed tracker")
	}
	tr.Stopped()
	if tr.State() != StateFailed {
		t.Errorf("Stopped() changed failed state to %s", tr.State())
	}
}

func TestTracker_BeginTwice(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatalf("first Begin() error = %v", err)
	}
	if err := tr.Begin(context.Background()); err == nil {
		t.Error("second Begin() succeeded")
	}
}

func TestTracker_BeginCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewTracker()
	err := tr.Begin(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Begin() error = %v, want context.Canceled", err)
	}
	if tr.State() != StateFailed {
		t.Errorf("state = %s, want failed", tr.State())
	}
}

func TestTracker_StopBeforeStart(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if tr.BeginStop() {
		t.Error("BeginStop() = true before Begin")
	}
	if tr.State() != StateStopped {
		t.Errorf("state = %s, want stopped", tr.State())
	}
	if err := tr.Begin(context.Background()); err == nil {
		t.Error("Begin() succeeded on a stopped tracker")
	}
}

func TestTracker_ConcurrentStop(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr.Ready()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 10 {
		wg.Go(func() {
			if tr.BeginStop() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
			_ = tr.State()
		})
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("BeginStop() won %d times, want 1", wins)
	}
	tr.Stopped()
	tr.Stopped()
}

func TestTracker_GoWaitsOnStopped(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if err := tr.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	tr.Go(func() {
		<-tr.Context().Done()
		time.Sleep(10 * time.Millisecond)
		close(done)
	})
	tr.Ready()
	tr.BeginStop()
	tr.Stopped()

	select {
	case <-done:
	default:
		t.Fatal("Stopped() returned before tracked goroutine finished")
	}
	tr.Report(errors.New("late"))
}

func TestTracker_WaitForReadyTimeout(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tr.WaitForReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForReady() error = %v, want deadline exceeded", err)
	}
}

func TestState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    State
		name     string
		terminal bool
		valid    bool
	}{
		{StateCreated, "created", false, true},
		{StateStarting, "starting", false, true},
		{StateRunning, "running", false, true},
		{StateStopping, "stopping", false, true},
		{StateStopped, "stopped", true, true},
		{StateFailed, "failed", true, true},
		{State(42), "unknown", false, false},
		{State(-1), "unknown", false, false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.name {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.name)
		}
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("State(%d).IsTerminal() = %v", tt.state, got)
		}
		err := tt.state.Validate()
		if tt.valid && err != nil {
			t.Errorf("State(%d).Validate() = %v", tt.state, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidState) {
			t.Errorf("State(%d).Validate() = %v, want ErrInvalidState", tt.state, err)
		}
	}
}
