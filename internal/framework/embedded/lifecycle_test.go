// SPDX-License-Identifier: MPL-2.0

package embedded

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	t.Run("Created to Starting to Running to Stopped", func(t *testing.T) {
		t.Parallel()

		l := newLifecycle()
		if l.current() != StateCreated {
			t.Errorf("expected StateCreated, got %s", l.current())
		}

		if err := l.toStarting(context.Background()); err != nil {
			t.Fatalf("toStarting failed: %v", err)
		}
		if l.current() != StateStarting {
			t.Errorf("expected StateStarting, got %s", l.current())
		}

		if !l.toRunning() {
			t.Fatal("toRunning should succeed from Starting")
		}
		if !l.toStopping() {
			t.Error("toStopping should return true from Running")
		}
		if l.current() != StateStopping {
			t.Errorf("expected StateStopping, got %s", l.current())
		}

		l.toStopped()
		if l.current() != StateStopped {
			t.Errorf("expected StateStopped, got %s", l.current())
		}
	})

	t.Run("Starting to Failed", func(t *testing.T) {
		t.Parallel()

		l := newLifecycle()
		if err := l.toStarting(context.Background()); err != nil {
			t.Fatalf("toStarting failed: %v", err)
		}

		testErr := errors.New("storage unavailable")
		l.toFailed(testErr)

		if l.current() != StateFailed {
			t.Errorf("expected StateFailed, got %s", l.current())
		}
		if !errors.Is(l.lastError(), testErr) {
			t.Errorf("expected %v, got %v", testErr, l.lastError())
		}
	})

	t.Run("cancelled context fails before start", func(t *testing.T) {
		t.Parallel()

		l := newLifecycle()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := l.toStarting(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if l.current() != StateFailed {
			t.Errorf("expected StateFailed, got %s", l.current())
		}
	})

	t.Run("second start is rejected", func(t *testing.T) {
		t.Parallel()

		l := newLifecycle()
		if err := l.toStarting(context.Background()); err != nil {
			t.Fatalf("toStarting failed: %v", err)
		}
		if err := l.toStarting(context.Background()); err == nil {
			t.Error("expected error on second start")
		}
	})

	t.Run("stop before start marks stopped", func(t *testing.T) {
		t.Parallel()

		l := newLifecycle()
		if l.toStopping() {
			t.Error("toStopping should not hand out shutdown for a created runtime")
		}
		if l.current() != StateStopped {
			t.Errorf("expected StateStopped, got %s", l.current())
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.waitStopped(ctx); err != nil {
			t.Errorf("waitStopped: %v", err)
		}
	})
}

func TestLifecycle_ConcurrentStopping(t *testing.T) {
	t.Parallel()

	l := newLifecycle()
	if err := l.toStarting(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.toRunning()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		owners int
	)
	for range 16 {
		wg.Go(func() {
			if l.toStopping() {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if owners != 1 {
		t.Errorf("expected exactly one shutdown owner, got %d", owners)
	}
}

func TestLifecycle_WaitStoppedTimeout(t *testing.T) {
	t.Parallel()

	l := newLifecycle()
	if err := l.toStarting(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.toRunning()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.waitStopped(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestState_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state   State
		wantErr bool
		name    string
	}{
		{StateCreated, false, "created"},
		{StateStarting, false, "starting"},
		{StateRunning, false, "running"},
		{StateStopping, false, "stopping"},
		{StateStopped, false, "stopped"},
		{StateFailed, false, "failed"},
		{State(42), true, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.state.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			err := tt.state.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
			var stateErr *InvalidStateError
			if !errors.As(err, &stateErr) || stateErr.Value != tt.state {
				t.Errorf("expected *InvalidStateError for %d, got %v", tt.state, err)
			}
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateCreated, StateStarting, StateRunning, StateStopping} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []State{StateStopped, StateFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
