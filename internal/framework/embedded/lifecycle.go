// SPDX-License-Identifier: MPL-2.0

package embedded

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// StateCreated indicates the runtime was created but Start() not called.
	StateCreated State = iota
	// StateStarting indicates Start() is resolving modules.
	StateStarting
	// StateRunning indicates the runtime is started and modules may be activated.
	StateRunning
	// StateStopping indicates Stop() was called and modules are being stopped.
	StateStopping
	// StateStopped is terminal: the runtime has stopped.
	StateStopped
	// StateFailed is terminal: the runtime failed to start.
	StateFailed
)

// ErrInvalidState is returned when a State value is not one of the defined lifecycle states.
var ErrInvalidState = errors.New("invalid state")

type (
	// State represents the lifecycle state of a runtime.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	// It wraps ErrInvalidState for errors.Is() compatibility.
	InvalidStateError struct {
		Value State
	}

	// lifecycle is the runtime's state machine. A runtime is single-use:
	// once stopped or failed, create a new one.
	lifecycle struct {
		state atomic.Int32

		mu      sync.Mutex
		lastErr error

		wg        sync.WaitGroup
		stoppedCh chan struct{}
		stopOnce  sync.Once
	}
)

// String returns a human-readable representation of the runtime state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error implements the error interface for InvalidStateError.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %d (valid: 0=created, 1=starting, 2=running, 3=stopping, 4=stopped, 5=failed)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// Validate returns nil if the State is one of the defined lifecycle states,
// or an error wrapping ErrInvalidState if it is not.
func (s State) Validate() error {
	switch s {
	case StateCreated, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed:
		return nil
	default:
		return &InvalidStateError{Value: s}
	}
}

// IsTerminal returns true if the state is a terminal state (Stopped or Failed).
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

func newLifecycle() *lifecycle {
	l := &lifecycle{stoppedCh: make(chan struct{})}
	l.state.Store(int32(StateCreated))
	return l
}

func (l *lifecycle) current() State {
	return State(l.state.Load())
}

// toStarting moves Created -> Starting. A context that is already done
// fails the runtime before any work happens.
func (l *lifecycle) toStarting(ctx context.Context) error {
	select {
	case <-ctx.Done():
		err := fmt.Errorf("context cancelled before start: %w", ctx.Err())
		l.toFailed(err)
		return err
	default:
	}

	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start runtime in state %s", l.current())
	}
	return nil
}

func (l *lifecycle) toRunning() bool {
	return l.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
}

func (l *lifecycle) toFailed(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()

	l.state.Store(int32(StateFailed))
	l.markStopped()
}

// toStopping reports whether the caller owns the shutdown. A runtime that
// never started is marked stopped directly.
func (l *lifecycle) toStopping() bool {
	for {
		cur := l.current()
		switch cur {
		case StateStopped, StateFailed, StateStopping:
			return false
		case StateCreated:
			if l.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				l.markStopped()
				return false
			}
		case StateStarting, StateRunning:
			if l.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				return true
			}
		default:
			return false
		}
	}
}

func (l *lifecycle) toStopped() {
	l.state.Store(int32(StateStopped))
	l.markStopped()
}

func (l *lifecycle) markStopped() {
	l.stopOnce.Do(func() { close(l.stoppedCh) })
}

func (l *lifecycle) lastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// waitStopped blocks until the runtime reached a terminal state and all
// shutdown goroutines finished, or ctx is done.
func (l *lifecycle) waitStopped(ctx context.Context) error {
	select {
	case <-l.stoppedCh:
		l.wg.Wait()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runtime stop: %w", ctx.Err())
	}
}
