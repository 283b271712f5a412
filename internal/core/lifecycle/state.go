// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"errors"
	"fmt"
)

const (
	// StateCreated means Start has not been called.
	StateCreated State = iota
	// StateStarting means Start is binding resources.
	StateStarting
	// StateRunning means the component is serving.
	StateRunning
	// StateStopping means a graceful stop is in progress.
	StateStopping
	// StateStopped is terminal.
	StateStopped
	// StateFailed is terminal; Tracker.LastError holds the cause.
	StateFailed
)

// ErrInvalidState is returned for State values outside the defined set.
var ErrInvalidState = errors.New("invalid lifecycle state")

// State is a lifecycle state.
type State int32

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

// Validate reports whether s is a defined state.
func (s State) Validate() error {
	if s < StateCreated || s > StateFailed {
		return fmt.Errorf("%w: %d", ErrInvalidState, int32(s))
	}
	return nil
}

// IsTerminal reports whether s is stopped or failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}
