package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrFallbackRequired means the adaptive loop gave up on a phase and the
	// caller should substitute its predetermined fallback plan.
	ErrFallbackRequired = errors.New("fallback plan required")
	// ErrTaskNotActive is returned by Run for a task that does not hold the
	// active slot.
	ErrTaskNotActive = errors.New("task is not active")
)

// EscalationError describes the phase that exhausted the adaptive loop.
type EscalationError struct {
	TaskID   string
	PhaseID  int
	Attempts int
	Reason   string
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("task %s phase %d: %v after %d attempts: %s", e.TaskID, e.PhaseID, ErrFallbackRequired, e.Attempts, e.Reason)
}

// Unwrap lets errors.Is match ErrFallbackRequired.
func (e *EscalationError) Unwrap() error { return ErrFallbackRequired }
