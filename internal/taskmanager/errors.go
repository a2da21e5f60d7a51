package taskmanager

import "errors"

var (
	// ErrTaskNotFound is returned for an id the manager does not know.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when the task or phase is not in a
	// state that allows the requested operation.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrPhaseMismatch is returned by AdvancePhase when the caller's view of
	// the current phase is stale.
	ErrPhaseMismatch = errors.New("current phase mismatch")
	// ErrPhaseNotFound is returned for a phase id the task does not have.
	ErrPhaseNotFound = errors.New("phase not found")
	// ErrInvalidTask is returned by CreateTask for a malformed spec.
	ErrInvalidTask = errors.New("invalid task")
)
