package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for conversation operations
var (
	// ErrSessionBusy indicates a turn is already running for the session
	ErrSessionBusy = errors.New("session busy: a turn is already in progress")

	// ErrSessionNotFound indicates the session does not exist in the store
	ErrSessionNotFound = errors.New("session not found")

	// ErrMaxIterations indicates the turn loop exceeded its iteration limit
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoAgent indicates no agent (or no provider for it) is configured for the session
	ErrNoAgent = errors.New("no agent configured")

	// ErrIncompatibleAgent indicates an agent cannot take over a session recorded in another provider's format
	ErrIncompatibleAgent = errors.New("agent uses a different provider")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrInvalidToolName indicates a descriptor name failed validation
	ErrInvalidToolName = errors.New("invalid tool name")
)

// LoopError describes a failure inside a turn with the phase it happened in.
type LoopError struct {
	Phase     Phase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("turn failed in %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
