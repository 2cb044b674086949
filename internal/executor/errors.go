package executor

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is the orchestrator's position in a single run.
type Phase int

const (
	// PhaseIdle is the state before a run starts.
	PhaseIdle Phase = iota
	// PhasePreparing covers project materialization, environment and credentials.
	PhasePreparing
	// PhaseDelegating covers the runner invocation and docs export.
	PhaseDelegating
	// PhaseMapping covers result mapping.
	PhaseMapping
	// PhaseDone is reached when a result was returned.
	PhaseDone
	// PhaseFailed is reached from preparing or delegating.
	PhaseFailed
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreparing:
		return "preparing"
	case PhaseDelegating:
		return "delegating"
	case PhaseMapping:
		return "mapping"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StepError reports a failed preparation step.
type StepError struct {
	Phase Phase  // Phase the step belongs to
	Step  string // Short step name, e.g. "materialize project"
	Err   error  // Underlying error
}

// Error implements the error interface for StepError.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Phase, e.Step, e.Err)
}

// Unwrap returns the underlying error for error wrapping support.
func (e *StepError) Unwrap() error {
	return e.Err
}

// ExecutionError reports that the runner raised instead of producing a result.
// No partial result accompanies it.
type ExecutionError struct {
	Phase   Phase    // Phase in which the runner failed
	Command []string // Arguments as supplied by the caller
	Err     error    // Exception surfaced by the runner
}

// NewExecutionError creates an ExecutionError in the delegating phase.
func NewExecutionError(command []string, err error) *ExecutionError {
	return &ExecutionError{
		Phase:   PhaseDelegating,
		Command: append([]string(nil), command...),
		Err:     err,
	}
}

// Error implements the error interface for ExecutionError.
func (e *ExecutionError) Error() string {
	var sb strings.Builder
	sb.WriteString("failed to run ")
	sb.WriteString(strings.Join(e.Command, " "))
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsExecutionError checks if the error is or wraps an ExecutionError.
func IsExecutionError(err error) bool {
	if err == nil {
		return false
	}
	var ee *ExecutionError
	return errors.As(err, &ee)
}
