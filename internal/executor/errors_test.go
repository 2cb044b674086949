package executor

import (
	"errors"
	"fmt"
	"testing"
)

func TestStepError(t *testing.T) {
	cause := errors.New("access denied")
	err := &StepError{Phase: PhasePreparing, Step: "inject credentials", Err: cause}

	if got, want := err.Error(), "preparing: inject credentials: access denied"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("StepError should unwrap to its cause")
	}

	wrapped := fmt.Errorf("run: %w", err)
	var se *StepError
	if !errors.As(wrapped, &se) || se.Step != "inject credentials" {
		t.Errorf("errors.As() = %v, want the step error", se)
	}
}

func TestNewExecutionErrorCopiesCommand(t *testing.T) {
	args := []string{"build", "--select", "orders"}
	err := NewExecutionError(args, errors.New("boom"))
	args[0] = "run"

	if err.Command[0] != "build" {
		t.Errorf("Command[0] = %q, want %q", err.Command[0], "build")
	}
	if !IsExecutionError(fmt.Errorf("handler: %w", err)) {
		t.Error("IsExecutionError should see through wrapping")
	}
}

func TestExecutionErrorWithoutCause(t *testing.T) {
	err := &ExecutionError{Command: []string{"debug"}}
	if got, want := err.Error(), "failed to run debug"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
