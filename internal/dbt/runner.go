// Package dbt wraps the dbt executable as an opaque command processor.
//
// Loading the runner (Load) resolves the worker pool and concurrency
// context from mpcontext. Call mpcontext.Install before Load.
package dbt

import (
	"context"
	"fmt"

	"github.com/tatenmitdaten/dbt-lambda/internal/mpcontext"
)

// Result is what a dbt invocation produced.
// Result holds a *RunExecutionResult for commands that execute nodes and
// nil otherwise. Exception is set when dbt failed to run at all.
type Result struct {
	Success   bool
	Result    any
	Exception error
}

// Runner executes dbt commands.
type Runner interface {
	Invoke(ctx context.Context, args []string, callbacks ...EventCallback) (*Result, error)
}

// Primitives are the concurrency primitives a runner resolved at load time.
type Primitives struct {
	Context     mpcontext.Context
	PoolFactory mpcontext.PoolFactory
}

// Load builds a CLIRunner bound to the ambient concurrency primitives.
// After Load, mpcontext.Install can no longer be called for the first time.
func Load(cfg Config) *CLIRunner {
	ctx, factory := mpcontext.Resolve()
	return &CLIRunner{
		config:     cfg.withDefaults(),
		primitives: Primitives{Context: ctx, PoolFactory: factory},
	}
}

// ExitError reports an unexpected dbt exit status.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dbt exited with code %d", e.Code)
	}
	return fmt.Sprintf("dbt exited with code %d: %s", e.Code, e.Message)
}
