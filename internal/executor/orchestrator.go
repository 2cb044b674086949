package executor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/tatenmitdaten/dbt-lambda/internal/dbt"
	"github.com/tatenmitdaten/dbt-lambda/internal/models"
	"github.com/tatenmitdaten/dbt-lambda/internal/mpcontext"
)

// Logger defines the interface for logging orchestrator progress and dbt events.
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// ProjectMaterializer places the dbt project files at a base path.
type ProjectMaterializer interface {
	Materialize(ctx context.Context, source, basePath string) error
}

// CredentialInjector exports warehouse credentials into the environment.
type CredentialInjector interface {
	SetSnowflakeCredentials(ctx context.Context) error
}

// DocsExporter publishes the generated documentation site.
type DocsExporter interface {
	SaveIndexHTML(ctx context.Context, basePath string) error
}

// primitiveHolder is implemented by runners that resolved concurrency
// primitives at load time.
type primitiveHolder interface {
	Primitives() dbt.Primitives
}

// Collaborators are the optional services a run uses. Nil members are skipped.
type Collaborators struct {
	Project     ProjectMaterializer
	Credentials CredentialInjector
	Docs        DocsExporter
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Orchestrator prepares the dbt environment, invokes the runner and maps
// its result. It is synchronous and not safe for concurrent use.
type Orchestrator struct {
	runner        dbt.Runner
	collaborators Collaborators
	logger        Logger
	phase         Phase
}

// NewOrchestrator creates a new Orchestrator instance.
// The logger parameter is optional and can be nil.
func NewOrchestrator(runner dbt.Runner, collaborators Collaborators, logger Logger) *Orchestrator {
	if runner == nil {
		panic("runner cannot be nil")
	}

	return &Orchestrator{
		runner:        runner,
		collaborators: collaborators,
		logger:        logger,
	}
}

// Phase returns the phase of the current or last run.
func (o *Orchestrator) Phase() Phase {
	return o.phase
}

// RunSingleThreaded runs dbt with args against the project at basePath,
// after materializing it from source ("repo", "s3" or "local").
//
// A run whose nodes failed returns success=false and no error. An error is
// returned when preparation fails, when the runner raised, or when the docs
// export fails. A runner failure is an *ExecutionError and docs are not
// exported.
//
// The threaded concurrency primitives must be installed; otherwise this
// panics before anything is prepared.
func (o *Orchestrator) RunSingleThreaded(ctx context.Context, args []string, source, basePath string) (models.RunnerResult, error) {
	mpcontext.AssertThreaded()
	if holder, ok := o.runner.(primitiveHolder); ok {
		p := holder.Primitives()
		mpcontext.AssertThreadedPrimitives(p.Context, p.PoolFactory)
	}

	// Cancel the run on SIGINT/SIGTERM so the dbt subprocess is stopped.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			o.logWarn("Received interrupt signal, stopping dbt...")
			cancel()
		case <-ctx.Done():
		}
	}()

	o.phase = PhasePreparing
	basePath, err := o.prepare(ctx, source, basePath)
	if err != nil {
		o.phase = PhaseFailed
		return models.RunnerResult{}, err
	}

	o.phase = PhaseDelegating
	fullArgs := append(append([]string{}, args...), "--log-level", "none")
	res, err := o.runner.Invoke(ctx, fullArgs, o.logEvent)
	if err == nil && res == nil {
		err = fmt.Errorf("runner returned no result")
	}
	if err == nil {
		err = res.Exception
	}
	if err != nil {
		o.phase = PhaseFailed
		return models.RunnerResult{}, NewExecutionError(args, err)
	}

	// Docs export finishes the delegation; only mapping is left after it.
	if containsDocs(args) && o.collaborators.Docs != nil {
		if err := o.collaborators.Docs.SaveIndexHTML(ctx, basePath); err != nil {
			o.phase = PhaseFailed
			return models.RunnerResult{}, &StepError{Phase: PhaseDelegating, Step: "export docs", Err: err}
		}
	}

	o.phase = PhaseMapping
	result := MapResult(res)

	o.phase = PhaseDone
	return result, nil
}

// prepare materializes the project and exports the environment dbt reads.
// It returns the absolute base path.
func (o *Orchestrator) prepare(ctx context.Context, source, basePath string) (string, error) {
	if err := os.Setenv("DBT_SEND_ANONYMOUS_USAGE_STATS", "False"); err != nil {
		return "", &StepError{Phase: PhasePreparing, Step: "set environment", Err: err}
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return "", &StepError{Phase: PhasePreparing, Step: "resolve base path", Err: err}
	}

	if o.collaborators.Project != nil {
		if err := o.collaborators.Project.Materialize(ctx, source, abs); err != nil {
			return "", &StepError{Phase: PhasePreparing, Step: "materialize project", Err: err}
		}
	}

	profilesDir := filepath.Join(abs, "profiles")
	for key, value := range map[string]string{
		"DBT_PROJECT_DIR":  abs,
		"DBT_PROFILES_DIR": profilesDir,
	} {
		if err := os.Setenv(key, value); err != nil {
			return "", &StepError{Phase: PhasePreparing, Step: "set environment", Err: err}
		}
	}
	o.logInfo(fmt.Sprintf("Using project dir: %s", abs))
	o.logInfo(fmt.Sprintf("Using profiles dir: %s", profilesDir))

	if o.collaborators.Credentials != nil {
		if err := o.collaborators.Credentials.SetSnowflakeCredentials(ctx); err != nil {
			return "", &StepError{Phase: PhasePreparing, Step: "inject credentials", Err: err}
		}
	}
	return abs, nil
}

// logEvent forwards info, warn and error events without ANSI color codes.
func (o *Orchestrator) logEvent(ev dbt.Event) {
	msg := ansiEscape.ReplaceAllString(ev.Info.Msg, "")
	switch ev.Info.Level {
	case dbt.EventLevelInfo:
		o.logInfo(msg)
	case dbt.EventLevelWarn:
		o.logWarn(msg)
	case dbt.EventLevelError:
		o.logError(msg)
	}
}

func (o *Orchestrator) logInfo(msg string) {
	if o.logger != nil {
		o.logger.LogInfo(msg)
	}
}

func (o *Orchestrator) logWarn(msg string) {
	if o.logger != nil {
		o.logger.LogWarn(msg)
	}
}

func (o *Orchestrator) logError(msg string) {
	if o.logger != nil {
		o.logger.LogError(msg)
	}
}
