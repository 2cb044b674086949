// Package handler implements the Lambda entry point: it turns an invocation
// event into a dbt run and the run into a response.
package handler

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/tatenmitdaten/dbt-lambda/internal/models"
	"github.com/tatenmitdaten/dbt-lambda/internal/project"
)

// Defaults applied to events that omit a field.
const (
	DefaultBasePath = "/tmp/dbt"
	DefaultSource   = models.SourceRepo
)

// NothingToDo is the response message for an empty args list.
const NothingToDo = "No args provided. Nothing to do."

// Environment variables written for the test events.
const (
	FailOnErrorEnv = "FAIL_ON_ERROR"
	BranchEnv      = project.BranchEnv
)

// Logger defines the interface for handler logging.
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// Runner runs dbt against a materialized project.
type Runner interface {
	RunSingleThreaded(ctx context.Context, args []string, source, basePath string) (models.RunnerResult, error)
}

// resultLogger is implemented by loggers that render run results.
type resultLogger interface {
	LogRunnerResult(result models.RunnerResult)
}

// EnvSetter exports deployment parameters before a run.
type EnvSetter func(logger Logger) error

// Handler handles one invocation event at a time.
type Handler struct {
	runner   Runner
	setEnv   EnvSetter
	logger   Logger
	source   string
	basePath string
}

// NewHandler creates a Handler. setEnv and logger may be nil.
func NewHandler(runner Runner, setEnv EnvSetter, logger Logger) *Handler {
	if runner == nil {
		panic("runner cannot be nil")
	}
	return &Handler{
		runner:   runner,
		setEnv:   setEnv,
		logger:   logger,
		source:   DefaultSource,
		basePath: DefaultBasePath,
	}
}

// SetDefaults replaces the source and base path used for events that omit
// them. Empty values keep the current default.
func (h *Handler) SetDefaults(source, basePath string) {
	if source != "" {
		h.source = source
	}
	if basePath != "" {
		h.basePath = basePath
	}
}

// Handle runs the event's dbt command.
//
// A missing args field means ["build"]; an empty list does nothing. The
// single-element args x-error, x-fail and x-test are test events. A run with
// failing nodes returns a *DbtRuntimeError listing them.
func (h *Handler) Handle(ctx context.Context, event models.Event) (models.Response, error) {
	if h.setEnv != nil {
		if err := h.setEnv(h.logger); err != nil {
			return models.Response{}, fmt.Errorf("failed to set environment: %w", err)
		}
	}

	args := []string{"build"}
	if event.Args != nil {
		args = slices.Clone(*event.Args)
	}
	if len(args) == 0 {
		return models.Response{StatusCode: 200, Message: NothingToDo}, nil
	}

	if len(args) == 1 {
		switch args[0] {
		case "x-error":
			os.Setenv(FailOnErrorEnv, "False")
			return models.Response{}, &DbtTestError{Message: "Error"}
		case "x-fail":
			os.Setenv(FailOnErrorEnv, "True")
			return models.Response{}, &DbtTestError{Message: "Fail"}
		case "x-test":
			os.Setenv(FailOnErrorEnv, "True")
			os.Setenv(BranchEnv, "test")
			args = []string{"build"}
		}
	}

	source := event.Source
	if source == "" {
		source = h.source
	}
	basePath := event.BasePath
	if basePath == "" {
		basePath = h.basePath
	}

	result, err := h.runner.RunSingleThreaded(ctx, args, source, basePath)
	if err != nil {
		h.logError(err.Error())
		return models.Response{}, err
	}
	if rl, ok := h.logger.(resultLogger); ok {
		rl.LogRunnerResult(result)
	}
	if !result.Success {
		return models.Response{}, &DbtRuntimeError{Text: result.Failed().String()}
	}
	return models.NewResponse(result), nil
}

func (h *Handler) logError(msg string) {
	if h.logger != nil {
		h.logger.LogError(msg)
	}
}
