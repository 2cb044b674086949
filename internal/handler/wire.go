package handler

import (
	"context"

	"github.com/tatenmitdaten/dbt-lambda/internal/awsenv"
	"github.com/tatenmitdaten/dbt-lambda/internal/config"
	"github.com/tatenmitdaten/dbt-lambda/internal/dbt"
	"github.com/tatenmitdaten/dbt-lambda/internal/docs"
	"github.com/tatenmitdaten/dbt-lambda/internal/executor"
	"github.com/tatenmitdaten/dbt-lambda/internal/project"
	"github.com/tatenmitdaten/dbt-lambda/internal/secrets"
	"github.com/tatenmitdaten/dbt-lambda/internal/storage"
)

// New wires a Handler backed by AWS services and the dbt CLI.
// The threaded concurrency primitives must already be installed.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Handler, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	awsOpts := awsenv.Options{Region: cfg.Region}

	store, err := secrets.New(ctx, awsOpts, logger)
	if err != nil {
		return nil, err
	}
	bucket := storage.FromEnv(storage.Config{
		Endpoint: cfg.S3Endpoint,
		AWS:      awsOpts,
	})

	fetcher := &project.Fetcher{
		Secrets:    store,
		Bucket:     bucket,
		GitHub:     project.NewGitHub(),
		CodeCommit: project.NewCodeCommitFactory(awsOpts),
		Logger:     logger,
	}

	runner := dbt.Load(dbt.Config{
		Executable:   cfg.DbtExecutable,
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
	})

	orch := executor.NewOrchestrator(runner, executor.Collaborators{
		Project:     fetcher,
		Credentials: store,
		Docs:        docs.NewPublisher(bucket, logger),
	}, logger)

	h := NewHandler(orch, SetEnvVars, logger)
	h.SetDefaults(cfg.Source, cfg.BasePath)
	return h, nil
}

// SetEnvVars exports the SAM deployment parameters.
func SetEnvVars(logger Logger) error {
	return config.SetEnvVars(logger)
}
