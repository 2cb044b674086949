package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tatenmitdaten/dbt-lambda/internal/awsenv"
	"github.com/tatenmitdaten/dbt-lambda/internal/config"
	"github.com/tatenmitdaten/dbt-lambda/internal/docs"
	"github.com/tatenmitdaten/dbt-lambda/internal/storage"
)

// docsLoader reads a stored docs page.
type docsLoader interface {
	LoadIndexHTML(ctx context.Context, key string) (string, error)
}

var newDocsLoader = func(cfg *config.Config, log docs.Logger) docsLoader {
	bucket := storage.FromEnv(storage.Config{
		Endpoint: cfg.S3Endpoint,
		AWS:      awsenv.Options{Region: cfg.Region},
	})
	return docs.NewPublisher(bucket, log)
}

// NewDocsCommand creates the docs command
func NewDocsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs [key]",
		Short: "Print a published docs page",
		Long: `Print a page from the docs bucket of an environment.

The bucket is $DBT_DOCS_BUCKET, or <DbtDocsBucketStem>-<env> from the
samconfig. The key defaults to index.html.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDocs,
	}
	cmd.Flags().StringP("env", "e", "dev", "Target environment: dev, prod")
	return cmd
}

func runDocs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	env, _ := cmd.Flags().GetString("env")
	if err := setAppEnv(env); err != nil {
		return err
	}
	if err := setSamConfigDefault(); err != nil {
		return err
	}

	log := newLogger(cmd, cfg)
	if err := config.SetEnvVars(log); err != nil {
		return err
	}

	key := docs.IndexKey
	if len(args) == 1 {
		key = args[0]
	}
	page, err := newDocsLoader(cfg, log).LoadIndexHTML(cmd.Context(), key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), page)
	return err
}
