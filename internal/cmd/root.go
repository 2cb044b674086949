package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tatenmitdaten/dbt-lambda/internal/config"
	"github.com/tatenmitdaten/dbt-lambda/internal/logger"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// DefaultSamConfigFile is the samconfig used by local runs.
const DefaultSamConfigFile = "src/samconfig.yaml"

// NewRootCommand creates and returns the root cobra command for dbt-lambda
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dbt-lambda",
		Short: "Run dbt inside AWS Lambda",
		Long: `dbt-lambda runs dbt builds inside a single-threaded AWS Lambda
function and reports node results.

Locally it runs the same handler in-process against a temporary project
directory; with --remote it invokes the deployed transform function.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return config.LoadDotEnv(envFile)
		},
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: $DBT_LAMBDA_CONFIG or dbt-lambda.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before running")

	// Add subcommands
	cmd.AddCommand(NewExecCommand())
	cmd.AddCommand(NewDocsCommand())
	cmd.AddCommand(NewParamsCommand())

	return cmd
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadFromEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var logLevelPtr *string
	if cmd.Flags().Changed("log-level") {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &logLevel
	}
	cfg.MergeWithFlags(logLevelPtr, nil, nil, nil)
	return cfg, nil
}

// newLogger writes to the command's stderr so stdout carries only results.
func newLogger(cmd *cobra.Command, cfg *config.Config) *logger.ConsoleLogger {
	return logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
}

// setAppEnv validates env and exports it as APP_ENV.
func setAppEnv(env string) error {
	switch env {
	case "dev", "prod":
	default:
		return fmt.Errorf("invalid env %q, must be one of: dev, prod", env)
	}
	return setenv(config.AppEnvEnv, env)
}

// setSamConfigDefault points SAM_CONFIG_FILE at the repository's samconfig
// unless it is already set.
func setSamConfigDefault() error {
	if _, ok := os.LookupEnv(config.SamConfigFileEnv); ok {
		return nil
	}
	return setenv(config.SamConfigFileEnv, DefaultSamConfigFile)
}

func setenv(name, value string) error {
	if err := os.Setenv(name, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}
