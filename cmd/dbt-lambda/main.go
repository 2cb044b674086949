package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/tatenmitdaten/dbt-lambda/internal/cmd"
	"github.com/tatenmitdaten/dbt-lambda/internal/config"
	"github.com/tatenmitdaten/dbt-lambda/internal/handler"
	"github.com/tatenmitdaten/dbt-lambda/internal/logger"
	"github.com/tatenmitdaten/dbt-lambda/internal/mpcontext"
)

// runtimeAPIEnv is set by the Lambda runtime.
const runtimeAPIEnv = "AWS_LAMBDA_RUNTIME_API"

func main() {
	// Must precede anything that loads the dbt runner.
	mpcontext.Install()

	if inLambda() {
		if err := startLambda(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rootCmd := cmd.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func inLambda() bool {
	return os.Getenv(runtimeAPIEnv) != ""
}

// startLambda serves invocations until the runtime shuts the process down.
func startLambda() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	h, err := handler.New(context.Background(), cfg, logger.NewConsoleLogger(os.Stdout, cfg.LogLevel))
	if err != nil {
		return err
	}
	lambda.Start(h.Handle)
	return nil
}
