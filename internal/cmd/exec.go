package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tatenmitdaten/dbt-lambda/internal/awsenv"
	"github.com/tatenmitdaten/dbt-lambda/internal/config"
	"github.com/tatenmitdaten/dbt-lambda/internal/handler"
	"github.com/tatenmitdaten/dbt-lambda/internal/models"
	"github.com/tatenmitdaten/dbt-lambda/internal/remote"
)

// quotedToken matches a whitespace-free run in which single-quoted
// sections may contain spaces.
var quotedToken = regexp.MustCompile(`(?:[^\s']+|'[^']*')+`)

// eventHandler runs an invocation event in-process.
type eventHandler interface {
	Handle(ctx context.Context, event models.Event) (models.Response, error)
}

// invoker sends an invocation event to the deployed function.
type invoker interface {
	Invoke(ctx context.Context, env string, event models.Event) (*remote.Result, error)
}

// Factories are variables so tests can replace the AWS-backed implementations.
var (
	newHandler = func(ctx context.Context, cfg *config.Config, log handler.Logger) (eventHandler, error) {
		h, err := handler.New(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	newInvoker = func(ctx context.Context, cfg *config.Config, log remote.Logger) (invoker, error) {
		region := cfg.Region
		if region == "" {
			region = awsenv.DefaultRegion
		}
		c, err := remote.New(ctx, awsenv.Options{Region: region}, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
)

// NewExecCommand creates the exec command
func NewExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [dbt args]...",
		Short: "Run a dbt command locally or in the deployed function",
		Long: `Run a dbt command through the Lambda handler.

Without --remote the handler runs in-process against a temporary project
directory, reading deployment parameters from $SAM_CONFIG_FILE (default
src/samconfig.yaml). With --remote the event is sent to the
TransformFunction-<env> Lambda function.

A single quoted argument containing spaces is split like a shell would,
honoring single quotes. Flags after the first dbt argument are passed to dbt.

Examples:
  dbt-lambda exec build
  dbt-lambda exec "run --select 'tag:daily'"
  dbt-lambda exec --env prod --remote build --select orders
  dbt-lambda exec --test run`,
		RunE: runExec,
	}
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().String("source", "", "Source of the dbt project: repo, s3, local (default from config: repo)")
	cmd.Flags().StringP("env", "e", "dev", "Target environment: dev, prod")
	cmd.Flags().Bool("remote", false, "Invoke the deployed function instead of running locally")
	cmd.Flags().Bool("test", false, "Run a quick test: target the environment with views only")
	cmd.Flags().String("base-path", "", "Project directory for local runs (default: a temporary directory)")
	cmd.Flags().String("timeout", "", "Maximum execution time of a local run (e.g., 10m)")

	return cmd
}

// runExec implements the exec command logic
func runExec(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sourceFlag, _ := cmd.Flags().GetString("source")
	env, _ := cmd.Flags().GetString("env")
	isRemote, _ := cmd.Flags().GetBool("remote")
	isTest, _ := cmd.Flags().GetBool("test")
	basePathFlag, _ := cmd.Flags().GetString("base-path")
	timeoutStr, _ := cmd.Flags().GetString("timeout")

	var sourcePtr *string
	if cmd.Flags().Changed("source") {
		sourcePtr = &sourceFlag
	}
	var timeoutPtr *time.Duration
	if cmd.Flags().Changed("timeout") {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("invalid timeout format %q: %w", timeoutStr, err)
		}
		timeoutPtr = &timeout
	}
	var basePathPtr *string
	if cmd.Flags().Changed("base-path") {
		basePathPtr = &basePathFlag
	}
	cfg.MergeWithFlags(nil, basePathPtr, sourcePtr, timeoutPtr)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := setAppEnv(env); err != nil {
		return err
	}

	dbtArgs := SplitArgs(args)
	if isTest {
		dbtArgs = append(dbtArgs, TestArgs(env)...)
	}
	event := models.NewEvent(dbtArgs, cfg.Source, "")

	log := newLogger(cmd, cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if isRemote {
		client, err := newInvoker(ctx, cfg, log)
		if err != nil {
			return err
		}
		result, err := client.Invoke(ctx, env, event)
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if result.FunctionError != "" {
			return fmt.Errorf("%s failed: %s", remote.FunctionName(env), result.FunctionError)
		}
		return nil
	}

	if err := setSamConfigDefault(); err != nil {
		return err
	}

	if cmd.Flags().Changed("base-path") {
		event.BasePath = cfg.BasePath
	} else {
		tmpDir, err := os.MkdirTemp("", "dbt-lambda-")
		if err != nil {
			return fmt.Errorf("failed to create temporary directory: %w", err)
		}
		defer os.RemoveAll(tmpDir)
		event.BasePath = filepath.Join(tmpDir, "dbt-project")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	log.LogInfo(string(payload))

	h, err := newHandler(ctx, cfg, log)
	if err != nil {
		return err
	}
	resp, err := h.Handle(ctx, event)
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), resp)
}

// SplitArgs splits a single argument containing spaces into words.
// Single-quoted sections stay together and lose their quotes. Any other
// args are returned unchanged.
func SplitArgs(args []string) []string {
	if len(args) != 1 || !strings.Contains(args[0], " ") {
		return append([]string{}, args...)
	}
	tokens := quotedToken.FindAllString(args[0], -1)
	out := make([]string, len(tokens))
	for i, token := range tokens {
		out[i] = strings.Trim(token, "'")
	}
	return out
}

// TestArgs are appended by --test: build views only in the env target.
func TestArgs(env string) []string {
	return []string{"--target", env, "--vars", "materialized: view"}
}

// printResponse prints the message, or the whole response when it has none.
func printResponse(w io.Writer, resp models.Response) error {
	if resp.Message != "" {
		_, err := fmt.Fprintln(w, resp.Message)
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printResult prints a remote result the same way as printResponse.
func printResult(w io.Writer, result *remote.Result) error {
	if msg, ok := result.Message(); ok {
		_, err := fmt.Fprintln(w, msg)
		return err
	}
	data, err := json.Marshal(result.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
