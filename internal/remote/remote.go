// Package remote invokes the deployed transform function instead of
// running dbt locally.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/tatenmitdaten/dbt-lambda/internal/awsenv"
	"github.com/tatenmitdaten/dbt-lambda/internal/models"
)

// FunctionPrefix is suffixed with the environment to name the function.
const FunctionPrefix = "TransformFunction"

// Client timeouts. A dbt build can take the full Lambda maximum.
const (
	ReadTimeout    = 900 * time.Second
	ConnectTimeout = 600 * time.Second
)

// API is the subset of the Lambda client used to invoke the function.
type API interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Logger receives the request payload.
type Logger interface {
	LogInfo(message string)
}

// Result is the decoded function response.
type Result struct {
	// Payload is the JSON object the function returned.
	Payload map[string]any
	// FunctionError is set when the function raised; Payload then holds
	// errorMessage and errorType.
	FunctionError string
}

// Message returns the payload's message field, if it has one.
func (r *Result) Message() (string, bool) {
	msg, ok := r.Payload["message"].(string)
	return msg, ok
}

// Client invokes the transform function of an environment.
type Client struct {
	api    API
	logger Logger
}

// New creates a Client without retries and with long timeouts.
// The region defaults to eu-central-1 unless opts or the environment set one.
func New(ctx context.Context, opts awsenv.Options, logger Logger) (*Client, error) {
	opts.MaxAttempts = 1
	cfg, err := awsenv.Load(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	cfg.HTTPClient = awshttp.NewBuildableClient().
		WithTimeout(ReadTimeout).
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = ConnectTimeout
		})
	return NewWithClient(lambda.NewFromConfig(cfg), logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(api API, logger Logger) *Client {
	return &Client{api: api, logger: logger}
}

// FunctionName returns the transform function name for env.
func FunctionName(env string) string {
	return FunctionPrefix + "-" + env
}

// Invoke sends event to the function of env and waits for the response.
func (c *Client) Invoke(ctx context.Context, env string, event models.Event) (*Result, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal event: %w", err)
	}
	if c.logger != nil {
		c.logger.LogInfo(string(payload))
	}

	name := FunctionName(env)
	out, err := c.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(name),
		Payload:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: invoke %s: %w", name, err)
	}

	result := &Result{FunctionError: aws.ToString(out.FunctionError)}
	if len(out.Payload) > 0 {
		if err := json.Unmarshal(out.Payload, &result.Payload); err != nil {
			return nil, fmt.Errorf("remote: decode response of %s: %w", name, err)
		}
	}
	return result, nil
}
