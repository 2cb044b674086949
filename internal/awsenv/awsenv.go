// Package awsenv loads the AWS SDK configuration shared by every client.
package awsenv

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// DefaultRegion is used when neither Options nor the environment name one.
const DefaultRegion = "eu-central-1"

// Options tune how the SDK configuration is loaded.
type Options struct {
	// Region overrides AWS_REGION.
	Region string
	// Profile selects a shared config profile.
	Profile string
	// AccessKey and SecretKey switch to static credentials when both are set.
	AccessKey string
	SecretKey string
	// MaxAttempts overrides the retryer. 1 disables retries.
	MaxAttempts int
}

// region returns the effective region for opts.
func (o Options) region() string {
	if o.Region != "" {
		return o.Region
	}
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r
	}
	if r := os.Getenv("AWS_DEFAULT_REGION"); r != "" {
		return r
	}
	return DefaultRegion
}

// Load resolves an aws.Config from opts and the default credential chain.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.region()),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	if opts.MaxAttempts > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(opts.MaxAttempts))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("awsenv: load aws config: %w", err)
	}
	return cfg, nil
}

// Validate checks that opts are internally consistent.
func (o Options) Validate() error {
	var errs []error
	if (o.AccessKey == "") != (o.SecretKey == "") {
		errs = append(errs, errors.New("access key and secret key must be set together"))
	}
	if o.MaxAttempts < 0 {
		errs = append(errs, errors.New("max attempts must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("awsenv: invalid options: %w", errors.Join(errs...))
	}
	return nil
}
