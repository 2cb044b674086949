// Package secrets reads JSON secrets from AWS Secrets Manager and exports
// them as environment variables for dbt and the project fetcher.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/tatenmitdaten/dbt-lambda/internal/awsenv"
	"github.com/tatenmitdaten/dbt-lambda/internal/models"
)

// Environment variables read and written by this package.
const (
	SnowflakeSecretEnv = "SNOWFLAKE_SECRET_ARN"
	GitHubSecretEnv    = "GITHUB_SECRET_ARN"
	GitHubTokenEnv     = "GITHUB_ACCESS_TOKEN"
)

// maskedKeys are never written to the log.
var maskedKeys = map[string]bool{
	"private_key": true,
	"password":    true,
	"token":       true,
}

// API is the subset of the Secrets Manager client the store uses.
type API interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Logger receives one line per exported variable.
type Logger interface {
	LogInfo(message string)
}

// Store fetches secrets and caches them per id for the life of the process.
type Store struct {
	client API
	logger Logger

	mu    sync.Mutex
	cache map[string]map[string]any
}

// New creates a Store backed by Secrets Manager.
func New(ctx context.Context, opts awsenv.Options, logger Logger) (*Store, error) {
	cfg, err := awsenv.Load(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return NewWithClient(secretsmanager.NewFromConfig(cfg), logger), nil
}

// NewWithClient creates a Store around an existing client.
func NewWithClient(client API, logger Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		cache:  make(map[string]map[string]any),
	}
}

// GetSecret returns the secret id decoded as a JSON object.
func (s *Store) GetSecret(ctx context.Context, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if secret, ok := s.cache[id]; ok {
		return secret, nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return nil, fmt.Errorf("secrets: get %s: %w", id, err)
	}

	var secret map[string]any
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &secret); err != nil {
		return nil, fmt.Errorf("secrets: decode %s: %w", id, err)
	}
	s.cache[id] = secret
	return secret, nil
}

// SetSnowflakeCredentials exports every key of the Snowflake secret as
// SNOWFLAKE_<KEY>.
func (s *Store) SetSnowflakeCredentials(ctx context.Context) error {
	id := os.Getenv(SnowflakeSecretEnv)
	if id == "" {
		return models.NewPreconditionError(SnowflakeSecretEnv)
	}

	secret, err := s.GetSecret(ctx, id)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(secret))
	for key := range secret {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name := "SNOWFLAKE_" + strings.ToUpper(key)
		value := stringValue(secret[key])
		if err := os.Setenv(name, value); err != nil {
			return fmt.Errorf("secrets: set %s: %w", name, err)
		}
		if maskedKeys[strings.ToLower(key)] {
			value = "***"
		}
		s.logInfo(fmt.Sprintf("Set %s=%s environment variable", name, value))
	}
	return nil
}

// SetGitHubToken exports the "token" key of the GitHub secret as
// GITHUB_ACCESS_TOKEN. An unset GITHUB_SECRET_ARN is an error; an empty
// one skips the lookup.
func (s *Store) SetGitHubToken(ctx context.Context) error {
	id, ok := os.LookupEnv(GitHubSecretEnv)
	if !ok {
		return models.NewPreconditionError(GitHubSecretEnv)
	}
	if id == "" {
		s.logInfo(GitHubSecretEnv + " is empty, skipping GitHub token setting")
		return nil
	}

	secret, err := s.GetSecret(ctx, id)
	if err != nil {
		return err
	}
	token, ok := secret["token"].(string)
	if !ok {
		return fmt.Errorf("secrets: %s has no string key \"token\"", id)
	}
	if err := os.Setenv(GitHubTokenEnv, token); err != nil {
		return fmt.Errorf("secrets: set %s: %w", GitHubTokenEnv, err)
	}
	s.logInfo("Set " + GitHubTokenEnv + "=*** environment variable")
	return nil
}

func (s *Store) logInfo(msg string) {
	if s.logger != nil {
		s.logger.LogInfo(msg)
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
