package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable pointing at the runtime config file.
const ConfigFileEnv = "DBT_LAMBDA_CONFIG"

// DefaultConfigFile is read when DBT_LAMBDA_CONFIG is unset.
const DefaultConfigFile = "dbt-lambda.yaml"

// Config represents dbt-lambda runtime options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// BasePath is where the dbt project is materialized
	BasePath string `yaml:"base_path"`

	// Source selects where the project comes from (repo, s3, local)
	Source string `yaml:"source"`

	// Region is the AWS region of every client (empty = AWS_REGION, then eu-central-1)
	Region string `yaml:"region"`

	// S3Endpoint overrides the S3 endpoint (e.g. LocalStack)
	S3Endpoint string `yaml:"s3_endpoint"`

	// DbtExecutable is the dbt binary, resolved through PATH
	DbtExecutable string `yaml:"dbt_executable"`

	// Workers bounds the runner's worker pool
	Workers int `yaml:"workers"`

	// PollInterval is how often dbt's JSON log is polled
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout bounds a local run (0 = no timeout)
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		BasePath:      "/tmp/dbt",
		Source:        "repo",
		Region:        "",
		DbtExecutable: "dbt",
		Workers:       2,
		PollInterval:  50 * time.Millisecond,
		Timeout:       0,
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are strings in YAML
	type yamlConfig struct {
		LogLevel      string `yaml:"log_level"`
		BasePath      string `yaml:"base_path"`
		Source        string `yaml:"source"`
		Region        string `yaml:"region"`
		S3Endpoint    string `yaml:"s3_endpoint"`
		DbtExecutable string `yaml:"dbt_executable"`
		Workers       int    `yaml:"workers"`
		PollInterval  string `yaml:"poll_interval"`
		Timeout       string `yaml:"timeout"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.BasePath != "" {
		cfg.BasePath = yamlCfg.BasePath
	}
	if yamlCfg.Source != "" {
		cfg.Source = yamlCfg.Source
	}
	if yamlCfg.Region != "" {
		cfg.Region = yamlCfg.Region
	}
	if yamlCfg.S3Endpoint != "" {
		cfg.S3Endpoint = yamlCfg.S3Endpoint
	}
	if yamlCfg.DbtExecutable != "" {
		cfg.DbtExecutable = yamlCfg.DbtExecutable
	}
	if yamlCfg.Workers != 0 {
		cfg.Workers = yamlCfg.Workers
	}
	if yamlCfg.PollInterval != "" {
		d, err := time.ParseDuration(yamlCfg.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_interval format %q: %w", yamlCfg.PollInterval, err)
		}
		cfg.PollInterval = d
	}
	if yamlCfg.Timeout != "" {
		d, err := time.ParseDuration(yamlCfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout format %q: %w", yamlCfg.Timeout, err)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}

// LoadFromEnv loads the file named by DBT_LAMBDA_CONFIG, or the default file.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(ConfigFileEnv)
	if path == "" {
		path = DefaultConfigFile
	}
	return LoadConfig(path)
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(logLevel, basePath, source *string, timeout *time.Duration) {
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if basePath != nil {
		c.BasePath = *basePath
	}
	if source != nil {
		c.Source = *source
	}
	if timeout != nil {
		c.Timeout = *timeout
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	validSources := map[string]bool{"repo": true, "s3": true, "local": true}
	if !validSources[c.Source] {
		return fmt.Errorf("invalid source %q, must be one of: repo, s3, local", c.Source)
	}

	if c.BasePath == "" {
		return fmt.Errorf("base_path cannot be empty")
	}
	if c.DbtExecutable == "" {
		return fmt.Errorf("dbt_executable cannot be empty")
	}
	if c.Workers < 2 {
		return fmt.Errorf("workers must be >= 2, got %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0, got %v", c.PollInterval)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout)
	}

	return nil
}

// LoadDotEnv loads variables from .env files without overriding ones
// already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}
