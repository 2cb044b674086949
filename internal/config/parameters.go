package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tatenmitdaten/dbt-lambda/internal/models"
)

// Environment variables that select and receive deployment parameters.
const (
	SamConfigFileEnv = "SAM_CONFIG_FILE"
	AppEnvEnv        = "APP_ENV"
)

// DefaultSamConfigFile is read when SAM_CONFIG_FILE is unset.
const DefaultSamConfigFile = "./samconfig.yaml"

// DefaultAppEnv is used when APP_ENV is unset.
const DefaultAppEnv = "dev"

// Parameters are a SAM deployment's profile and parameter overrides.
type Parameters map[string]string

// Logger receives one line per exported variable.
type Logger interface {
	LogInfo(message string)
}

type paramKey struct{ env, file string }

var (
	paramMu    sync.Mutex
	paramCache = map[paramKey]Parameters{}
)

// samEnvironment mirrors the parts of a samconfig.yaml environment that are read.
type samEnvironment struct {
	Deploy struct {
		Parameters struct {
			Profile            string   `yaml:"profile"`
			ParameterOverrides []string `yaml:"parameter_overrides"`
		} `yaml:"parameters"`
	} `yaml:"deploy"`
}

// LoadParameters reads <env>.deploy.parameters from a SAM config file.
// Empty env and file fall back to APP_ENV and SAM_CONFIG_FILE. Results are
// cached per (env, file).
func LoadParameters(env, file string) (Parameters, error) {
	if file == "" {
		file = os.Getenv(SamConfigFileEnv)
	}
	if file == "" {
		file = DefaultSamConfigFile
	}
	if env == "" {
		env = os.Getenv(AppEnvEnv)
	}
	if env == "" {
		env = DefaultAppEnv
	}

	paramMu.Lock()
	defer paramMu.Unlock()

	key := paramKey{env: env, file: file}
	if p, ok := paramCache[key]; ok {
		return p, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("file %q not found, cannot read parameters: %w", file, err)
	}

	// Top-level keys such as "version" are not environments.
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	node, ok := doc[env]
	if !ok {
		return nil, fmt.Errorf("environment %q not found in %s", env, file)
	}
	var section samEnvironment
	if err := node.Decode(&section); err != nil {
		return nil, fmt.Errorf("failed to parse %s.deploy.parameters in %s: %w", env, file, err)
	}

	params := Parameters{"profile": section.Deploy.Parameters.Profile}
	for _, override := range section.Deploy.Parameters.ParameterOverrides {
		name, value, ok := strings.Cut(override, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter override %q in %s", override, file)
		}
		params[name] = value
	}
	paramCache[key] = params
	return params, nil
}

// ResetParameterCache forgets every loaded parameter set.
func ResetParameterCache() {
	paramMu.Lock()
	defer paramMu.Unlock()
	paramCache = map[paramKey]Parameters{}
}

// envMapping maps a parameter to the environment variable it sets.
type envMapping struct {
	param    string
	env      string
	required bool
}

var envMappings = []envMapping{
	{param: "SnowflakeSecretArn", env: "SNOWFLAKE_SECRET_ARN", required: true},
	{param: "RepositoryName", env: "DBT_REPOSITORY_NAME", required: true},
	{param: "GitHubSecretArn", env: "GITHUB_SECRET_ARN"},
	{param: "CodeCommitRoleArn", env: "CODECOMMIT_ROLE_ARN"},
}

// SetEnvVars exports the deployment parameters the handler needs.
//
// When SAM_CONFIG_FILE is unset and the default file does not exist, the
// environment is assumed to be preset (as it is inside Lambda) and left
// untouched.
func SetEnvVars(logger Logger) error {
	if os.Getenv(SamConfigFileEnv) == "" {
		if _, err := os.Stat(DefaultSamConfigFile); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}

	params, err := LoadParameters("", "")
	if err != nil {
		return err
	}

	set := func(name, value string) error {
		if err := os.Setenv(name, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
		if logger != nil {
			logger.LogInfo(fmt.Sprintf("Set %s=%s environment variable", name, value))
		}
		return nil
	}

	for _, m := range envMappings {
		value, ok := params[m.param]
		if !ok {
			if m.required {
				return &models.PreconditionError{Name: m.param, Reason: "is missing from the parameter overrides"}
			}
			continue
		}
		if err := set(m.env, value); err != nil {
			return err
		}
	}

	stem, ok := params["DbtDocsBucketStem"]
	if !ok {
		return &models.PreconditionError{Name: "DbtDocsBucketStem", Reason: "is missing from the parameter overrides"}
	}
	appEnv := os.Getenv(AppEnvEnv)
	if appEnv == "" {
		appEnv = DefaultAppEnv
	}
	return set("DBT_DOCS_BUCKET", stem+"-"+appEnv)
}
