package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatenmitdaten/dbt-lambda/internal/config"
	"github.com/tatenmitdaten/dbt-lambda/internal/docs"
)

const samConfigFixture = `version: 0.1
dev:
  deploy:
    parameters:
      profile: data-dev
      parameter_overrides:
        - SnowflakeSecretArn=arn:snowflake
        - DbtDocsBucketStem=acme-dbt-docs
        - RepositoryName=analytics
`

func writeSamConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samconfig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samConfigFixture), 0o644))
	t.Cleanup(config.ResetParameterCache)
	return path
}

type fakeLoader struct {
	key    string
	bucket string
}

func (f *fakeLoader) LoadIndexHTML(ctx context.Context, key string) (string, error) {
	f.key = key
	f.bucket = os.Getenv("DBT_DOCS_BUCKET")
	return "<html>" + key + "</html>", nil
}

func stubLoader(t *testing.T, l *fakeLoader) {
	t.Helper()
	orig := newDocsLoader
	newDocsLoader = func(cfg *config.Config, log docs.Logger) docsLoader { return l }
	t.Cleanup(func() { newDocsLoader = orig })
}

func TestDocs(t *testing.T) {
	t.Setenv(config.SamConfigFileEnv, writeSamConfig(t))
	for _, name := range []string{"DBT_DOCS_BUCKET", "SNOWFLAKE_SECRET_ARN", "DBT_REPOSITORY_NAME"} {
		t.Setenv(name, "")
	}
	loader := &fakeLoader{}
	stubLoader(t, loader)

	out, err := execute(t, "docs")
	require.NoError(t, err)
	assert.Equal(t, "<html>index.html</html>\n", out)
	assert.Equal(t, "acme-dbt-docs-dev", loader.bucket)

	out, err = execute(t, "docs", "archive/old.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>archive/old.html</html>\n", out)
	assert.Equal(t, "archive/old.html", loader.key)
}

func TestDocs_MissingSamConfig(t *testing.T) {
	t.Setenv(config.SamConfigFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Cleanup(config.ResetParameterCache)
	stubLoader(t, &fakeLoader{})

	_, err := execute(t, "docs")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParams(t *testing.T) {
	path := writeSamConfig(t)

	out, err := execute(t, "params", "--file", path)
	require.NoError(t, err)

	want := "DbtDocsBucketStem=acme-dbt-docs\n" +
		"RepositoryName=analytics\n" +
		"SnowflakeSecretArn=arn:snowflake\n" +
		"profile=data-dev\n"
	assert.Equal(t, want, out)
}

func TestParams_UnknownEnv(t *testing.T) {
	path := writeSamConfig(t)

	_, err := execute(t, "params", "--env", "prod", "--file", path)
	assert.ErrorContains(t, err, `environment "prod" not found`)
}
