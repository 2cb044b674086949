package awsenv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegion(t *testing.T) {
	tests := []struct {
		name          string
		opts          Options
		region        string
		defaultRegion string
		want          string
	}{
		{"explicit", Options{Region: "us-west-2"}, "eu-west-1", "", "us-west-2"},
		{"AWS_REGION", Options{}, "eu-west-1", "ap-south-1", "eu-west-1"},
		{"AWS_DEFAULT_REGION", Options{}, "", "ap-south-1", "ap-south-1"},
		{"fallback", Options{}, "", "", DefaultRegion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AWS_REGION", tt.region)
			t.Setenv("AWS_DEFAULT_REGION", tt.defaultRegion)
			assert.Equal(t, tt.want, tt.opts.region())
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Options{}.Validate())
	assert.NoError(t, Options{AccessKey: "a", SecretKey: "s"}.Validate())
	assert.Error(t, Options{AccessKey: "a"}.Validate())
	assert.Error(t, Options{MaxAttempts: -1}.Validate())
}

func TestLoad_StaticCredentials(t *testing.T) {
	cfg, err := Load(context.Background(), Options{
		Region:      "eu-central-1",
		AccessKey:   "AKIDEXAMPLE",
		SecretKey:   "secret",
		MaxAttempts: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", cfg.Region)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, 1, cfg.RetryMaxAttempts)
}
