package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.StepTimeout)
	assert.Equal(t, "jitter", cfg.BackoffKind)
	assert.Equal(t, time.Second, cfg.BackoffInitial)
	assert.Equal(t, time.Minute, cfg.BackoffMax)
	assert.EqualValues(t, 16, cfg.MaxConcurrentActivities)
	assert.Equal(t, "sha256", cfg.AuditHashAlg)
	assert.Equal(t, 24, cfg.JWTExpirationHours)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ListenAddr())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("STEP_TIMEOUT", "45s")
	t.Setenv("BACKOFF_KIND", "constant")
	t.Setenv("AUDIT_HASH_ALG", "blake2b-256")
	t.Setenv("ACTIVITY_ENDPOINT", "http://activities.internal:7000")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/pipeline", cfg.DatabaseURL)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 45*time.Second, cfg.StepTimeout)
	assert.Equal(t, "constant", cfg.BackoffKind)
	assert.Equal(t, "blake2b-256", cfg.AuditHashAlg)
	assert.Equal(t, "http://activities.internal:7000", cfg.ActivityEndpoint)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.NoError(t, cfg.RequireDatabase())
}

func TestLoad_ConfigFileBelowEnvironment(t *testing.T) {
	content := "port: 7000\nmax_retries: 1\nartifact_dir: /var/lib/pipeline\n"
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("MAX_RETRIES", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 2, cfg.MaxRetries, "environment wins over the file")
	assert.Equal(t, "/var/lib/pipeline", cfg.ArtifactDir)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"negative retries", "MAX_RETRIES", "-1", "MAX_RETRIES"},
		{"unknown backoff", "BACKOFF_KIND", "fibonacci", "BACKOFF_KIND"},
		{"unknown hash", "AUDIT_HASH_ALG", "md5", "AUDIT_HASH_ALG"},
		{"port out of range", "PORT", "70000", "PORT"},
		{"bad endpoint", "ACTIVITY_ENDPOINT", "not a url", "ACTIVITY_ENDPOINT"},
		{"zero concurrency", "MAX_CONCURRENT_ACTIVITIES", "0", "MAX_CONCURRENT_ACTIVITIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg, err := Load("")
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_BackoffMaxBelowInitial(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.BackoffInitial = time.Minute
	cfg.BackoffMax = time.Second
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKOFF_MAX")
}

func TestRequireDatabase(t *testing.T) {
	cfg := &Config{}
	err := cfg.RequireDatabase()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
