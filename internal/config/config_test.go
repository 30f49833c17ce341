package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, int64(100*1024*1024), s.MaxFilesizeAllowed)
	assert.Equal(t, 100, s.BatchSize)
	assert.Equal(t, 10, s.Concurrency)
	assert.Equal(t, 7*24*time.Hour, s.CheckDelay())
	assert.False(t, s.WebhookEnabled)
}

func TestValidate(t *testing.T) {
	s := DefaultSettings()
	s.DatabaseURL = ""
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.WebhookEnabled = true
	assert.Error(t, s.Validate(), "enabled webhook needs a URL")
	s.WebhookURL = "https://catalog.example.com/api/notify"
	assert.NoError(t, s.Validate())

	s = DefaultSettings()
	s.BatchSize = 0
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.CheckDelayDays = -1
	assert.Error(t, s.Validate())
}

func TestLoaderEnvOverrides(t *testing.T) {
	t.Setenv("HYDRA_DATABASE_URL", "/tmp/other.db")
	t.Setenv("HYDRA_WEBHOOK_ENABLED", "true")
	t.Setenv("HYDRA_WEBHOOK_URL", "https://catalog.example.com/notify")
	t.Setenv("HYDRA_BATCH_SIZE", "25")
	t.Setenv("HYDRA_CHECK_DELAY_DAYS", "0.5")
	t.Setenv("HYDRA_SLEEP_BETWEEN_BATCHES", "90")
	t.Setenv("HYDRA_REQUEST_TIMEOUT", "15s")
	t.Setenv("HYDRA_EXCLUDED_PATTERNS", "http%example1%, %forbidden%")

	s, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/other.db", s.DatabaseURL)
	assert.True(t, s.WebhookEnabled)
	assert.Equal(t, 25, s.BatchSize)
	assert.Equal(t, 12*time.Hour, s.CheckDelay())
	assert.Equal(t, 90*time.Second, s.SleepBetweenBatches, "bare numbers are seconds")
	assert.Equal(t, 15*time.Second, s.RequestTimeout)
	assert.Equal(t, []string{"http%example1%", "%forbidden%"}, s.ExcludedPatterns)
}

func TestLoaderYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydra.yml")
	require.NoError(t, os.WriteFile(path, []byte(
		"database_url: /tmp/from-file.db\nbatch_size: 42\nuser_agent: test-agent\n"), 0o644))

	loader := NewLoader()
	loader.SetConfigPath(path)
	s, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-file.db", s.DatabaseURL)
	assert.Equal(t, 42, s.BatchSize)
	assert.Equal(t, "test-agent", s.UserAgent)
	assert.Equal(t, 10, s.Concurrency, "unset keys keep their defaults")
}

func TestLoaderEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydra.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"batch_size": 42}`), 0o644))
	t.Setenv("HYDRA_BATCH_SIZE", "7")

	loader := NewLoader()
	loader.SetConfigPath(path)
	s, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, s.BatchSize)
}

func TestLoaderInvalidConfigFails(t *testing.T) {
	t.Setenv("HYDRA_BATCH_SIZE", "-3")
	_, err := NewLoader().Load()
	assert.Error(t, err)
}
