package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8321, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Git.LockMaxRetries)
	assert.Equal(t, time.Second, cfg.Git.LockRetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.Git.StaleLockAge)
	assert.Equal(t, 3, cfg.QA.MaxAutoFixAttempts)
	assert.Equal(t, 3, cfg.QA.MaxInlineTriggerDepth)
	assert.Equal(t, "temporal", cfg.Executor.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
git:
  lock_max_retries: 2
  lock_retry_delay: 250ms
executor:
  backend: local
logging:
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Git.LockMaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Git.LockRetryDelay)
	assert.Equal(t, "local", cfg.Executor.Backend)
	// Unset keys keep defaults.
	assert.Equal(t, 3, cfg.QA.MaxAutoFixAttempts)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROTOCOLD_SERVER_PORT", "7777")
	t.Setenv("PROTOCOLD_QA_MAX_AUTO_FIX_ATTEMPTS", "1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 1, cfg.QA.MaxAutoFixAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"negative retries", func(c *Config) { c.Git.LockMaxRetries = -1 }},
		{"negative delay", func(c *Config) { c.Git.LockRetryDelay = -time.Second }},
		{"negative fix budget", func(c *Config) { c.QA.MaxAutoFixAttempts = -1 }},
		{"unknown backend", func(c *Config) { c.Executor.Backend = "lambda" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "server.port", envTransform("PROTOCOLD_SERVER_PORT"))
	assert.Equal(t, "git.lock_max_retries", envTransform("PROTOCOLD_GIT_LOCK_MAX_RETRIES"))
	assert.Equal(t, "qa.max_auto_fix_attempts", envTransform("PROTOCOLD_QA_MAX_AUTO_FIX_ATTEMPTS"))
}
