package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// missingConfigPath returns a path with no file behind it so loading
// falls through to defaults.
func missingConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithFile(missingConfigPath(t))
	require.NoError(t, err)

	assert.Equal(t, 9190, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.NotEmpty(t, cfg.Store.Path)
	assert.Equal(t, "claude", cfg.Executor.Binary)
	assert.Equal(t, 4000, cfg.Executor.OffloadThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Executor.DefaultTimeout.Duration())
	assert.Equal(t, 30, cfg.Executor.DefaultMaxTurns)
	assert.NotEmpty(t, cfg.Workflow.WorkDir)
	assert.Equal(t, 0, cfg.Workflow.MaxConcurrent)
}

func TestLoadFromYAMLFile(t *testing.T) {
	content := `
server:
  port: 8080
  shutdown_timeout: 30s
logging:
  level: debug
  format: console
store:
  path: /var/lib/remedyd/sessions.db
executor:
  binary: /usr/local/bin/claude
  offload_threshold: 8000
  default_timeout: 2m
  default_max_turns: 10
workflow:
  work_dir: /srv/repo
  max_concurrent: 4
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "/var/lib/remedyd/sessions.db", cfg.Store.Path)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Executor.Binary)
	assert.Equal(t, 8000, cfg.Executor.OffloadThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Executor.DefaultTimeout.Duration())
	assert.Equal(t, 10, cfg.Executor.DefaultMaxTurns)
	assert.Equal(t, "/srv/repo", cfg.Workflow.WorkDir)
	assert.Equal(t, 4, cfg.Workflow.MaxConcurrent)
}

func TestEnvOverridesFile(t *testing.T) {
	content := "server:\n  port: 8080\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("EXECUTOR_BINARY", "/opt/tools/claude")
	t.Setenv("WORKFLOW_MAX_CONCURRENT", "2")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/opt/tools/claude", cfg.Executor.Binary)
	assert.Equal(t, 2, cfg.Workflow.MaxConcurrent)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "port",
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "port",
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store path",
		},
		{
			name:    "missing binary",
			mutate:  func(c *Config) { c.Executor.Binary = "" },
			wantErr: "binary",
		},
		{
			name:    "negative threshold",
			mutate:  func(c *Config) { c.Executor.OffloadThreshold = -1 },
			wantErr: "threshold",
		},
		{
			name:    "negative max concurrent",
			mutate:  func(c *Config) { c.Workflow.MaxConcurrent = -1 },
			wantErr: "concurrent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithFile(missingConfigPath(t))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
	require.Error(t, d.UnmarshalText([]byte("-5s")))
}

func TestDurationMarshal(t *testing.T) {
	d := Duration(90 * time.Second)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	jsonBytes, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(jsonBytes))
}
