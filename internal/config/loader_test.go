package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withPaths points the user and project lookups at dir and clears the environment.
func withPaths(t *testing.T, dir string, env []string) {
	t.Helper()
	originalUser := getUserConfigPath
	originalProject := getProjectConfigPath
	originalEnviron := environ
	t.Cleanup(func() {
		getUserConfigPath = originalUser
		getProjectConfigPath = originalProject
		environ = originalEnviron
	})

	getUserConfigPath = func() (string, error) {
		return filepath.Join(dir, userConfigDir, configFileName), nil
	}
	getProjectConfigPath = func() (string, error) {
		return filepath.Join(dir, projectConfigDir, configFileName), nil
	}
	environ = func() []string { return env }
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	withPaths(t, t.TempDir(), nil)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Layering(t *testing.T) {
	dir := t.TempDir()
	withPaths(t, dir, nil)

	writeFile(t, filepath.Join(dir, userConfigDir, configFileName), `
cluster:
  context: user-ctx
  defaultNamespace: team-a
safety:
  readOnly: true
timeouts:
  call: 10s
`)
	writeFile(t, filepath.Join(dir, projectConfigDir, configFileName), `
cluster:
  context: project-ctx
safety:
  readOnly: false
`)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "project-ctx", cfg.Cluster.Context, "project overrides user")
	assert.Equal(t, "team-a", cfg.Cluster.DefaultNamespace, "user value survives when project omits it")
	assert.False(t, cfg.Safety.ReadOnly, "explicit false overrides earlier true")
	assert.True(t, cfg.Safety.AllowDestructive, "default survives")
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Call)
	assert.Equal(t, 30*time.Minute, cfg.Timeouts.Idle)
}

func TestLoadConfig_ExplicitAndEnv(t *testing.T) {
	dir := t.TempDir()
	withPaths(t, dir, []string{
		"K3SMCP_SAFETY_READ_ONLY=true",
		"K3SMCP_TIMEOUT_GRACE=2s",
		"K3SMCP_TIMEOUT_STREAM=90s",
		"K3SMCP_LIMIT_MAX_LIST_ITEMS=50",
		"K3SMCP_CLUSTER_CONTEXT=env-ctx",
		"UNRELATED=1",
	})

	explicit := filepath.Join(dir, "custom.yaml")
	writeFile(t, explicit, `
cluster:
  context: file-ctx
transport:
  mode: socket
  socketPath: /tmp/k3smcp.sock
`)

	cfg, err := LoadConfig(explicit)
	require.NoError(t, err)

	assert.Equal(t, "env-ctx", cfg.Cluster.Context, "environment overrides files")
	assert.True(t, cfg.Safety.ReadOnly)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Grace)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Stream)
	assert.Equal(t, 50, cfg.Limits.MaxListItems)
	assert.Equal(t, TransportSocket, cfg.Transport.Mode)
	assert.Equal(t, "/tmp/k3smcp.sock", cfg.Transport.SocketPath)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	withPaths(t, dir, nil)

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "explicit file must exist")

	writeFile(t, filepath.Join(dir, projectConfigDir, configFileName), "cluster: [not, a, map")
	_, err = LoadConfig("")
	assert.Error(t, err)

	withPaths(t, t.TempDir(), []string{"K3SMCP_TIMEOUT_CALL=soon"})
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero call timeout", func(c *Config) { c.Timeouts.Call = 0 }, "timeouts.call"},
		{"negative stream timeout", func(c *Config) { c.Timeouts.Stream = -time.Second }, "timeouts.stream"},
		{"no attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"inverted backoff", func(c *Config) { c.Retry.MaxBackoff = time.Millisecond }, "retry.maxBackoff"},
		{"zero concurrency", func(c *Config) { c.Limits.MaxConcurrentCalls = 0 }, "limits.maxConcurrentCalls"},
		{"bad mode", func(c *Config) { c.Transport.Mode = "http" }, "unknown transport.mode"},
		{"socket without path", func(c *Config) { c.Transport.Mode = TransportSocket }, "socketPath"},
		{"empty namespace", func(c *Config) { c.Cluster.DefaultNamespace = "" }, "defaultNamespace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
