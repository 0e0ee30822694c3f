package app

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k3smcp/internal/api"
	"k3smcp/internal/config"
	"k3smcp/internal/kube/kubetest"
)

// isolate keeps user and project configuration files out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func boolPtr(b bool) *bool { return &b }

// sessionsOnly hands the startup check a throwaway client, since it closes
// what it gets, and fake to every session after that.
func sessionsOnly(fake *kubetest.Fake) func(context.Context, config.ClusterConfig) (api.ClusterClient, error) {
	var calls atomic.Int32
	return func(context.Context, config.ClusterConfig) (api.ClusterClient, error) {
		if calls.Add(1) == 1 {
			return kubetest.NewFake(), nil
		}
		return fake, nil
	}
}

func TestConfigApply(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		check func(t *testing.T, s config.Config)
	}{
		{
			name: "no overrides keep loaded values",
			cfg:  Config{},
			check: func(t *testing.T, s config.Config) {
				assert.Equal(t, config.GetDefaultConfig(), s)
			},
		},
		{
			name: "safety flags",
			cfg:  Config{ReadOnly: boolPtr(true), AllowDestructive: boolPtr(false)},
			check: func(t *testing.T, s config.Config) {
				assert.True(t, s.Safety.ReadOnly)
				assert.False(t, s.Safety.AllowDestructive)
			},
		},
		{
			name: "cluster selection",
			cfg:  Config{Kubeconfig: "/tmp/k3s.yaml", Context: "k3d-dev", Namespace: "apps"},
			check: func(t *testing.T, s config.Config) {
				assert.Equal(t, config.ClusterConfig{Kubeconfig: "/tmp/k3s.yaml", Context: "k3d-dev", DefaultNamespace: "apps"}, s.Cluster)
			},
		},
		{
			name: "transport and ops",
			cfg:  Config{Transport: "socket", SocketPath: "/run/k3smcp.sock", OpsAddress: ":9464", Debug: true},
			check: func(t *testing.T, s config.Config) {
				assert.Equal(t, config.TransportSocket, s.Transport.Mode)
				assert.Equal(t, "/run/k3smcp.sock", s.Transport.SocketPath)
				assert.Equal(t, ":9464", s.Ops.Address)
				assert.Equal(t, "debug", s.Logging.Level)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := config.GetDefaultConfig()
			tt.cfg.Apply(&settings)
			tt.check(t, settings)
		})
	}
}

func TestNewApplication(t *testing.T) {
	isolate(t)
	cfg := NewConfig(writeConfig(t, "safety:\n  readOnly: true\nlimits:\n  maxListItems: 20\n"), false)
	cfg.NewClient = func(context.Context, config.ClusterConfig) (api.ClusterClient, error) {
		return kubetest.NewFake(), nil
	}

	a, err := NewApplication(cfg)
	require.NoError(t, err)
	assert.True(t, a.Settings().Safety.ReadOnly)
	assert.Equal(t, 20, a.Settings().Limits.MaxListItems)
	assert.Equal(t, 12, a.Services().Registry.Len())
	assert.True(t, a.Services().Registry.Frozen())
	assert.Nil(t, a.Services().Ops, "ops endpoint is off without an address")
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	isolate(t)

	_, err := NewApplication(NewConfig(writeConfig(t, "transport:\n  mode: tcp\n"), false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.mode")

	_, err = NewApplication(NewConfig(writeConfig(t, "logging:\n  level: loud\n"), false))
	assert.Error(t, err)

	_, err = NewApplication(NewConfig(filepath.Join(t.TempDir(), "missing.yaml"), false))
	assert.Error(t, err)
}

func TestRun_UnreachableCluster(t *testing.T) {
	isolate(t)
	fake := kubetest.NewFake()
	fake.PingErr = api.NewError(api.KindUnavailable, "dial tcp 127.0.0.1:6443: connection refused")

	cfg := NewConfig("", false)
	cfg.NewClient = func(context.Context, config.ClusterConfig) (api.ClusterClient, error) { return fake, nil }
	cfg.Stdin, cfg.Stdout = io.MultiReader(), io.Discard

	a, err := NewApplication(cfg)
	require.NoError(t, err)
	err = a.Run(context.Background())
	assert.Equal(t, api.KindConnectionError, api.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRun_Stdio(t *testing.T) {
	isolate(t)
	fake := kubetest.NewFake()
	fake.Add(kubetest.Pod("default", "web"))

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	cfg := NewConfig("", false)
	cfg.Version = "1.2.3"
	cfg.ReadOnly = boolPtr(true)
	cfg.NewClient = sessionsOnly(fake)
	cfg.Stdin, cfg.Stdout = inR, outW

	a, err := NewApplication(cfg)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	out := bufio.NewReader(outR)
	roundTrip := func(line string) map[string]any {
		t.Helper()
		_, err := inW.Write([]byte(line + "\n"))
		require.NoError(t, err)
		resp, err := out.ReadBytes('\n')
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(resp, &msg))
		return msg
	}

	initialized := roundTrip(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"t","version":"0"}}}`)
	info := initialized["result"].(map[string]any)["serverInfo"].(map[string]any)
	assert.Equal(t, "1.2.3", info["version"])

	call := roundTrip(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"delete_resource","arguments":{"kind":"Pod","name":"web"}}}`)
	result := call["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
	assert.Equal(t, "PermissionDenied", result["_meta"].(map[string]any)["errorKind"])
	assert.NotNil(t, fake.Object("Pod", "default", "web"))

	require.NoError(t, inW.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop after stdin closed")
	}
	assert.Equal(t, 0, a.Services().Sessions.Len())
}
