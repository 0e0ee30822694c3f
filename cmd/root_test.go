package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"k3smcp/internal/kube"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "k3smcp" {
		t.Errorf("Expected Use to be 'k3smcp', got %s", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}
	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, expected := range []string{"version", "serve", "tools", "contexts"} {
		if !found[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("0.4.0")
	var buf bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)

	if got := buf.String(); got != "k3smcp version 0.4.0\n" {
		t.Errorf("Unexpected version output %q", got)
	}
}

func TestToolsCommand(t *testing.T) {
	var buf bytes.Buffer
	cmd := newToolsCmd()
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)

	output := buf.String()
	for _, want := range []string{"list_resources", "stream_pod_logs", "delete_resource", "kind*", "pod_name*"} {
		if !strings.Contains(output, want) {
			t.Errorf("tools output should contain %q. Got:\n%s", want, output)
		}
	}
}

func TestContextsCommand(t *testing.T) {
	kubeconfig := filepath.Join(t.TempDir(), "config")
	err := os.WriteFile(kubeconfig, []byte(`apiVersion: v1
kind: Config
current-context: k3d-dev
clusters:
- name: k3d-dev
  cluster:
    server: https://127.0.0.1:6443
contexts:
- name: k3d-dev
  context:
    cluster: k3d-dev
    user: admin
    namespace: apps
- name: k3d-staging
  context:
    cluster: k3d-dev
    user: admin
users:
- name: admin
  user:
    token: secret
`), 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := kube.GetAvailableContexts(kubeconfig); err != nil {
		t.Fatalf("fixture kubeconfig does not load: %v", err)
	}

	var buf bytes.Buffer
	cmd := newContextsCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--kubeconfig", kubeconfig})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("contexts failed: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"k3d-dev", "k3d-staging", "apps"} {
		if !strings.Contains(output, want) {
			t.Errorf("contexts output should contain %q. Got:\n%s", want, output)
		}
	}
	if strings.Contains(output, "secret") {
		t.Error("contexts output must not show credentials")
	}
}

func TestServeOverrides(t *testing.T) {
	if err := serveCmd.ParseFlags([]string{"--read-only", "--context", "k3d-dev", "-n", "apps"}); err != nil {
		t.Fatal(err)
	}

	cfg := serveOverrides(serveCmd)
	if cfg.ReadOnly == nil || !*cfg.ReadOnly {
		t.Error("Expected --read-only to be applied")
	}
	if cfg.AllowDestructive != nil {
		t.Error("Expected unset --allow-destructive to keep the configured value")
	}
	if cfg.Context != "k3d-dev" || cfg.Namespace != "apps" {
		t.Errorf("Unexpected cluster overrides: context=%q namespace=%q", cfg.Context, cfg.Namespace)
	}
}
