package kube

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

func writeKubeconfig(t *testing.T, current string) string {
	t.Helper()
	config := clientcmdapi.Config{
		CurrentContext: current,
		Contexts: map[string]*clientcmdapi.Context{
			"k3d-dev":  {Cluster: "k3d-dev", Namespace: "apps"},
			"k3d-prod": {Cluster: "k3d-prod"},
		},
		Clusters: map[string]*clientcmdapi.Cluster{
			"k3d-dev":  {Server: "https://127.0.0.1:6443"},
			"k3d-prod": {Server: "https://127.0.0.1:6444"},
		},
	}
	path := filepath.Join(t.TempDir(), "kubeconfig")
	if err := clientcmd.WriteToFile(config, path); err != nil {
		t.Fatalf("Failed to write temp kubeconfig: %v", err)
	}
	return path
}

func TestGetAvailableContexts(t *testing.T) {
	path := writeKubeconfig(t, "k3d-prod")

	contexts, err := GetAvailableContexts(path)
	require.NoError(t, err)
	require.Len(t, contexts, 2)

	assert.Equal(t, ContextInfo{Name: "k3d-dev", Cluster: "k3d-dev", Namespace: "apps"}, contexts[0])
	assert.Equal(t, "k3d-prod", contexts[1].Name)
	assert.True(t, contexts[1].Current)
}

func TestValidateContext(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		contextName string
		wantErr     bool
	}{
		{"explicit existing context", "", "k3d-dev", false},
		{"current context", "k3d-prod", "", false},
		{"no current context", "", "", true},
		{"unknown context", "k3d-prod", "kind-test", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeKubeconfig(t, tt.current)
			err := ValidateContext(path, tt.contextName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetAvailableContexts_MissingFile(t *testing.T) {
	_, err := GetAvailableContexts(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
