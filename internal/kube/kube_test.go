package kube

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
)

var (
	podGVR        = schema.GroupVersionResource{Version: "v1", Resource: "pods"}
	nodeGVR       = schema.GroupVersionResource{Version: "v1", Resource: "nodes"}
	eventGVR      = schema.GroupVersionResource{Version: "v1", Resource: "events"}
	configMapGVR  = schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}
	deploymentGVR = schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}
)

func newTestMapper() meta.RESTMapper {
	mapper := meta.NewDefaultRESTMapper([]schema.GroupVersion{
		{Version: "v1"},
		{Group: "apps", Version: "v1"},
	})
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "Pod"}, meta.RESTScopeNamespace)
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "Event"}, meta.RESTScopeNamespace)
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}, meta.RESTScopeNamespace)
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "Node"}, meta.RESTScopeRoot)
	mapper.Add(schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"}, meta.RESTScopeNamespace)
	return mapper
}

type testEnv struct {
	client    *Client
	dynamic   *dynamicfake.FakeDynamicClient
	clientset *fake.Clientset
}

func newTestEnv(t *testing.T, objects ...runtime.Object) *testEnv {
	t.Helper()
	listKinds := map[schema.GroupVersionResource]string{
		podGVR:        "PodList",
		nodeGVR:       "NodeList",
		eventGVR:      "EventList",
		configMapGVR:  "ConfigMapList",
		deploymentGVR: "DeploymentList",
	}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds, objects...)
	clientset := fake.NewSimpleClientset()

	opts := Options{
		Timeout: 2 * time.Second,
		Retry:   RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}
	client := NewClientFromDeps(Deps{
		Dynamic:   dyn,
		Clientset: clientset,
		Discovery: clientset.Discovery(),
		Mapper:    newTestMapper(),
		Context:   "k3d-test",
		Server:    "https://127.0.0.1:6443",
	}, opts)
	return &testEnv{client: client, dynamic: dyn, clientset: clientset}
}

func newPod(namespace, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": namespace,
			"labels":    map[string]interface{}{"app": name},
		},
		"spec": map[string]interface{}{
			"containers": []interface{}{
				map[string]interface{}{"name": "main", "image": "nginx"},
			},
		},
	}}
}

func TestGetNodeStatus(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node1"},
			Status: corev1.NodeStatus{
				Conditions: []corev1.NodeCondition{
					{Type: corev1.NodeReady, Status: corev1.ConditionTrue},
				},
			},
		},
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node2"},
			Status: corev1.NodeStatus{
				Conditions: []corev1.NodeCondition{
					{Type: corev1.NodeReady, Status: corev1.ConditionFalse},
				},
			},
		},
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node3"},
			Status: corev1.NodeStatus{
				Conditions: []corev1.NodeCondition{
					{Type: corev1.NodeReady, Status: corev1.ConditionTrue},
				},
			},
		},
	)

	ready, total, nodes, err := GetNodeStatus(context.Background(), clientset)
	if err != nil {
		t.Fatalf("GetNodeStatus() error = %v, wantErr nil", err)
	}
	if ready != 2 {
		t.Errorf("GetNodeStatus() ready = %v, want 2", ready)
	}
	if total != 3 {
		t.Errorf("GetNodeStatus() total = %v, want 3", total)
	}
	if len(nodes) != 3 {
		t.Errorf("GetNodeStatus() nodes = %d, want 3", len(nodes))
	}
}

func TestDetermineProviderFromNode(t *testing.T) {
	tests := []struct {
		name string
		node *corev1.Node
		want string
	}{
		{"nil node", nil, "unknown"},
		{"k3s provider id", &corev1.Node{Spec: corev1.NodeSpec{ProviderID: "k3s://agent-0"}}, "k3s"},
		{"aws provider id", &corev1.Node{Spec: corev1.NodeSpec{ProviderID: "aws:///eu-west-1a/i-123"}}, "aws"},
		{"gce provider id", &corev1.Node{Spec: corev1.NodeSpec{ProviderID: "gce://project/zone/vm"}}, "gcp"},
		{"k3s label", &corev1.Node{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"node.kubernetes.io/instance-type": "k3s"}}}, "k3s"},
		{"azure label", &corev1.Node{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"kubernetes.azure.com/cluster": "x"}}}, "azure"},
		{"nothing", &corev1.Node{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"foo": "bar"}}}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineProviderFromNode(tt.node))
		})
	}
}

func TestClusterInfo(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.clientset.CoreV1().Nodes().Create(context.Background(), &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "server-0"},
		Spec:       corev1.NodeSpec{ProviderID: "k3s://server-0"},
		Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
			{Type: corev1.NodeReady, Status: corev1.ConditionTrue},
		}},
	}, metav1.CreateOptions{})
	require.NoError(t, err)
	env.clientset.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{
		GitVersion: "v1.30.2+k3s1",
		Platform:   "linux/amd64",
	}

	info, err := env.client.ClusterInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "k3d-test", info.Context)
	assert.Equal(t, "v1.30.2+k3s1", info.Version)
	assert.Equal(t, "k3s", info.Provider)
	assert.Equal(t, 1, info.ReadyNodes)
	assert.Equal(t, 1, info.TotalNodes)
	assert.False(t, info.CollectedAt.IsZero())
}

func TestResourceTypes(t *testing.T) {
	env := newTestEnv(t)
	env.clientset.Discovery().(*fakediscovery.FakeDiscovery).Resources = []*metav1.APIResourceList{
		{
			GroupVersion: "v1",
			APIResources: []metav1.APIResource{
				{Name: "pods", Kind: "Pod", Namespaced: true, ShortNames: []string{"po"}, Verbs: []string{"get", "list"}},
				{Name: "pods/log", Kind: "Pod", Namespaced: true},
				{Name: "nodes", Kind: "Node", Namespaced: false, ShortNames: []string{"no"}},
			},
		},
		{
			GroupVersion: "apps/v1",
			APIResources: []metav1.APIResource{
				{Name: "deployments", Kind: "Deployment", Namespaced: true, ShortNames: []string{"deploy"}},
			},
		},
	}

	types, err := env.client.ResourceTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 3, "subresources are skipped")

	assert.Equal(t, "nodes", types[0].Name)
	assert.False(t, types[0].Namespaced)
	assert.Equal(t, "pods", types[1].Name)
	assert.Equal(t, []string{"po"}, types[1].ShortNames)
	assert.Equal(t, "apps", types[2].Group)
	assert.Equal(t, "Deployment", types[2].Kind)
}

func TestPingAndClose(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.client.Ping(context.Background()))

	require.NoError(t, env.client.Close())
	require.NoError(t, env.client.Close(), "close is idempotent")

	err := env.client.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, "connection_error", apiKindCode(err))
}

type idleRecorder struct {
	closed int
}

func (r *idleRecorder) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, http.ErrNotSupported
}

func (r *idleRecorder) CloseIdleConnections() { r.closed++ }

func TestCloseReleasesIdleConnections(t *testing.T) {
	recorder := &idleRecorder{}
	client := NewClientFromDeps(Deps{
		Clientset:  fake.NewSimpleClientset(),
		HTTPClient: &http.Client{Transport: recorder},
	}, Options{})

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, 1, recorder.closed)
}

func TestNewClient_OwnsItsTransport(t *testing.T) {
	path := writeKubeconfig(t, "k3d-dev")

	first, err := NewClient(Options{Kubeconfig: path, Timeout: time.Second})
	require.NoError(t, err)
	second, err := NewClient(Options{Kubeconfig: path, Timeout: time.Second})
	require.NoError(t, err)

	require.NotNil(t, first.httpClient)
	assert.NotSame(t, first.httpClient.Transport, second.httpClient.Transport,
		"sessions must not share connections they close")
	assert.NotSame(t, http.DefaultTransport, first.httpClient.Transport)
	assert.Zero(t, first.httpClient.Timeout, "followed log streams are bounded by contexts only")
	assert.Equal(t, "k3d-dev", first.Context())
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
}
