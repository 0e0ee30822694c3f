package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k3smcp/internal/api"
	"k3smcp/internal/config"
	"k3smcp/internal/dispatcher"
	"k3smcp/internal/kube/kubetest"
	"k3smcp/internal/registry"
	"k3smcp/internal/session"
	"k3smcp/internal/tools"
)

// harness runs a server on one in-memory connection.
type harness struct {
	fake     *kubetest.Fake
	sessions *session.Manager
	in       *io.PipeWriter
	out      *io.PipeReader
	done     chan error
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, fake *kubetest.Fake, policy dispatcher.Policy) *harness {
	t.Helper()
	reg := registry.New()
	require.NoError(t, tools.Register(reg))
	reg.Freeze()

	d := dispatcher.New(reg, dispatcher.Options{
		Policy:        policy,
		CallTimeout:   5 * time.Second,
		StreamTimeout: 5 * time.Second,
		Limits:        api.Limits{MaxListItems: 50, MaxPayloadBytes: 8192, DefaultTailLines: 100},
	})
	m := session.NewManager(session.Options{
		NewClient: func(context.Context, config.ClusterConfig) (api.ClusterClient, error) {
			return fake, nil
		},
		Grace:              time.Second,
		OpenTimeout:        time.Second,
		MaxConcurrentCalls: 4,
	})
	srv := NewServer(d, m, Options{
		Version:          "test",
		Cluster:          config.ClusterConfig{DefaultNamespace: "default"},
		MaxMessageBytes:  64 * 1024,
		MaxBufferedBytes: 1024,
	})

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{fake: fake, sessions: m, in: inW, out: outR, done: make(chan error, 1), cancel: cancel}
	go func() {
		err := srv.ServeConn(ctx, inR, outW)
		_ = outW.Close()
		h.done <- err
	}()
	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
	})
	return h
}

// wait returns the result of ServeConn.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not end")
		return nil
	}
}

// notifications collects server notifications seen by the client.
type notifications struct {
	mu   sync.Mutex
	seen []mcp.JSONRPCNotification
}

func (n *notifications) add(msg mcp.JSONRPCNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, msg)
}

func (n *notifications) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, msg := range n.seen {
		if msg.Method == methodProgress {
			text, _ := msg.Params.AdditionalFields["message"].(string)
			out = append(out, text)
		}
	}
	return out
}

func connect(t *testing.T, h *harness) (*client.Client, *notifications) {
	t.Helper()
	c := client.NewClient(mcptransport.NewIO(h.out, h.in, io.NopCloser(strings.NewReader(""))))
	seen := &notifications{}
	c.OnNotification(seen.add)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "test-agent", Version: "1.0"}
	res, err := c.Initialize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "k3smcp", res.ServerInfo.Name)
	assert.Equal(t, "test", res.ServerInfo.Version)
	assert.Equal(t, mcp.LATEST_PROTOCOL_VERSION, res.ProtocolVersion)
	require.NotNil(t, res.Capabilities.Tools)
	return c, seen
}

func callTool(t *testing.T, c *client.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	var parts []string
	for _, content := range res.Content {
		tc, ok := mcp.AsTextContent(content)
		require.True(t, ok, "content is text")
		parts = append(parts, tc.Text)
	}
	return strings.Join(parts, "\n")
}

func TestServe_ListAndCall(t *testing.T) {
	fake := kubetest.NewFake()
	fake.Add(kubetest.Pod("default", "web"), kubetest.Deployment("default", "api", 2))
	h := newHarness(t, fake, dispatcher.Policy{AllowDestructive: true})
	c, _ := connect(t, h)

	require.NoError(t, c.Ping(context.Background()))

	listed, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)
	var names []string
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{
		"resource_types", "list_resources", "get_resource", "describe_resource",
		"get_pod_logs", "stream_pod_logs", "cluster_info",
		"create_resource", "patch_resource", "scale_resource", "delete_resource", "exec_pod",
	}, names)

	res := callTool(t, c, "get_resource", map[string]any{"kind": "Pod", "name": "web"})
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "name: web")
	assert.Nil(t, res.Meta)

	res = callTool(t, c, "scale_resource", map[string]any{"kind": "Deployment", "name": "api", "replicas": 3})
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "applied", res.Meta["mutation"])
}

func TestServe_ToolErrors(t *testing.T) {
	fake := kubetest.NewFake()
	h := newHarness(t, fake, dispatcher.Policy{ReadOnly: true})
	c, _ := connect(t, h)

	res := callTool(t, c, "get_resource", map[string]any{"kind": "Pod", "name": "missing"})
	assert.True(t, res.IsError)
	assert.Equal(t, "NotFound", res.Meta["errorKind"])
	assert.Equal(t, "not_found", res.Meta["code"])
	assert.Contains(t, text(t, res), "missing")
	before := fake.CallCount()

	res = callTool(t, c, "get_resource", map[string]any{"kind": "Pod"})
	assert.True(t, res.IsError)
	assert.Equal(t, "InvalidArgument", res.Meta["errorKind"])
	assert.Equal(t, []any{"name"}, res.Meta["fields"])

	res = callTool(t, c, "delete_resource", map[string]any{"kind": "Pod", "name": "web"})
	assert.True(t, res.IsError)
	assert.Equal(t, "PermissionDenied", res.Meta["errorKind"])
	assert.Equal(t, "not_attempted", res.Meta["mutation"])
	assert.Equal(t, before, fake.CallCount(), "rejected calls never reach the cluster")

	req := mcp.CallToolRequest{}
	req.Params.Name = "drop_database"
	_, err := c.CallTool(context.Background(), req)
	require.Error(t, err, "unknown tools are protocol errors")
	assert.Contains(t, err.Error(), "drop_database")
}

func TestServe_StreamWithProgress(t *testing.T) {
	fake := kubetest.NewFake()
	fake.Add(kubetest.Pod("default", "web"))
	fake.SetLogs("default", "web", "one", "two", "three")
	h := newHarness(t, fake, dispatcher.Policy{})
	c, seen := connect(t, h)

	req := mcp.CallToolRequest{}
	req.Params.Name = "stream_pod_logs"
	req.Params.Arguments = map[string]any{"pod_name": "web", "max_lines": 3}
	req.Params.Meta = &mcp.Meta{ProgressToken: "logs-1"}
	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, res.IsError)
	assert.Equal(t, "end", res.Meta["stream"])
	assert.Contains(t, text(t, res), "max_lines reached")
	assert.NotContains(t, text(t, res), "two", "chunks went out as notifications")
	require.Eventually(t, func() bool { return len(seen.messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, seen.messages())
}

func TestServe_StreamWithoutProgressToken(t *testing.T) {
	fake := kubetest.NewFake()
	fake.Add(kubetest.Pod("default", "web"))
	fake.SetLogs("default", "web", "one", "two")
	h := newHarness(t, fake, dispatcher.Policy{})
	c, seen := connect(t, h)

	res := callTool(t, c, "stream_pod_logs", map[string]any{"pod_name": "web", "max_lines": 2})
	require.False(t, res.IsError)
	require.Len(t, res.Content, 2)
	assert.Equal(t, "one\ntwo", text(t, &mcp.CallToolResult{Content: res.Content[:1]}))
	assert.Equal(t, "end", res.Meta["stream"])
	assert.Empty(t, seen.messages())
}

func TestServe_DisconnectClosesSession(t *testing.T) {
	fake := kubetest.NewFake()
	h := newHarness(t, fake, dispatcher.Policy{})
	c, _ := connect(t, h)
	require.Equal(t, 1, h.sessions.Len())

	require.NoError(t, c.Close())
	assert.NoError(t, h.wait(t))
	assert.Equal(t, 0, h.sessions.Len())
	assert.Equal(t, 1, fake.CloseCount())
}

func TestServe_OpenFailure(t *testing.T) {
	fake := kubetest.NewFake()
	fake.PingErr = api.NewError(api.KindUnavailable, "connection refused")
	h := newHarness(t, fake, dispatcher.Policy{})

	c := client.NewClient(mcptransport.NewIO(h.out, h.in, io.NopCloser(strings.NewReader(""))))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	_, err := c.Initialize(context.Background(), mcp.InitializeRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, api.KindConnectionError, api.KindOf(h.wait(t)))
}

func TestToolResult(t *testing.T) {
	res := toolResult(&api.CallResult{Payload: &api.Payload{Text: "ok", Truncated: true}}, false, "")
	assert.False(t, res.IsError)
	assert.Equal(t, map[string]any{"truncated": true}, res.Meta)

	res = toolResult(&api.CallResult{Err: api.NewError(api.KindTimeout, "call exceeded its 30s budget").
		WithMutation(api.MutationIndeterminate)}, true, "a\nb")
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 2)
	assert.Equal(t, map[string]any{
		"errorKind": "Timeout",
		"code":      "timeout",
		"mutation":  "indeterminate",
		"stream":    "end",
	}, res.Meta)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"isError":true`)
	assert.Contains(t, string(data), `"_meta"`)
}

func TestNegotiate(t *testing.T) {
	assert.Equal(t, "2024-11-05", negotiate("2024-11-05"))
	assert.Equal(t, mcp.LATEST_PROTOCOL_VERSION, negotiate("1999-01-01"))
	assert.Equal(t, mcp.LATEST_PROTOCOL_VERSION, negotiate(""))
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("short\n"+strings.Repeat("x", 100)+"\nlast"), 16)

	line, err := readLine(r, 64)
	require.NoError(t, err)
	assert.Equal(t, "short\n", string(line))

	_, err = readLine(r, 64)
	assert.ErrorIs(t, err, errLineTooLong)

	r = bufio.NewReaderSize(strings.NewReader(strings.Repeat("y", 40)+"\nlast"), 16)
	line, err = readLine(r, 64)
	require.NoError(t, err)
	assert.Len(t, line, 41)
	line, err = readLine(r, 64)
	require.NoError(t, err)
	assert.Equal(t, "last", string(line))
	_, err = readLine(r, 64)
	assert.ErrorIs(t, err, io.EOF)
}
