package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"k3smcp/internal/api"
	"k3smcp/internal/metrics"
	"k3smcp/internal/session"
	"k3smcp/pkg/logging"
)

type inbound struct {
	line []byte
	err  error
}

// conn is one agent connection and the session bound to it.
type conn struct {
	srv *Server
	in  *bufio.Reader
	out *writer

	// sess is set by initialize on the read loop before any call starts.
	sess  *session.Session
	calls sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// pendingCall is a tools/call that has not been answered yet.
type pendingCall struct {
	cancel    context.CancelFunc
	cancelled bool
}

func newConn(srv *Server, r io.Reader, w io.Writer) *conn {
	return &conn{
		srv:     srv,
		in:      bufio.NewReaderSize(r, 64*1024),
		out:     &writer{w: w},
		pending: make(map[string]*pendingCall),
	}
}

func (c *conn) serve(ctx context.Context) error {
	lines := make(chan inbound)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			line, err := readLine(c.in, c.srv.opts.MaxMessageBytes)
			select {
			case lines <- inbound{line: line, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	reason, err := c.loop(ctx, lines)
	if c.sess != nil {
		c.srv.sessions.Close(c.sess, reason)
	}
	c.calls.Wait()
	return err
}

// loop handles messages in arrival order and reports why the connection ended.
func (c *conn) loop(ctx context.Context, lines <-chan inbound) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return session.ReasonShutdown, nil
		case <-c.sessionDone():
			return session.ReasonIdle, nil
		case in := <-lines:
			if in.err != nil {
				return c.readFailed(in.err)
			}
			if err := c.handle(ctx, in.line); err != nil {
				logging.Warn("Transport", "Closing connection: %v", err)
				return session.ReasonError, err
			}
		}
	}
}

func (c *conn) sessionDone() <-chan struct{} {
	if c.sess == nil {
		return nil
	}
	return c.sess.Done()
}

func (c *conn) readFailed(err error) (string, error) {
	if errors.Is(err, io.EOF) {
		return session.ReasonDisconnect, nil
	}
	if errors.Is(err, errLineTooLong) {
		metrics.ProtocolErrorsTotal.WithLabelValues("oversized").Inc()
		perr := api.WrapError(api.KindProtocolError, err, "message larger than %d bytes", c.srv.opts.MaxMessageBytes)
		_ = c.out.write(rpcErrorFrom(mcp.RequestId{}, perr))
		return session.ReasonError, perr
	}
	logging.Debug("Transport", "Read failed: %v", err)
	return session.ReasonDisconnect, nil
}

// handle processes one inbound line. A returned error ends the connection.
func (c *conn) handle(ctx context.Context, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	if line[0] == '[' {
		metrics.ProtocolErrorsTotal.WithLabelValues("batch").Inc()
		return c.out.write(rpcError(mcp.RequestId{}, mcp.INVALID_REQUEST, "batch requests are not supported", nil))
	}

	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		metrics.ProtocolErrorsTotal.WithLabelValues("parse").Inc()
		perr := api.WrapError(api.KindProtocolError, err, "malformed message: %v", err)
		_ = c.out.write(rpcErrorFrom(mcp.RequestId{}, perr))
		return perr
	}
	if msg.isResponse() {
		return nil
	}
	if msg.JSONRPC != mcp.JSONRPC_VERSION || msg.Method == "" {
		metrics.ProtocolErrorsTotal.WithLabelValues("invalid").Inc()
		if msg.ID == nil {
			return nil
		}
		return c.out.write(rpcError(*msg.ID, mcp.INVALID_REQUEST, `invalid request: want jsonrpc "2.0" and a method`, nil))
	}
	if c.sess != nil {
		c.sess.Touch()
	}

	if msg.ID == nil {
		c.notify(&msg)
		return nil
	}
	id := *msg.ID
	switch mcp.MCPMethod(msg.Method) {
	case mcp.MethodInitialize:
		return c.initialize(ctx, id, msg.Params)
	case mcp.MethodPing:
		return c.out.write(rpcResult(id, mcp.EmptyResult{}))
	case mcp.MethodToolsList:
		if c.sess == nil {
			return c.notInitialized(id)
		}
		return c.out.write(rpcResult(id, mcp.ListToolsResult{Tools: c.srv.dispatcher.Registry().Tools()}))
	case mcp.MethodToolsCall:
		if c.sess == nil {
			return c.notInitialized(id)
		}
		return c.call(ctx, id, msg.Params)
	default:
		return c.out.write(rpcError(id, mcp.METHOD_NOT_FOUND, fmt.Sprintf("method %q not found", msg.Method), nil))
	}
}

func (c *conn) notInitialized(id mcp.RequestId) error {
	return c.out.write(rpcError(id, mcp.INVALID_REQUEST, "session not initialized: send initialize first", nil))
}

func (c *conn) notify(msg *message) {
	switch msg.Method {
	case methodInitialized:
	case methodCancelled:
		var params mcp.CancelledNotificationParams
		if err := json.Unmarshal(msg.Params, &params); err != nil || c.sess == nil {
			return
		}
		c.mu.Lock()
		if p, ok := c.pending[params.RequestId.String()]; ok {
			logging.Debug("Transport", "Agent cancelled request %s: %s", params.RequestId.String(), params.Reason)
			p.cancelled = true
			p.cancel()
		}
		c.mu.Unlock()
	default:
		logging.Debug("Transport", "Ignoring notification %s", msg.Method)
	}
}

func (c *conn) initialize(ctx context.Context, id mcp.RequestId, raw json.RawMessage) error {
	if c.sess != nil {
		return c.out.write(rpcError(id, mcp.INVALID_REQUEST, "session already initialized", nil))
	}
	var params mcp.InitializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return c.out.write(rpcErrorFrom(id, api.InvalidArgument(nil, "invalid initialize params: %v", err)))
		}
	}

	sess, err := c.srv.sessions.Open(ctx, c.srv.opts.Cluster)
	if err != nil {
		apiErr := api.AsError(err)
		logging.Error("Transport", err, "Rejecting agent %s", params.ClientInfo.Name)
		_ = c.out.write(rpcErrorFrom(id, apiErr))
		return apiErr
	}
	c.sess = sess
	logging.Info("Transport", "Agent %s %s connected (session=%s, protocol=%s)",
		params.ClientInfo.Name, params.ClientInfo.Version, sess.ID(), params.ProtocolVersion)

	result := mcp.InitializeResult{
		ProtocolVersion: negotiate(params.ProtocolVersion),
		ServerInfo:      mcp.Implementation{Name: c.srv.opts.Name, Version: c.srv.opts.Version},
		Instructions:    c.srv.opts.Instructions,
	}
	result.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged,omitempty"`
	}{}
	return c.out.write(rpcResult(id, result))
}

// negotiate echoes a supported protocol version and offers the latest otherwise.
func negotiate(requested string) string {
	if slices.Contains(mcp.ValidProtocolVersions, requested) {
		return requested
	}
	return mcp.LATEST_PROTOCOL_VERSION
}

func (c *conn) call(ctx context.Context, id mcp.RequestId, raw json.RawMessage) error {
	var params mcp.CallToolParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Name == "" {
		return c.out.write(rpcErrorFrom(id, api.InvalidArgument([]string{"name"}, "tools/call needs a tool name")))
	}
	var args api.Arguments
	switch a := params.Arguments.(type) {
	case nil:
		args = api.Arguments{}
	case map[string]any:
		args = a
	default:
		return c.out.write(rpcErrorFrom(id, api.InvalidArgument([]string{"arguments"}, "arguments must be an object")))
	}

	entry, err := c.srv.dispatcher.Registry().Lookup(params.Name)
	streaming := err == nil && entry.Descriptor.Streaming

	var emitter api.Emitter = api.DiscardEmitter()
	var buffered *bufferEmitter
	if streaming {
		if params.Meta != nil && params.Meta.ProgressToken != nil {
			emitter = &progressEmitter{out: c.out, token: params.Meta.ProgressToken}
		} else {
			buffered = &bufferEmitter{limit: c.srv.opts.MaxBufferedBytes}
			emitter = buffered
		}
	}

	req := api.CallRequest{
		RequestID: id.String(),
		SessionID: c.sess.ID(),
		Tool:      params.Name,
		Args:      args,
		Emitter:   emitter,
	}
	callCtx, cancel := context.WithCancel(ctx)
	p := &pendingCall{cancel: cancel}
	c.mu.Lock()
	if _, dup := c.pending[req.RequestID]; dup {
		c.mu.Unlock()
		cancel()
		return c.out.write(rpcErrorFrom(id, api.InvalidArgument([]string{"id"}, "request %v is already in flight", id.Value())))
	}
	c.pending[req.RequestID] = p
	c.mu.Unlock()

	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		res := c.srv.dispatcher.Handle(callCtx, c.sess, req)

		c.mu.Lock()
		delete(c.pending, req.RequestID)
		suppress := p.cancelled && !res.OK() && res.Err.Kind == api.KindCancelled
		c.mu.Unlock()
		cancel()
		if suppress {
			logging.Debug("Transport", "Not answering cancelled request %s", req.RequestID)
			return
		}

		var reply any
		if !res.OK() && res.Err.Kind == api.KindUnknownTool {
			reply = rpcErrorFrom(id, res.Err)
		} else {
			var streamed string
			if buffered != nil {
				streamed = buffered.text()
			}
			reply = rpcResult(id, toolResult(res, streaming, streamed))
		}
		if err := c.out.write(reply); err != nil {
			logging.Debug("Transport", "Dropping response to %s: %v", req.RequestID, err)
		}
	}()
	return nil
}

// toolResult renders a call outcome as an MCP tool result. Failures are
// results with isError set; _meta carries the error kind, its code, the
// mutation state and offending fields.
func toolResult(res *api.CallResult, streaming bool, streamed string) *mcp.CallToolResult {
	out := &mcp.CallToolResult{}
	meta := map[string]any{}
	if streamed != "" {
		out.Content = append(out.Content, mcp.NewTextContent(streamed))
	}

	if res.OK() {
		out.Content = append(out.Content, mcp.NewTextContent(res.Payload.Text))
		if res.Payload.Mutation != api.MutationNone {
			meta["mutation"] = string(res.Payload.Mutation)
		}
		if res.Payload.Truncated {
			meta["truncated"] = true
		}
	} else {
		out.IsError = true
		out.Content = append(out.Content, mcp.NewTextContent(res.Err.Error()))
		meta["errorKind"] = string(res.Err.Kind)
		meta["code"] = res.Err.Code()
		if res.Err.Mutation != api.MutationNone {
			meta["mutation"] = string(res.Err.Mutation)
		}
		if len(res.Err.Fields) > 0 {
			meta["fields"] = res.Err.Fields
		}
	}
	if streaming {
		meta["stream"] = "end"
	}
	if len(meta) > 0 {
		out.Meta = meta
	}
	return out
}
