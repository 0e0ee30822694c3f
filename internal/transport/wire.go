package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"k3smcp/internal/api"
)

const (
	methodInitialized = "notifications/initialized"
	methodCancelled   = "notifications/cancelled"
	methodProgress    = "notifications/progress"
)

// message is any inbound JSON-RPC object. Requests carry an id and a method,
// notifications only a method, and responses to server requests an id with a
// result or error.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *mcp.RequestId  `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (m *message) isResponse() bool {
	return m.Method == "" && m.ID != nil && (m.Result != nil || m.Error != nil)
}

// errorData is attached to every JSON-RPC error so agents can branch on the
// error kind without parsing the message.
type errorData struct {
	ErrorKind api.Kind `json:"errorKind"`
	Code      string   `json:"code"`
	Fields    []string `json:"fields,omitempty"`
}

// rpcError builds a JSON-RPC error envelope for id.
func rpcError(id mcp.RequestId, code int, message string, data any) mcp.JSONRPCError {
	e := mcp.JSONRPCError{JSONRPC: mcp.JSONRPC_VERSION, ID: id}
	e.Error.Code = code
	e.Error.Message = message
	e.Error.Data = data
	return e
}

// rpcErrorFrom reports a typed failure as a JSON-RPC error.
func rpcErrorFrom(id mcp.RequestId, err *api.Error) mcp.JSONRPCError {
	return rpcError(id, err.Kind.RPCCode(), err.Error(), errorData{
		ErrorKind: err.Kind,
		Code:      err.Code(),
		Fields:    err.Fields,
	})
}

func rpcResult(id mcp.RequestId, result any) mcp.JSONRPCResponse {
	return mcp.JSONRPCResponse{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Result: result}
}

// notification is an outbound notification with arbitrary params.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// errLineTooLong is returned by readLine when a message exceeds the limit.
var errLineTooLong = errors.New("message exceeds the size limit")

// readLine reads one newline-terminated message of at most max bytes.
// A final unterminated line is returned as is.
func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if max > 0 && len(line) > max {
			return nil, errLineTooLong
		}
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, nil
		default:
			return nil, err
		}
	}
}

// writer serializes whole messages onto the connection. After the first
// write error every later write fails fast.
type writer struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

func (w *writer) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return api.WrapError(api.KindInternalError, err, "cannot encode message")
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if _, err := w.w.Write(data); err != nil {
		w.err = api.WrapError(api.KindConnectionError, err, "agent connection lost")
	}
	return w.err
}
