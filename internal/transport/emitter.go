package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"k3smcp/internal/api"
)

// progressEmitter forwards every chunk of a streaming call as a
// notifications/progress message carrying the agent's progress token.
type progressEmitter struct {
	out   *writer
	token mcp.ProgressToken

	mu    sync.Mutex
	count float64
}

func (e *progressEmitter) Emit(ctx context.Context, chunk string) error {
	if err := ctx.Err(); err != nil {
		return api.AsError(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count++
	return e.out.write(notification{
		JSONRPC: mcp.JSONRPC_VERSION,
		Method:  methodProgress,
		Params: mcp.ProgressNotificationParams{
			ProgressToken: e.token,
			Progress:      e.count,
			Message:       chunk,
		},
	})
}

// bufferEmitter collects chunks for agents that did not ask for progress.
// They are returned ahead of the final summary. Once limit bytes are held
// further chunks are counted but dropped.
type bufferEmitter struct {
	limit int

	mu      sync.Mutex
	chunks  []string
	size    int
	dropped int
}

func (e *bufferEmitter) Emit(ctx context.Context, chunk string) error {
	if err := ctx.Err(); err != nil {
		return api.AsError(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.limit > 0 && e.size+len(chunk) > e.limit {
		e.dropped++
		return nil
	}
	e.chunks = append(e.chunks, chunk)
	e.size += len(chunk) + 1
	return nil
}

// text returns the buffered output, or "" when nothing was emitted.
func (e *bufferEmitter) text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.chunks) == 0 && e.dropped == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.Join(e.chunks, "\n"))
	if e.dropped > 0 {
		fmt.Fprintf(&b, "\n... [%d chunks dropped]", e.dropped)
	}
	return b.String()
}
