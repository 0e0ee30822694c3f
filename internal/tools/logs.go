package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"k3smcp/internal/api"
	"k3smcp/internal/registry"
)

const (
	defaultStreamDuration = time.Minute
	defaultStreamMaxLines = 1000
	defaultStreamTail     = 10
	// streamDeadlineMargin leaves room to deliver the final result before
	// the call budget expires.
	streamDeadlineMargin = time.Second
)

func getPodLogsTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("get_pod_logs", "Get pod logs",
				"Get the most recent log lines of a pod container",
				api.SideEffectReadOnly, true,
				podNameParam(),
				namespaceParam(),
				containerParam(),
				mcp.WithNumber("tail_lines",
					mcp.Description("Number of lines from the end of the log; defaults to the configured tail"),
					integer(),
					mcp.Min(1),
				),
				mcp.WithNumber("since_seconds",
					mcp.Description("Only return lines newer than this many seconds"),
					integer(),
					mcp.Min(1),
				),
				mcp.WithBoolean("previous",
					mcp.Description("Return logs of the previous, terminated container instance"),
					mcp.DefaultBool(false),
				),
			),
			SideEffect: api.SideEffectReadOnly,
		},
		Handler: handleGetPodLogs,
	}
}

func handleGetPodLogs(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	namespace, pod := inv.Namespace(), inv.Args.String("pod_name")
	tail := inv.Args.Int("tail_lines", int64(inv.Limits.DefaultTailLines))
	opts := api.LogOptions{
		Container: inv.Args.String("container"),
		TailLines: &tail,
		Previous:  inv.Args.Bool("previous", false),
	}
	if inv.Args.Has("since_seconds") {
		since := inv.Args.Int("since_seconds", 0)
		opts.SinceSeconds = &since
	}

	stream, err := inv.Cluster.StreamLogs(ctx, namespace, pod, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var b strings.Builder
	lines, truncated := 0, false
	for {
		line, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if limit := inv.Limits.MaxPayloadBytes; limit > 0 && b.Len()+len(line.Text)+1 > limit {
			truncated = true
			break
		}
		b.WriteString(line.Text)
		b.WriteByte('\n')
		lines++
	}

	if lines == 0 && !truncated {
		return api.TextPayload("No log output for pod %s/%s.", namespace, pod), nil
	}
	payload := &api.Payload{Text: b.String(), Truncated: truncated}
	if truncated {
		payload.Text += fmt.Sprintf("... [truncated after %d lines; lower tail_lines to see the end]\n", lines)
	}
	return payload, nil
}

func streamPodLogsTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("stream_pod_logs", "Stream pod logs",
				"Follow the logs of a pod container, sending each line as a progress notification until max_lines or duration_seconds is reached",
				api.SideEffectReadOnly, false,
				podNameParam(),
				namespaceParam(),
				containerParam(),
				mcp.WithNumber("tail_lines",
					mcp.Description("Number of existing lines to send before following"),
					integer(),
					mcp.Min(0),
					mcp.DefaultNumber(defaultStreamTail),
				),
				mcp.WithNumber("max_lines",
					mcp.Description("Stop after this many lines"),
					integer(),
					mcp.Min(1),
					mcp.DefaultNumber(defaultStreamMaxLines),
				),
				mcp.WithNumber("duration_seconds",
					mcp.Description("Stop following after this many seconds"),
					integer(),
					mcp.Min(1),
					mcp.Max(3600),
					mcp.DefaultNumber(defaultStreamDuration.Seconds()),
				),
			),
			SideEffect: api.SideEffectReadOnly,
			Streaming:  true,
		},
		Handler: handleStreamPodLogs,
	}
}

func handleStreamPodLogs(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	namespace, pod := inv.Namespace(), inv.Args.String("pod_name")
	tail := inv.Args.Int("tail_lines", defaultStreamTail)
	maxLines := inv.Args.Int("max_lines", defaultStreamMaxLines)
	window := time.Duration(inv.Args.Int("duration_seconds", int64(defaultStreamDuration.Seconds()))) * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining-streamDeadlineMargin < window {
			window = remaining - streamDeadlineMargin
		}
		if window <= 0 {
			window = remaining / 2
		}
	}

	streamCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	stream, err := inv.Cluster.StreamLogs(streamCtx, namespace, pod, api.LogOptions{
		Container: inv.Args.String("container"),
		TailLines: &tail,
		Follow:    true,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var sent int64
	var reason string
	for reason == "" {
		line, err := stream.Next(streamCtx)
		switch {
		case errors.Is(err, io.EOF):
			reason = "log stream ended"
		case err != nil && ctx.Err() == nil && streamCtx.Err() != nil:
			reason = fmt.Sprintf("followed for %s", window.Round(time.Second))
		case err != nil:
			return nil, err
		default:
			if err := inv.Emitter.Emit(ctx, line.Text); err != nil {
				return nil, err
			}
			sent++
			if sent >= maxLines {
				reason = "max_lines reached"
			}
		}
	}
	return api.TextPayload("Streamed %d log lines from pod %s/%s (%s).", sent, namespace, pod, reason), nil
}
