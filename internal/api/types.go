package api

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
)

// SideEffect classifies how much a tool can change cluster state.
type SideEffect string

const (
	SideEffectReadOnly    SideEffect = "read-only"
	SideEffectMutating    SideEffect = "mutating"
	SideEffectDestructive SideEffect = "destructive"
)

// Mutates reports whether the class changes cluster state.
func (s SideEffect) Mutates() bool {
	return s == SideEffectMutating || s == SideEffectDestructive
}

// TargetFunc extracts the resource a mutating call acts on. It returns false
// when the target cannot be determined from the arguments alone.
type TargetFunc func(args Arguments) (ResourceKey, bool)

// ToolDescriptor describes a callable tool. Descriptors are built once at
// startup and never modified afterwards.
type ToolDescriptor struct {
	// Tool carries the name, description, input schema and hints advertised to agents.
	Tool       mcp.Tool
	SideEffect SideEffect
	// Streaming tools may emit partial results before the terminal response.
	Streaming bool
	Target    TargetFunc
}

// Name returns the unique tool name.
func (d ToolDescriptor) Name() string { return d.Tool.Name }

// Handler executes a tool call.
type Handler func(ctx context.Context, inv *Invocation) (*Payload, error)

// ResourceKey identifies one named cluster resource.
type ResourceKey struct {
	Kind      string
	Namespace string
	Name      string
}

func (k ResourceKey) String() string {
	if k.Namespace == "" {
		return fmt.Sprintf("%s/%s", k.Kind, k.Name)
	}
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.Namespace, k.Name)
}

// Emitter delivers partial results of a streaming call. Emit fails once the
// call has been cancelled or its session has gone away; handlers must stop
// producing output when it does.
type Emitter interface {
	Emit(ctx context.Context, chunk string) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, chunk string) error

func (f EmitterFunc) Emit(ctx context.Context, chunk string) error { return f(ctx, chunk) }

// discardEmitter drops partial output; used when the caller cannot receive it.
type discardEmitter struct{}

func (discardEmitter) Emit(ctx context.Context, _ string) error { return ctx.Err() }

// DiscardEmitter returns an Emitter that only reports cancellation.
func DiscardEmitter() Emitter { return discardEmitter{} }

// CallRequest is one decoded tools/call.
type CallRequest struct {
	RequestID string
	SessionID string
	Tool      string
	Args      Arguments
	Emitter   Emitter
}

// Payload is the rendered success output of a tool.
type Payload struct {
	Text string
	// Mutation is MutationApplied for successful state-changing calls.
	Mutation  MutationState
	Truncated bool
}

// TextPayload builds a plain text payload.
func TextPayload(format string, args ...interface{}) *Payload {
	return &Payload{Text: fmt.Sprintf(format, args...)}
}

// Truncate cuts text to at most limit bytes on a rune boundary and appends
// a marker saying how much was kept.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || len(text) <= limit {
		return text, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return fmt.Sprintf("%s\n... [truncated: showing %d of %d bytes]", text[:cut], cut, len(text)), true
}

// Clamp truncates the payload text to limit bytes.
func (p *Payload) Clamp(limit int) {
	if text, cut := Truncate(p.Text, limit); cut {
		p.Text = text
		p.Truncated = true
	}
}

// CallResult is the single outcome produced for every CallRequest.
type CallResult struct {
	RequestID string
	Tool      string
	Payload   *Payload
	Err       *Error
}

// OK reports whether the call succeeded.
func (r *CallResult) OK() bool { return r.Err == nil }

// Limits bounds the size of rendered output.
type Limits struct {
	MaxListItems     int
	MaxPayloadBytes  int
	DefaultTailLines int
}

// Invocation is what a handler receives: validated arguments plus the
// session-owned cluster client.
type Invocation struct {
	RequestID        string
	SessionID        string
	Tool             string
	Args             Arguments
	Cluster          ClusterClient
	DefaultNamespace string
	Limits           Limits
	Emitter          Emitter
}

// Namespace returns the namespace argument, falling back to the session default.
func (inv *Invocation) Namespace() string {
	if ns := strings.TrimSpace(inv.Args.String("namespace")); ns != "" {
		return ns
	}
	return inv.DefaultNamespace
}
