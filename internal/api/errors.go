package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every failure the server can report to an agent.
type Kind string

const (
	KindInvalidArgument  Kind = "InvalidArgument"
	KindUnknownTool      Kind = "UnknownTool"
	KindDuplicateTool    Kind = "DuplicateTool"
	KindNotFound         Kind = "NotFound"
	KindPermissionDenied Kind = "PermissionDenied"
	KindUnavailable      Kind = "Unavailable"
	KindTimeout          Kind = "Timeout"
	KindProtocolError    Kind = "ProtocolError"
	KindConnectionError  Kind = "ConnectionError"
	KindCancelled        Kind = "Cancelled"
	KindInternalError    Kind = "InternalError"
)

// Custom JSON-RPC codes for kinds that have no standard counterpart.
const (
	RPCPermissionDenied = -32001
	RPCNotFound         = -32002
	RPCUnavailable      = -32003
	RPCTimeout          = -32004
	RPCConnectionError  = -32005
	RPCCancelled        = -32800
)

type kindInfo struct {
	code    string
	rpcCode int
}

// kindTable is the stable mapping from error kind to wire codes. Entries are
// never renumbered; clients match on them.
var kindTable = map[Kind]kindInfo{
	KindInvalidArgument:  {code: "invalid_argument", rpcCode: -32602},
	KindUnknownTool:      {code: "unknown_tool", rpcCode: -32602},
	KindDuplicateTool:    {code: "duplicate_tool", rpcCode: -32603},
	KindNotFound:         {code: "not_found", rpcCode: RPCNotFound},
	KindPermissionDenied: {code: "permission_denied", rpcCode: RPCPermissionDenied},
	KindUnavailable:      {code: "unavailable", rpcCode: RPCUnavailable},
	KindTimeout:          {code: "timeout", rpcCode: RPCTimeout},
	KindProtocolError:    {code: "protocol_error", rpcCode: -32700},
	KindConnectionError:  {code: "connection_error", rpcCode: RPCConnectionError},
	KindCancelled:        {code: "cancelled", rpcCode: RPCCancelled},
	KindInternalError:    {code: "internal_error", rpcCode: -32603},
}

// Code returns the machine-readable code for the kind.
func (k Kind) Code() string {
	if info, ok := kindTable[k]; ok {
		return info.code
	}
	return kindTable[KindInternalError].code
}

// RPCCode returns the JSON-RPC error code used when the kind is reported as a
// protocol-level error rather than a tool result.
func (k Kind) RPCCode() int {
	if info, ok := kindTable[k]; ok {
		return info.rpcCode
	}
	return kindTable[KindInternalError].rpcCode
}

// Retryable reports whether a read-only operation failing with this kind may be retried.
func (k Kind) Retryable() bool {
	return k == KindUnavailable
}

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindInvalidArgument, KindUnknownTool, KindDuplicateTool, KindNotFound,
		KindPermissionDenied, KindUnavailable, KindTimeout, KindProtocolError,
		KindConnectionError, KindCancelled, KindInternalError,
	}
}

// MutationState records how far a mutating call got before it failed.
type MutationState string

const (
	// MutationNone is used for read-only calls.
	MutationNone MutationState = ""
	// MutationNotAttempted means the request never reached the cluster.
	MutationNotAttempted MutationState = "not_attempted"
	// MutationRejected means the cluster refused the change and nothing was applied.
	MutationRejected MutationState = "rejected"
	// MutationIndeterminate means the request was sent but its outcome is unknown.
	MutationIndeterminate MutationState = "indeterminate"
	// MutationApplied means the change was confirmed by the cluster.
	MutationApplied MutationState = "applied"
)

// Error is the typed error carried through the adapter, dispatcher and transport.
type Error struct {
	Kind     Kind
	Message  string
	Fields   []string
	Mutation MutationState
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (fields: %s)", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stable machine-readable code.
func (e *Error) Code() string { return e.Kind.Code() }

// WithMutation returns a copy of e annotated with the given mutation state.
func (e *Error) WithMutation(state MutationState) *Error {
	c := *e
	c.Mutation = state
	return &c
}

// NewError creates an error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an error of the given kind that wraps err.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidArgument reports bad input and names the offending fields.
func InvalidArgument(fields []string, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...), Fields: fields}
}

// AsError normalizes any error into an *Error. Context errors become
// Cancelled or Timeout; anything untyped becomes InternalError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "deadline exceeded", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: "cancelled", Err: err}
	}
	return &Error{Kind: KindInternalError, Message: err.Error(), Err: err}
}

// KindOf returns the kind of err, or an empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
