// Package transport carries MCP between agents and the dispatcher.
//
// Messages are newline-delimited JSON-RPC 2.0 objects, read from stdin or
// from a unix socket connection. Each connection is exactly one session:
// initialize opens it against the configured cluster, and the end of the
// connection closes it.
//
// Tool failures are answered as tool results with isError set and the error
// kind, code and mutation state in _meta. Only protocol-level problems
// (malformed JSON, unknown methods, unknown tools) become JSON-RPC errors,
// and malformed JSON also ends the connection.
//
// Streaming tools send each chunk as a notifications/progress message when
// the agent supplied a progress token; otherwise the chunks are returned with
// the final result. The final result of a streaming call carries
// _meta.stream = "end".
package transport
