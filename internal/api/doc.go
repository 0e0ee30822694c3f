// Package api holds the types shared by every layer of k3smcp.
//
// It has no dependencies on other internal packages so that the adapter,
// registry, dispatcher, session manager and transport can all depend on it
// without cycles.
//
// # Errors
//
// Every failure is an *Error carrying a Kind. Kinds map to stable codes
// through a fixed table:
//
//	kind := api.KindOf(err)
//	kind.Code()    // "not_found"
//	kind.RPCCode() // -32002
//
// Mutating calls additionally record a MutationState so that an agent can
// tell "never attempted" apart from "sent, outcome unknown".
//
// # Tools
//
// A ToolDescriptor couples an mcp.Tool definition with its side-effect class.
// Handlers receive an Invocation holding validated Arguments and the
// session's ClusterClient.
package api
