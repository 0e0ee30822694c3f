// Package dispatcher routes decoded tool calls to their handlers.
//
// For every call the dispatcher, in order:
//
//  1. looks the tool up in the frozen registry (UnknownTool)
//  2. validates the arguments against the tool's input schema (InvalidArgument)
//  3. applies the safety policy (PermissionDenied)
//  4. registers the call as in flight on its session, bounded by the call budget
//  5. serializes mutations of the same resource within the session
//  6. runs the handler and maps its outcome to exactly one CallResult
//
// Steps 1-3 never touch the cluster. The in-flight registration is released
// on every exit path, including handler panics.
package dispatcher
