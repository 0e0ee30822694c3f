// Package session manages agent sessions.
//
// A session is opened per agent connection. Opening builds a dedicated
// cluster client from explicit cluster configuration and verifies it with a
// ping; a session never shares its client with another session.
//
// Lifecycle:
//
//	Opening -> Active -> Closing -> Closed
//	Opening -> Closed (handshake failed)
//
// Closing is triggered by a disconnect, the idle sweep or shutdown. It
// cancels every in-flight call, waits up to the grace period for the calls
// to return and then releases the cluster client exactly once.
//
// Each session also bounds how many calls run at once; callers beyond the
// limit wait in Track until a slot frees up or their context ends.
package session
