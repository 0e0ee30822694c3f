// Package config provides configuration management for k3smcp.
//
// Configuration is loaded from multiple sources and merged in order, with
// later sources overriding earlier ones:
//
//  1. Built-in defaults (GetDefaultConfig)
//  2. User configuration (~/.config/k3smcp/config.yaml)
//  3. Project configuration (./.k3smcp/config.yaml)
//  4. An explicit file passed with --config
//  5. Environment variables prefixed with K3SMCP_
//
// Command line flags are applied by the caller after LoadConfig returns, and
// the result is checked with Config.Validate.
//
// # Configuration Structure
//
//	cluster:
//	  kubeconfig: /home/me/.kube/k3d.yaml
//	  context: k3d-dev
//	  defaultNamespace: default
//	safety:
//	  readOnly: false
//	  allowDestructive: true
//	timeouts:
//	  call: 30s
//	  stream: 5m
//	  idle: 30m
//	  grace: 5s
//	  sweepInterval: 1m
//	retry:
//	  attempts: 3
//	  initialBackoff: 200ms
//	  maxBackoff: 2s
//	limits:
//	  maxConcurrentCalls: 16
//	  maxListItems: 500
//	  maxPayloadBytes: 262144
//	  defaultTailLines: 100
//	transport:
//	  mode: stdio        # or "socket"
//	  socketPath: /run/k3smcp.sock
//	ops:
//	  address: 127.0.0.1:9464
//	logging:
//	  level: info
//	  format: text
//
// # Environment Variables
//
// Every field has an environment counterpart, for example
// K3SMCP_SAFETY_READ_ONLY=true or K3SMCP_TIMEOUT_CALL=10s.
package config
