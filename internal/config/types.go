package config

import (
	"time"
)

// Transport modes.
const (
	TransportStdio  = "stdio"
	TransportSocket = "socket"
)

// Config is the top-level configuration structure for k3smcp.
type Config struct {
	Cluster   ClusterConfig   `yaml:"cluster" envPrefix:"CLUSTER_"`
	Safety    SafetyConfig    `yaml:"safety" envPrefix:"SAFETY_"`
	Timeouts  TimeoutConfig   `yaml:"timeouts" envPrefix:"TIMEOUT_"`
	Retry     RetryConfig     `yaml:"retry" envPrefix:"RETRY_"`
	Limits    LimitsConfig    `yaml:"limits" envPrefix:"LIMIT_"`
	Transport TransportConfig `yaml:"transport" envPrefix:"TRANSPORT_"`
	Ops       OpsConfig       `yaml:"ops" envPrefix:"OPS_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
}

// ClusterConfig selects the cluster and credentials a session connects with.
type ClusterConfig struct {
	// Kubeconfig is an explicit kubeconfig path. Empty uses KUBECONFIG and ~/.kube/config.
	Kubeconfig string `yaml:"kubeconfig,omitempty" env:"KUBECONFIG"`
	// Context overrides the kubeconfig's current context.
	Context          string `yaml:"context,omitempty" env:"CONTEXT"`
	DefaultNamespace string `yaml:"defaultNamespace,omitempty" env:"DEFAULT_NAMESPACE"`
}

// SafetyConfig is the policy gate applied before any handler runs.
type SafetyConfig struct {
	// ReadOnly rejects every mutating and destructive tool.
	ReadOnly bool `yaml:"readOnly" env:"READ_ONLY"`
	// AllowDestructive permits destructive tools when not read-only.
	AllowDestructive bool `yaml:"allowDestructive" env:"ALLOW_DESTRUCTIVE"`
}

// TimeoutConfig holds the call budgets and session lifetimes. Stream bounds
// tools that emit partial results, which outlive a normal call.
type TimeoutConfig struct {
	Call          time.Duration `yaml:"call,omitempty" env:"CALL"`
	Stream        time.Duration `yaml:"stream,omitempty" env:"STREAM"`
	Idle          time.Duration `yaml:"idle,omitempty" env:"IDLE"`
	Grace         time.Duration `yaml:"grace,omitempty" env:"GRACE"`
	SweepInterval time.Duration `yaml:"sweepInterval,omitempty" env:"SWEEP_INTERVAL"`
}

// RetryConfig bounds retries of read-only calls that fail with Unavailable.
type RetryConfig struct {
	Attempts       int           `yaml:"attempts,omitempty" env:"ATTEMPTS"`
	InitialBackoff time.Duration `yaml:"initialBackoff,omitempty" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"maxBackoff,omitempty" env:"MAX_BACKOFF"`
}

type LimitsConfig struct {
	MaxConcurrentCalls int `yaml:"maxConcurrentCalls,omitempty" env:"MAX_CONCURRENT_CALLS"`
	MaxListItems       int `yaml:"maxListItems,omitempty" env:"MAX_LIST_ITEMS"`
	MaxPayloadBytes    int `yaml:"maxPayloadBytes,omitempty" env:"MAX_PAYLOAD_BYTES"`
	DefaultTailLines   int `yaml:"defaultTailLines,omitempty" env:"DEFAULT_TAIL_LINES"`
}

type TransportConfig struct {
	Mode       string `yaml:"mode,omitempty" env:"MODE"`
	SocketPath string `yaml:"socketPath,omitempty" env:"SOCKET_PATH"`
}

// OpsConfig configures the operational HTTP endpoint. An empty address disables it.
type OpsConfig struct {
	Address string `yaml:"address,omitempty" env:"ADDRESS"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" env:"LEVEL"`
	Format string `yaml:"format,omitempty" env:"FORMAT"`
}
