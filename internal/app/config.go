package app

import (
	"io"

	"k3smcp/internal/config"
	"k3smcp/internal/session"
)

// Config holds the command line settings of one run. Overrides are applied
// on top of the layered configuration; zero values keep what was loaded.
type Config struct {
	// ConfigPath is an explicit configuration file (--config).
	ConfigPath string
	// Debug forces debug logging.
	Debug bool
	// Version is reported to agents.
	Version string

	ReadOnly         *bool
	AllowDestructive *bool
	Kubeconfig       string
	Context          string
	Namespace        string
	Transport        string
	SocketPath       string
	OpsAddress       string

	// Stdin and Stdout replace the process streams in stdio mode.
	Stdin  io.Reader
	Stdout io.Writer
	// NewClient replaces the Kubernetes client factory.
	NewClient session.ClientFactory
}

// NewConfig creates a configuration for the given config file and debug flag.
func NewConfig(configPath string, debug bool) *Config {
	return &Config{ConfigPath: configPath, Debug: debug}
}

// Apply writes the command line overrides into settings.
func (c *Config) Apply(settings *config.Config) {
	if c.ReadOnly != nil {
		settings.Safety.ReadOnly = *c.ReadOnly
	}
	if c.AllowDestructive != nil {
		settings.Safety.AllowDestructive = *c.AllowDestructive
	}
	if c.Kubeconfig != "" {
		settings.Cluster.Kubeconfig = c.Kubeconfig
	}
	if c.Context != "" {
		settings.Cluster.Context = c.Context
	}
	if c.Namespace != "" {
		settings.Cluster.DefaultNamespace = c.Namespace
	}
	if c.Transport != "" {
		settings.Transport.Mode = c.Transport
	}
	if c.SocketPath != "" {
		settings.Transport.SocketPath = c.SocketPath
	}
	if c.OpsAddress != "" {
		settings.Ops.Address = c.OpsAddress
	}
	if c.Debug {
		settings.Logging.Level = "debug"
	}
}
