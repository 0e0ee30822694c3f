package config

import (
	"errors"
	"fmt"
	"time"
)

// GetDefaultConfig returns the built-in configuration every layer is applied on top of.
func GetDefaultConfig() Config {
	return Config{
		Cluster: ClusterConfig{
			DefaultNamespace: "default",
		},
		Safety: SafetyConfig{
			ReadOnly:         false,
			AllowDestructive: true,
		},
		Timeouts: TimeoutConfig{
			Call:          30 * time.Second,
			Stream:        5 * time.Minute,
			Idle:          30 * time.Minute,
			Grace:         5 * time.Second,
			SweepInterval: time.Minute,
		},
		Retry: RetryConfig{
			Attempts:       3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
		Limits: LimitsConfig{
			MaxConcurrentCalls: 16,
			MaxListItems:       500,
			MaxPayloadBytes:    256 * 1024,
			DefaultTailLines:   100,
		},
		Transport: TransportConfig{
			Mode: TransportStdio,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"timeouts.call", c.Timeouts.Call},
		{"timeouts.stream", c.Timeouts.Stream},
		{"timeouts.idle", c.Timeouts.Idle},
		{"timeouts.grace", c.Timeouts.Grace},
		{"timeouts.sweepInterval", c.Timeouts.SweepInterval},
		{"retry.initialBackoff", c.Retry.InitialBackoff},
		{"retry.maxBackoff", c.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, fmt.Errorf("retry.maxBackoff (%s) must not be below retry.initialBackoff (%s)", c.Retry.MaxBackoff, c.Retry.InitialBackoff))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts))
	}

	limits := []struct {
		name  string
		value int
	}{
		{"limits.maxConcurrentCalls", c.Limits.MaxConcurrentCalls},
		{"limits.maxListItems", c.Limits.MaxListItems},
		{"limits.maxPayloadBytes", c.Limits.MaxPayloadBytes},
		{"limits.defaultTailLines", c.Limits.DefaultTailLines},
	}
	for _, l := range limits {
		if l.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", l.name, l.value))
		}
	}

	switch c.Transport.Mode {
	case TransportStdio:
	case TransportSocket:
		if c.Transport.SocketPath == "" {
			errs = append(errs, errors.New("transport.socketPath is required in socket mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport.mode %q (want %q or %q)", c.Transport.Mode, TransportStdio, TransportSocket))
	}

	if c.Cluster.DefaultNamespace == "" {
		errs = append(errs, errors.New("cluster.defaultNamespace must not be empty"))
	}

	return errors.Join(errs...)
}
