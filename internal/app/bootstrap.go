package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"k3smcp/internal/config"
	"k3smcp/pkg/logging"
)

// Application is the main application structure that bootstraps and runs k3smcp.
type Application struct {
	config   *Config
	settings config.Config
	services *Services
}

// NewApplication loads and validates the configuration, initializes logging
// and wires every component.
func NewApplication(cfg *Config) (*Application, error) {
	// Log to stderr until the configured level is known; stdout may carry MCP.
	bootLevel := logging.LevelInfo
	if cfg.Debug {
		bootLevel = logging.LevelDebug
	}
	logging.InitForCLI(bootLevel, os.Stderr)

	settings, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration")
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Apply(&settings)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(settings.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Init(logging.Options{Level: level, Format: settings.Logging.Format, Output: os.Stderr})

	services, err := InitializeServices(cfg, settings)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		settings: settings,
		services: services,
	}, nil
}

// Settings returns the effective configuration.
func (a *Application) Settings() config.Config { return a.settings }

// Services returns the wired components.
func (a *Application) Services() *Services { return a.services }

// Run verifies the cluster and serves agents until the transport ends or ctx
// is cancelled, then closes every session.
func (a *Application) Run(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, a.settings.Timeouts.Call)
	err := a.services.CheckCluster(checkCtx)
	cancel()
	if err != nil {
		logging.Error("Bootstrap", err, "Cluster check failed")
		return err
	}
	logging.Info("Bootstrap", "Cluster reachable (context=%q, %d tools, read-only=%t, destructive=%t)",
		a.settings.Cluster.Context, a.services.Registry.Len(),
		a.settings.Safety.ReadOnly, a.settings.Safety.AllowDestructive)

	runErr := serve(ctx, a.config, a.settings, a.services)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.settings.Timeouts.Grace+time.Second)
	defer cancel()
	if err := a.services.Sessions.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Bootstrap", "Sessions did not close in time: %v", err)
	}
	logging.Info("Bootstrap", "Shut down")
	return runErr
}
