package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"k3smcp/internal/config"
	"k3smcp/pkg/logging"
)

// serve runs the configured transport and the ops endpoint. SIGINT and
// SIGTERM end both; so does the end of the stdio stream.
func serve(ctx context.Context, cfg *Config, settings config.Config, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if services.Ops != nil {
		g.Go(func() error {
			return services.Ops.ListenAndServe(ctx, settings.Ops.Address)
		})
	}
	g.Go(func() error {
		defer cancel()
		return runTransport(ctx, cfg, settings, services)
	})
	return g.Wait()
}

func runTransport(ctx context.Context, cfg *Config, settings config.Config, services *Services) error {
	switch settings.Transport.Mode {
	case config.TransportSocket:
		return services.Server.ServeUnix(ctx, settings.Transport.SocketPath)
	default:
		if cfg.Stdin == nil && cfg.Stdout == nil {
			return services.Server.ServeStdio(ctx)
		}
		logging.Debug("Bootstrap", "Serving MCP on injected streams")
		return services.Server.ServeConn(ctx, cfg.Stdin, cfg.Stdout)
	}
}
