package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"k3smcp/internal/app"
)

var (
	serveConfigPath       string
	serveDebug            bool
	serveReadOnly         bool
	serveAllowDestructive bool
	serveKubeconfig       string
	serveContext          string
	serveNamespace        string
	serveTransport        string
	serveSocketPath       string
	serveOpsAddress       string
)

// serveCmd starts the MCP server. It is the main command of k3smcp.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Starts the MCP server and serves the tool catalog to agents.

Transports:
  stdio   (default) one agent on stdin/stdout; logs go to stderr.
  socket  agents connect to a unix socket, one session per connection.

The cluster connection is verified before serving; the command exits with a
non-zero status when the cluster is unreachable or the credentials are
rejected.

Configuration:
  k3smcp layers ~/.config/k3smcp/config.yaml, ./.k3smcp/config.yaml, the file
  given with --config and K3SMCP_* environment variables. Flags override all
  of them.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// serveOverrides maps the flags the user actually set onto app.Config.
func serveOverrides(cmd *cobra.Command) *app.Config {
	cfg := app.NewConfig(serveConfigPath, serveDebug)
	cfg.Version = rootCmd.Version
	flags := cmd.Flags()
	if flags.Changed("read-only") {
		cfg.ReadOnly = &serveReadOnly
	}
	if flags.Changed("allow-destructive") {
		cfg.AllowDestructive = &serveAllowDestructive
	}
	cfg.Kubeconfig = serveKubeconfig
	cfg.Context = serveContext
	cfg.Namespace = serveNamespace
	cfg.Transport = serveTransport
	cfg.SocketPath = serveSocketPath
	cfg.OpsAddress = serveOpsAddress
	return cfg
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.NewApplication(serveOverrides(cmd))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.StringVar(&serveConfigPath, "config", "", "Configuration file applied after the user and project files")
	flags.BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	flags.BoolVar(&serveReadOnly, "read-only", false, "Refuse every tool that changes the cluster")
	flags.BoolVar(&serveAllowDestructive, "allow-destructive", true, "Allow destructive tools (delete, exec) when not read-only")
	flags.StringVar(&serveKubeconfig, "kubeconfig", "", "Path to the kubeconfig file")
	flags.StringVar(&serveContext, "context", "", "Kubeconfig context to use instead of the current one")
	flags.StringVarP(&serveNamespace, "namespace", "n", "", "Namespace used when a tool call names none")
	flags.StringVar(&serveTransport, "transport", "", `Transport: "stdio" or "socket"`)
	flags.StringVar(&serveSocketPath, "socket", "", "Unix socket path for the socket transport")
	flags.StringVar(&serveOpsAddress, "ops-address", "", "Address for /healthz, /readyz and /metrics (disabled when empty)")
}
