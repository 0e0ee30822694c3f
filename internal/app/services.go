package app

import (
	"context"

	"k3smcp/internal/api"
	"k3smcp/internal/config"
	"k3smcp/internal/dispatcher"
	"k3smcp/internal/kube"
	"k3smcp/internal/ops"
	"k3smcp/internal/registry"
	"k3smcp/internal/session"
	"k3smcp/internal/tools"
	"k3smcp/internal/transport"
)

const instructions = "Tools operate on one Kubernetes cluster. Read-only tools are always safe; " +
	"create, patch, scale, delete and exec change the cluster and may be refused by the server policy. " +
	"stream_pod_logs sends log lines as progress notifications when a progress token is supplied."

// Services holds the wired components of a running server.
type Services struct {
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Sessions   *session.Manager
	Server     *transport.Server
	Ops        *ops.Server

	newClient session.ClientFactory
	cluster   config.ClusterConfig
}

// NewClientFactory builds session clients from the kubeconfig.
func NewClientFactory(settings config.Config) session.ClientFactory {
	return func(_ context.Context, cluster config.ClusterConfig) (api.ClusterClient, error) {
		client, err := kube.NewClient(kube.Options{
			Kubeconfig: cluster.Kubeconfig,
			Context:    cluster.Context,
			Timeout:    settings.Timeouts.Call,
			Retry: kube.RetryPolicy{
				Attempts:       settings.Retry.Attempts,
				InitialBackoff: settings.Retry.InitialBackoff,
				MaxBackoff:     settings.Retry.MaxBackoff,
			},
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// InitializeServices builds the tool catalog, dispatcher, session manager and
// transport from settings.
func InitializeServices(cfg *Config, settings config.Config) (*Services, error) {
	reg := registry.New()
	if err := tools.Register(reg); err != nil {
		return nil, err
	}
	reg.Freeze()

	d := dispatcher.New(reg, dispatcher.Options{
		Policy:        dispatcher.PolicyFromConfig(settings.Safety),
		CallTimeout:   settings.Timeouts.Call,
		StreamTimeout: settings.Timeouts.Stream,
		Limits: api.Limits{
			MaxListItems:     settings.Limits.MaxListItems,
			MaxPayloadBytes:  settings.Limits.MaxPayloadBytes,
			DefaultTailLines: settings.Limits.DefaultTailLines,
		},
	})

	factory := cfg.NewClient
	if factory == nil {
		factory = NewClientFactory(settings)
	}
	sessions := session.NewManager(session.OptionsFromConfig(&settings, factory))

	server := transport.NewServer(d, sessions, transport.Options{
		Version:          cfg.Version,
		Instructions:     instructions,
		Cluster:          settings.Cluster,
		MaxBufferedBytes: settings.Limits.MaxPayloadBytes,
	})

	s := &Services{
		Registry:   reg,
		Dispatcher: d,
		Sessions:   sessions,
		Server:     server,
		newClient:  factory,
		cluster:    settings.Cluster,
	}
	if settings.Ops.Address != "" {
		s.Ops = ops.New(s.CheckCluster)
	}
	return s, nil
}

// CheckCluster connects to the configured cluster once and verifies the
// endpoint and credentials.
func (s *Services) CheckCluster(ctx context.Context) error {
	client, err := s.newClient(ctx, s.cluster)
	if err != nil {
		return api.WrapError(api.KindConnectionError, err, "cannot create cluster client: %v", err)
	}
	defer client.Close()
	if err := client.Ping(ctx); err != nil {
		return api.WrapError(api.KindConnectionError, err, "cluster is unreachable: %v", api.AsError(err).Message)
	}
	return nil
}
