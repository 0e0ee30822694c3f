package kube

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	utilnet "k8s.io/apimachinery/pkg/util/net"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // Important for various auth providers
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"

	"k3smcp/internal/api"
	"k3smcp/pkg/logging"
)

// Options configures a Client.
type Options struct {
	// Kubeconfig is an explicit path. Empty uses the default loading rules
	// (KUBECONFIG, then ~/.kube/config).
	Kubeconfig string
	// Context overrides the kubeconfig's current context.
	Context string
	// Timeout is the wall-clock budget of every non-streaming operation.
	Timeout time.Duration
	Retry   RetryPolicy
}

// RetryPolicy bounds retries of read-only operations failing with Unavailable.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Timeout: 30 * time.Second,
		Retry: RetryPolicy{
			Attempts:       3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
	}
}

// Deps are the client-go interfaces a Client is built from. Tests inject fakes.
type Deps struct {
	Dynamic   dynamic.Interface
	Clientset kubernetes.Interface
	Discovery discovery.DiscoveryInterface
	Mapper    meta.RESTMapper
	// RESTConfig is needed for exec; it may be nil.
	RESTConfig *rest.Config
	// HTTPClient is the client the API clients share. Its idle connections
	// are closed with the Client; it may be nil.
	HTTPClient *http.Client
	Context    string
	Server     string
}

// Client is the cluster client adapter. It wraps the dynamic client for
// generic CRUD, the typed clientset for logs and exec, and a discovery-backed
// REST mapper for kind resolution. Resource state is never cached.
type Client struct {
	dynamic    dynamic.Interface
	clientset  kubernetes.Interface
	discovery  discovery.DiscoveryInterface
	mapper     meta.RESTMapper
	restConfig *rest.Config
	httpClient *http.Client

	contextName string
	server      string

	timeout time.Duration
	retry   RetryPolicy

	closed atomic.Bool
}

var _ api.ClusterClient = (*Client)(nil)

// NewClientFromDeps builds a Client from already constructed interfaces.
func NewClientFromDeps(deps Deps, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.Retry.Attempts < 1 {
		opts.Retry.Attempts = 1
	}
	return &Client{
		dynamic:     deps.Dynamic,
		clientset:   deps.Clientset,
		discovery:   deps.Discovery,
		mapper:      deps.Mapper,
		restConfig:  deps.RESTConfig,
		httpClient:  deps.HTTPClient,
		contextName: deps.Context,
		server:      deps.Server,
		timeout:     opts.Timeout,
		retry:       opts.Retry,
	}
}

// loadRESTConfig resolves kubeconfig and context into a rest.Config.
var loadRESTConfig = func(kubeconfig, kubeContext string) (*rest.Config, string, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	configOverrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get REST config for context %q: %w", kubeContext, err)
	}

	contextName := kubeContext
	if contextName == "" {
		if raw, err := kubeConfig.RawConfig(); err == nil {
			contextName = raw.CurrentContext
		}
	}
	return restConfig, contextName, nil
}

// NewClient loads credentials and constructs a Client. It does not contact
// the cluster; call Ping to verify reachability.
func NewClient(opts Options) (*Client, error) {
	restConfig, contextName, err := loadRESTConfig(opts.Kubeconfig, opts.Context)
	if err != nil {
		return nil, api.WrapError(api.KindConnectionError, err, "loading kubeconfig")
	}
	// Request deadlines come from contexts. A whole-request client timeout
	// would also cut off followed log streams.
	restConfig.Timeout = 0
	// A non-nil Proxy keeps client-go from sharing a cached transport, so the
	// session owns its connections and can release them on Close.
	if restConfig.Proxy == nil {
		restConfig.Proxy = http.ProxyFromEnvironment
	}

	httpClient, err := rest.HTTPClientFor(restConfig)
	if err != nil {
		return nil, api.WrapError(api.KindConnectionError, err, "creating HTTP client for context %q", contextName)
	}
	clientset, err := kubernetes.NewForConfigAndClient(restConfig, httpClient)
	if err != nil {
		return nil, api.WrapError(api.KindConnectionError, err, "creating clientset for context %q", contextName)
	}
	dyn, err := dynamic.NewForConfigAndClient(restConfig, httpClient)
	if err != nil {
		return nil, api.WrapError(api.KindConnectionError, err, "creating dynamic client for context %q", contextName)
	}

	cachedDiscovery := memory.NewMemCacheClient(clientset.Discovery())
	deferred := restmapper.NewDeferredDiscoveryRESTMapper(cachedDiscovery)
	mapper := restmapper.NewShortcutExpander(deferred, cachedDiscovery, func(msg string) {
		logging.Warn("Kube", "%s", msg)
	})

	logging.Debug("Kube", "Built client for context %q (%s)", contextName, restConfig.Host)
	return NewClientFromDeps(Deps{
		Dynamic:    dyn,
		Clientset:  clientset,
		Discovery:  cachedDiscovery,
		Mapper:     mapper,
		RESTConfig: restConfig,
		HTTPClient: httpClient,
		Context:    contextName,
		Server:     restConfig.Host,
	}, opts), nil
}

// Context returns the kubeconfig context the client is bound to.
func (c *Client) Context() string { return c.contextName }

// Ping checks that the API server answers and accepts the credentials.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.read(ctx, "ping", func(ctx context.Context) error {
		return c.serverVersion(ctx)
	})
}

func (c *Client) serverVersion(ctx context.Context) error {
	// ServerVersion takes no context, so run it where ctx can abandon it.
	done := make(chan error, 1)
	go func() {
		_, err := c.discovery.ServerVersion()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the client and its idle connections to the API server.
// It is safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.httpClient != nil {
		utilnet.CloseIdleConnectionsFor(c.httpClient.Transport)
	}
	logging.Debug("Kube", "Released client for context %q", c.contextName)
	return nil
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return api.NewError(api.KindConnectionError, "cluster client is closed")
	}
	return nil
}
