package session

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"k3smcp/internal/api"
	"k3smcp/internal/config"
	"k3smcp/internal/metrics"
	"k3smcp/pkg/logging"
)

// ClientFactory builds an unauthenticated cluster client for one session.
type ClientFactory func(ctx context.Context, cluster config.ClusterConfig) (api.ClusterClient, error)

// Options configures a Manager.
type Options struct {
	// NewClient builds the cluster client of each session.
	NewClient ClientFactory
	// IdleTimeout closes sessions without activity for this long.
	IdleTimeout time.Duration
	// SweepInterval is how often idle sessions are looked for.
	SweepInterval time.Duration
	// Grace bounds how long Close waits for in-flight calls.
	Grace time.Duration
	// OpenTimeout bounds the handshake with the cluster.
	OpenTimeout        time.Duration
	MaxConcurrentCalls int
}

// OptionsFromConfig maps the configuration onto manager options.
func OptionsFromConfig(cfg *config.Config, factory ClientFactory) Options {
	return Options{
		NewClient:          factory,
		IdleTimeout:        cfg.Timeouts.Idle,
		SweepInterval:      cfg.Timeouts.SweepInterval,
		Grace:              cfg.Timeouts.Grace,
		OpenTimeout:        cfg.Timeouts.Call,
		MaxConcurrentCalls: cfg.Limits.MaxConcurrentCalls,
	}
}

// Manager opens, tracks and closes sessions. Live sessions are kept in a
// cache whose entries expire after the idle timeout; every touch renews the
// entry, and eviction closes the session.
type Manager struct {
	opts     Options
	sessions *cache.Cache
}

// NewManager creates a manager and starts its idle sweep.
func NewManager(opts Options) *Manager {
	m := &Manager{
		opts:     opts,
		sessions: cache.New(opts.IdleTimeout, opts.SweepInterval),
	}
	m.sessions.OnEvicted(m.evicted)
	return m
}

// Open builds a cluster client for the given cluster config, verifies the
// endpoint and credentials, and returns an Active session. Any failure is a
// ConnectionError and leaves nothing behind.
func (m *Manager) Open(ctx context.Context, cluster config.ClusterConfig) (*Session, error) {
	id := uuid.NewString()
	logging.Debug("Session", "Opening session %s (context=%q)", id, cluster.Context)

	if m.opts.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.OpenTimeout)
		defer cancel()
	}

	client, err := m.opts.NewClient(ctx, cluster)
	if err != nil {
		metrics.SessionsOpenedTotal.WithLabelValues("failed").Inc()
		return nil, asConnectionError(err, "cannot create cluster client")
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		metrics.SessionsOpenedTotal.WithLabelValues("failed").Inc()
		return nil, asConnectionError(err, "cluster is unreachable or rejected the credentials")
	}

	namespace := cluster.DefaultNamespace
	if namespace == "" {
		namespace = "default"
	}
	s := newSession(id, client, namespace, m.opts.MaxConcurrentCalls, m.opts.Grace)
	s.onTouch = m.renew
	s.state.Store(int32(StateActive))
	m.sessions.SetDefault(id, s)

	metrics.SessionsOpenedTotal.WithLabelValues("ok").Inc()
	metrics.SessionsActive.Inc()
	logging.Info("Session", "Session %s active (namespace=%s)", id, namespace)
	return s, nil
}

func asConnectionError(err error, msg string) error {
	apiErr := api.AsError(err)
	if apiErr.Kind == api.KindConnectionError {
		return apiErr
	}
	return api.WrapError(api.KindConnectionError, err, "%s: %s", msg, apiErr.Message)
}

// Touch records activity on s.
func (m *Manager) Touch(s *Session) { s.Touch() }

// renew resets the idle deadline of an active session.
func (m *Manager) renew(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateActive {
		m.sessions.SetDefault(s.id, s)
	}
}

// evicted runs when an entry leaves the cache: on idle expiry or on Delete.
func (m *Manager) evicted(id string, v interface{}) {
	s, ok := v.(*Session)
	if !ok || s.State() != StateActive {
		return
	}
	if s.busy() {
		// Long calls are not idleness.
		m.sessions.SetDefault(id, s)
		return
	}
	logging.Info("Session", "Session %s idle since %s", id, s.LastActivity().Format(time.RFC3339))
	go s.Close(ReasonIdle)
}

// Close closes s and forgets it. It is idempotent.
func (m *Manager) Close(s *Session, reason string) {
	s.Close(reason)
	m.sessions.Delete(s.id)
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int { return m.sessions.ItemCount() }

// List returns the live sessions, oldest first.
func (m *Manager) List() []*Session {
	items := m.sessions.Items()
	sessions := make([]*Session, 0, len(items))
	for _, item := range items {
		sessions = append(sessions, item.Object.(*Session))
	}
	slices.SortFunc(sessions, func(a, b *Session) int { return a.createdAt.Compare(b.createdAt) })
	return sessions
}

// Shutdown closes every session concurrently and returns when all of them
// reached StateClosed or ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	// Settle expired entries first so busy sessions are not skipped.
	m.sessions.DeleteExpired()
	sessions := m.List()
	if len(sessions) > 0 {
		logging.Info("Session", "Closing %d sessions", len(sessions))
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				m.Close(s, ReasonShutdown)
				<-s.Closed()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}
