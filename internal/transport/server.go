package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"k3smcp/internal/api"
	"k3smcp/internal/config"
	"k3smcp/internal/dispatcher"
	"k3smcp/internal/session"
	"k3smcp/pkg/logging"
)

const defaultMaxMessageBytes = 4 << 20

// Options configures a Server.
type Options struct {
	// Name and Version are reported to agents in the initialize result.
	Name    string
	Version string
	// Instructions is optional guidance returned from initialize.
	Instructions string
	// Cluster is the cluster config every new session connects with.
	Cluster config.ClusterConfig
	// MaxMessageBytes bounds a single inbound message.
	MaxMessageBytes int
	// MaxBufferedBytes bounds the streamed output held for agents that did
	// not request progress notifications.
	MaxBufferedBytes int
}

// Server speaks MCP over newline-delimited JSON-RPC. Every connection is one
// session.
type Server struct {
	opts       Options
	dispatcher *dispatcher.Dispatcher
	sessions   *session.Manager
}

// NewServer creates a server that routes calls through d and opens sessions
// with m.
func NewServer(d *dispatcher.Dispatcher, m *session.Manager, opts Options) *Server {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	if opts.Name == "" {
		opts.Name = "k3smcp"
	}
	return &Server{opts: opts, dispatcher: d, sessions: m}
}

// ServeConn serves one agent connection until it disconnects, its session
// closes or ctx ends. It returns a ProtocolError for malformed input and a
// ConnectionError when the session could not be opened; a clean disconnect
// or shutdown returns nil.
func (s *Server) ServeConn(ctx context.Context, r io.Reader, w io.Writer) error {
	c := newConn(s, r, w)
	return c.serve(ctx)
}

// ServeStdio serves a single agent over the process's stdin and stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	logging.Info("Transport", "Serving MCP on stdio")
	return s.ServeConn(ctx, os.Stdin, os.Stdout)
}

// ServeUnix accepts agents on a unix socket at path, one session per
// connection, until ctx ends. The socket is only accessible to the owner.
func (s *Server) ServeUnix(ctx context.Context, path string) error {
	if err := removeStaleSocket(path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return api.WrapError(api.KindUnavailable, err, "cannot listen on %s", path)
	}
	defer os.Remove(path)
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}
	logging.Info("Transport", "Serving MCP on unix socket %s", path)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			nc, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return api.WrapError(api.KindUnavailable, err, "accept failed")
			}
			g.Go(func() error {
				defer nc.Close()
				if err := s.ServeConn(ctx, nc, nc); err != nil {
					logging.Warn("Transport", "Connection ended: %v", err)
				}
				return nil
			})
		}
	})
	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// removeStaleSocket deletes a socket file left behind by a previous run.
// A socket that still accepts connections belongs to a live server.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if nc, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		_ = nc.Close()
		return api.NewError(api.KindUnavailable, "socket %s is in use by another server", path)
	}
	logging.Debug("Transport", "Removing stale socket %s", path)
	return os.Remove(path)
}
