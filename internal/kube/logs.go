package kube

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"k3smcp/internal/api"
	"k3smcp/pkg/logging"
)

// maxLogReconnects bounds how often a followed stream is reopened after the
// connection drops.
const maxLogReconnects = 3

// StreamLogs returns a lazy, cancellable log sequence. With Follow set the
// sequence is unbounded and is reopened from the last seen timestamp when the
// connection drops.
func (c *Client) StreamLogs(ctx context.Context, namespace, pod string, opts api.LogOptions) (api.LogStream, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	var fields []string
	if strings.TrimSpace(namespace) == "" {
		fields = append(fields, "namespace")
	}
	if strings.TrimSpace(pod) == "" {
		fields = append(fields, "pod_name")
	}
	if len(fields) > 0 {
		return nil, api.InvalidArgument(fields, "namespace and pod name must not be empty")
	}
	return &logStream{
		client:    c,
		ctx:       ctx,
		namespace: namespace,
		pod:       pod,
		opts:      opts,
	}, nil
}

type logStream struct {
	client    *Client
	ctx       context.Context
	namespace string
	pod       string
	opts      api.LogOptions

	// mu serializes Next; bodyMu guards body so Close can interrupt a
	// blocked read.
	mu         sync.Mutex
	bodyMu     sync.Mutex
	body       io.ReadCloser
	reader     *bufio.Reader
	lastTime   time.Time
	lastText   string
	reconnects int
	closed     atomic.Bool
}

// Next returns the next line, or io.EOF when the stream has ended.
func (s *logStream) Next(ctx context.Context) (api.LogLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return api.LogLine{}, translateError(err, "stream logs")
		}
		if s.closed.Load() {
			return api.LogLine{}, io.EOF
		}
		if s.reader == nil {
			if err := s.open(); err != nil {
				return api.LogLine{}, err
			}
		}

		raw, readErr := s.reader.ReadString('\n')
		if raw != "" {
			line := parseLogLine(raw)
			if s.duplicate(line) {
				continue
			}
			if !line.Time.IsZero() {
				s.lastTime = line.Time
				s.lastText = line.Text
			}
			return line, nil
		}
		if readErr == nil {
			continue
		}

		s.closeBody()
		if s.closed.Load() || errors.Is(readErr, io.EOF) {
			return api.LogLine{}, io.EOF
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return api.LogLine{}, translateError(ctxErr, "stream logs")
		}
		if !s.opts.Follow || s.reconnects >= maxLogReconnects {
			return api.LogLine{}, translateError(readErr, "stream logs")
		}
		s.reconnects++
		logging.Info("Kube", "Log stream for %s/%s dropped, reconnecting (%d/%d): %v",
			s.namespace, s.pod, s.reconnects, maxLogReconnects, readErr)
	}
}

// duplicate drops lines replayed after a reconnect; SinceTime only has
// second precision so the server resends part of the last second.
func (s *logStream) duplicate(line api.LogLine) bool {
	if s.reconnects == 0 || s.lastTime.IsZero() || line.Time.IsZero() {
		return false
	}
	if line.Time.Before(s.lastTime) {
		return true
	}
	return line.Time.Equal(s.lastTime) && line.Text == s.lastText
}

func (s *logStream) open() error {
	podLogOpts := &corev1.PodLogOptions{
		Container:  s.opts.Container,
		Follow:     s.opts.Follow,
		Previous:   s.opts.Previous,
		Timestamps: true,
	}
	if s.lastTime.IsZero() {
		podLogOpts.TailLines = s.opts.TailLines
		podLogOpts.SinceSeconds = s.opts.SinceSeconds
	} else {
		since := metav1.NewTime(s.lastTime)
		podLogOpts.SinceTime = &since
	}

	// The body must outlive a single call budget, so it is bound to the
	// stream's context. Reconnects are not retried on top of their own bound.
	var body io.ReadCloser
	openFn := func(_ context.Context) error {
		req := s.client.clientset.CoreV1().Pods(s.namespace).GetLogs(s.pod, podLogOpts)
		var err error
		body, err = req.Stream(s.ctx)
		return err
	}

	var err error
	if s.reconnects == 0 {
		err = s.client.read(s.ctx, "stream logs", openFn)
	} else {
		err = translateErrorOrNil(openFn(s.ctx), "stream logs")
	}
	if err != nil {
		return err
	}
	s.bodyMu.Lock()
	defer s.bodyMu.Unlock()
	if s.closed.Load() {
		_ = body.Close()
		return io.EOF
	}
	s.body = body
	s.reader = bufio.NewReader(body)
	return nil
}

func translateErrorOrNil(err error, op string) error {
	if err == nil {
		return nil
	}
	return translateError(err, op)
}

func (s *logStream) closeBody() {
	s.bodyMu.Lock()
	defer s.bodyMu.Unlock()
	if s.body != nil {
		_ = s.body.Close()
	}
	s.body = nil
	s.reader = nil
}

// Close stops the stream and unblocks a pending Next. It is safe to call
// more than once.
func (s *logStream) Close() error {
	s.closed.Store(true)
	s.bodyMu.Lock()
	defer s.bodyMu.Unlock()
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
	return nil
}

// parseLogLine splits the RFC3339 timestamp the server prefixes when
// Timestamps is requested. Lines without one are returned unchanged.
func parseLogLine(raw string) api.LogLine {
	text := strings.TrimRight(raw, "\r\n")
	prefix, rest, found := strings.Cut(text, " ")
	if !found {
		prefix, rest = text, ""
	}
	ts, err := time.Parse(time.RFC3339Nano, prefix)
	if err != nil {
		return api.LogLine{Text: text}
	}
	return api.LogLine{Time: ts, Text: rest}
}
