package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"k3smcp/internal/api"
	"k3smcp/internal/metrics"
	"k3smcp/pkg/logging"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateOpening State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "Opening"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

// Close reasons, used for logs and metrics.
const (
	ReasonDisconnect = "disconnect"
	ReasonIdle       = "idle"
	ReasonShutdown   = "shutdown"
	ReasonError      = "error"
)

// Session is one agent connection. It exclusively owns its cluster client
// and tracks the calls running on it.
type Session struct {
	id               string
	cluster          api.ClusterClient
	defaultNamespace string
	createdAt        time.Time
	lastActivity     atomic.Int64
	state            atomic.Int32
	grace            time.Duration
	slots            *semaphore.Weighted
	onTouch          func(*Session)

	// ctx is cancelled when closing begins; every call context derives from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	calls    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id string, cluster api.ClusterClient, defaultNamespace string, maxCalls int, grace time.Duration) *Session {
	if maxCalls < 1 {
		maxCalls = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:               id,
		cluster:          cluster,
		defaultNamespace: defaultNamespace,
		createdAt:        time.Now(),
		grace:            grace,
		slots:            semaphore.NewWeighted(int64(maxCalls)),
		ctx:              ctx,
		cancel:           cancel,
		inFlight:         make(map[string]context.CancelFunc),
		closed:           make(chan struct{}),
	}
	s.lastActivity.Store(s.createdAt.UnixNano())
	return s
}

func (s *Session) ID() string { return s.id }

// Cluster returns the session's client. It must not be used by other sessions.
func (s *Session) Cluster() api.ClusterClient { return s.cluster }

func (s *Session) DefaultNamespace() string { return s.defaultNamespace }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()) }

// Done is closed as soon as the session starts closing.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Closed is closed once the session reached StateClosed.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// InFlight returns the request ids of the calls currently running.
func (s *Session) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight) > 0
}

// Touch records activity and pushes back the idle deadline.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
	if s.onTouch != nil {
		s.onTouch(s)
	}
}

// Track registers requestID as in flight and waits for a free call slot.
// The returned context is cancelled by Cancel, by Close or when ctx ends.
// release must be called exactly once; extra calls are no-ops.
func (s *Session) Track(ctx context.Context, requestID string) (context.Context, func(), error) {
	s.mu.Lock()
	if s.State() != StateActive {
		s.mu.Unlock()
		return nil, nil, api.NewError(api.KindCancelled, "session %s is %s", s.id, s.State())
	}
	if _, dup := s.inFlight[requestID]; dup {
		s.mu.Unlock()
		return nil, nil, api.NewError(api.KindInvalidArgument, "request %s is already in flight", requestID)
	}
	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	s.inFlight[requestID] = cancel
	s.calls.Add(1)
	s.mu.Unlock()

	var once sync.Once
	untrack := func() {
		once.Do(func() {
			stop()
			cancel()
			s.mu.Lock()
			delete(s.inFlight, requestID)
			s.mu.Unlock()
			s.calls.Done()
			s.Touch()
		})
	}

	if err := s.slots.Acquire(callCtx, 1); err != nil {
		untrack()
		return nil, nil, api.AsError(err)
	}
	s.Touch()

	var releaseOnce sync.Once
	return callCtx, func() {
		releaseOnce.Do(func() {
			s.slots.Release(1)
			untrack()
		})
	}, nil
}

// Cancel cancels one in-flight call. It reports whether the call was found.
func (s *Session) Cancel(requestID string) bool {
	s.mu.Lock()
	cancel, ok := s.inFlight[requestID]
	s.mu.Unlock()
	if ok {
		logging.Debug("Session", "Cancelling request %s (session=%s)", requestID, s.id)
		cancel()
	}
	return ok
}

// Close cancels every in-flight call and waits up to the grace period for
// them to finish. The session stays Closing until the last call has
// returned; only then is the cluster client released, exactly once, and the
// session Closed. Concurrent callers wait for the first one.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosing))
		pending := len(s.inFlight)
		s.mu.Unlock()

		logging.Debug("Session", "Closing session %s (%s, %d calls in flight)", s.id, reason, pending)
		s.cancel()

		drained := make(chan struct{})
		go func() {
			s.calls.Wait()
			close(drained)
		}()
		timer := time.NewTimer(s.grace)
		defer timer.Stop()
		select {
		case <-drained:
			s.finish(reason)
		case <-timer.C:
			logging.Warn("Session", "Session %s: %d calls did not stop within %s; client released when they return",
				s.id, len(s.InFlight()), s.grace)
			go func() {
				<-drained
				s.finish(reason)
			}()
		}
	})
}

// finish releases the cluster client once no call can use it any more.
func (s *Session) finish(reason string) {
	if err := s.cluster.Close(); err != nil {
		logging.Error("Session", err, "Failed to release cluster client of session %s", s.id)
	}
	s.state.Store(int32(StateClosed))
	metrics.SessionsActive.Dec()
	metrics.SessionsClosedTotal.WithLabelValues(reason).Inc()
	logging.Info("Session", "Session %s closed (%s) after %s", s.id, reason, time.Since(s.createdAt).Round(time.Second))
	close(s.closed)
}
