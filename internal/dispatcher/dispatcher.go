package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k3smcp/internal/api"
	"k3smcp/internal/metrics"
	"k3smcp/internal/registry"
	"k3smcp/pkg/logging"
)

// Session is the per-connection state a call runs against.
type Session interface {
	ID() string
	Cluster() api.ClusterClient
	DefaultNamespace() string
	// Track registers requestID as in flight, waiting for a free call slot.
	// The returned context is cancelled when the session closes or the
	// request is cancelled. release must be called when the call is done.
	Track(ctx context.Context, requestID string) (context.Context, func(), error)
}

// Options configures a Dispatcher.
type Options struct {
	Policy Policy
	// CallTimeout is the wall-clock budget of a normal call.
	CallTimeout time.Duration
	// StreamTimeout is the budget of a streaming call.
	StreamTimeout time.Duration
	Limits        api.Limits
}

// Dispatcher validates calls, applies the safety policy, serializes
// conflicting mutations and turns handler outcomes into CallResults.
type Dispatcher struct {
	registry *registry.Registry
	opts     Options
	locks    *keyedLocks
}

// New creates a dispatcher over a frozen registry.
func New(reg *registry.Registry, opts Options) *Dispatcher {
	return &Dispatcher{registry: reg, opts: opts, locks: newKeyedLocks()}
}

// Registry returns the catalog the dispatcher routes to.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// call carries the state of one Handle invocation.
type call struct {
	req     api.CallRequest
	sess    Session
	desc    api.ToolDescriptor
	budget  time.Duration
	started bool
	// tracked is cancelled by the session or an explicit cancel.
	tracked context.Context
	// bounded adds the call budget to tracked.
	bounded context.Context
}

// Handle runs one call and always returns exactly one result, whatever the
// handler does.
func (d *Dispatcher) Handle(ctx context.Context, sess Session, req api.CallRequest) (result *api.CallResult) {
	start := time.Now()
	c := &call{req: req, sess: sess}
	result = &api.CallResult{RequestID: req.RequestID, Tool: req.Tool}

	defer func() {
		if r := recover(); r != nil {
			result.Payload = nil
			result.Err = d.failure(c, api.NewError(api.KindInternalError, "tool %s panicked: %v", req.Tool, r))
		}
		d.finish(c, result, time.Since(start))
	}()

	payload, err := d.run(ctx, c)
	if err != nil {
		result.Err = d.failure(c, err)
		return result
	}
	if payload == nil {
		result.Err = d.failure(c, api.NewError(api.KindInternalError, "tool %s returned no result", req.Tool))
		return result
	}
	payload.Clamp(d.opts.Limits.MaxPayloadBytes)
	result.Payload = payload
	return result
}

func (d *Dispatcher) run(ctx context.Context, c *call) (*api.Payload, error) {
	entry, err := d.registry.Lookup(c.req.Tool)
	if err != nil {
		return nil, err
	}
	c.desc = entry.Descriptor

	args := c.req.Args
	if args == nil {
		args = api.Arguments{}
	}
	if err := Validate(c.desc.Tool.InputSchema, args); err != nil {
		return nil, err
	}
	if err := d.opts.Policy.Check(c.desc); err != nil {
		return nil, err
	}

	tracked, release, err := c.sess.Track(ctx, c.req.RequestID)
	if err != nil {
		return nil, err
	}
	defer release()
	c.tracked = tracked

	c.budget = d.opts.CallTimeout
	if c.desc.Streaming && d.opts.StreamTimeout > 0 {
		c.budget = d.opts.StreamTimeout
	}
	bounded := tracked
	if c.budget > 0 {
		var cancel context.CancelFunc
		bounded, cancel = context.WithTimeout(tracked, c.budget)
		defer cancel()
	}
	c.bounded = bounded

	if c.desc.SideEffect.Mutates() && c.desc.Target != nil {
		if key, ok := c.desc.Target(args); ok {
			unlock, err := d.locks.Lock(bounded, d.lockKey(bounded, c.sess, key))
			if err != nil {
				return nil, err
			}
			defer unlock()
		}
	}

	emitter := c.req.Emitter
	if emitter == nil || !c.desc.Streaming {
		emitter = api.DiscardEmitter()
	}

	metrics.ToolCallsInFlight.Inc()
	defer metrics.ToolCallsInFlight.Dec()
	c.started = true
	logging.Debug("Dispatcher", "Calling %s (session=%s request=%s)", c.desc.Name(), c.sess.ID(), c.req.RequestID)

	return entry.Handler(bounded, &api.Invocation{
		RequestID:        c.req.RequestID,
		SessionID:        c.sess.ID(),
		Tool:             c.desc.Name(),
		Args:             args,
		Cluster:          c.sess.Cluster(),
		DefaultNamespace: c.sess.DefaultNamespace(),
		Limits:           d.opts.Limits,
		Emitter:          emitter,
	})
}

// lockKey canonicalizes a target so aliases of the same object share a lock:
// "deploy", "deployments" and "Deployment" all become "Deployment.apps".
func (d *Dispatcher) lockKey(ctx context.Context, sess Session, key api.ResourceKey) string {
	if resolved, err := sess.Cluster().ResolveKind(ctx, key.Kind); err == nil {
		key.Kind = resolved.GroupKind()
		if !resolved.Namespaced {
			key.Namespace = ""
		}
	}
	if key.Namespace == "" {
		key.Namespace = sess.DefaultNamespace()
	}
	return sess.ID() + "|" + key.String()
}

// failure normalizes err for the result. Context failures are attributed to
// whichever context ended, and mutating calls always say how far they got.
func (d *Dispatcher) failure(c *call, err error) *api.Error {
	apiErr := *api.AsError(err)

	if c.tracked != nil && interrupted(apiErr.Kind) {
		switch {
		case c.tracked.Err() != nil:
			apiErr.Kind = api.KindCancelled
			apiErr.Message = "call was cancelled"
		case c.bounded != nil && errors.Is(c.bounded.Err(), context.DeadlineExceeded):
			apiErr.Kind = api.KindTimeout
			apiErr.Message = fmt.Sprintf("call exceeded its %s budget", c.budget)
		}
	}

	if c.desc.SideEffect.Mutates() && apiErr.Mutation == api.MutationNone {
		if c.started {
			apiErr.Mutation = api.MutationIndeterminate
		} else {
			apiErr.Mutation = api.MutationNotAttempted
		}
	}
	return &apiErr
}

// interrupted reports kinds that may be symptoms of a cancelled context
// rather than a definitive answer from the cluster.
func interrupted(kind api.Kind) bool {
	switch kind {
	case api.KindCancelled, api.KindTimeout, api.KindUnavailable, api.KindConnectionError:
		return true
	}
	return false
}

func (d *Dispatcher) finish(c *call, result *api.CallResult, elapsed time.Duration) {
	tool := c.desc.Name()
	if tool == "" {
		tool = "unknown"
	}
	outcome := "ok"
	if result.Err != nil {
		outcome = result.Err.Code()
	}
	metrics.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	metrics.ToolCallDurationSeconds.WithLabelValues(tool).Observe(elapsed.Seconds())

	switch {
	case result.Err == nil:
		logging.Debug("Dispatcher", "Call %s finished in %s (session=%s request=%s)", tool, elapsed.Round(time.Millisecond), c.sess.ID(), c.req.RequestID)
	case result.Err.Kind == api.KindInternalError:
		logging.Error("Dispatcher", result.Err, "Call %s failed (session=%s request=%s)", c.req.Tool, c.sess.ID(), c.req.RequestID)
	default:
		logging.Debug("Dispatcher", "Call %s failed with %s: %s (session=%s request=%s)", tool, result.Err.Code(), result.Err.Message, c.sess.ID(), c.req.RequestID)
	}
}
