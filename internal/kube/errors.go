package kube

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	utilnet "k8s.io/apimachinery/pkg/util/net"
	"k8s.io/apimachinery/pkg/util/wait"

	"k3smcp/internal/api"
	"k3smcp/pkg/logging"
)

// translateError converts a client-go error into a typed api.Error. Raw
// cluster errors never leave this package.
func translateError(err error, op string) *api.Error {
	if err == nil {
		return nil
	}
	var typed *api.Error
	if errors.As(err, &typed) {
		return typed
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return api.WrapError(api.KindTimeout, err, "%s: deadline exceeded", op)
	case errors.Is(err, context.Canceled):
		return api.WrapError(api.KindCancelled, err, "%s: cancelled", op)
	case apierrors.IsNotFound(err):
		return api.WrapError(api.KindNotFound, err, "%s", statusMessage(err))
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return api.WrapError(api.KindPermissionDenied, err, "%s", statusMessage(err))
	case apierrors.IsServiceUnavailable(err), apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err), apierrors.IsTimeout(err):
		return api.WrapError(api.KindUnavailable, err, "%s: cluster temporarily unavailable: %s", op, statusMessage(err))
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err), apierrors.IsAlreadyExists(err),
		apierrors.IsConflict(err), apierrors.IsMethodNotSupported(err),
		apierrors.IsUnsupportedMediaType(err), apierrors.IsNotAcceptable(err):
		return api.WrapError(api.KindInvalidArgument, err, "%s", statusMessage(err))
	case meta.IsNoMatchError(err):
		return &api.Error{Kind: api.KindInvalidArgument, Message: err.Error(), Fields: []string{"kind"}, Err: err}
	case isTLSFailure(err):
		return api.WrapError(api.KindConnectionError, err, "%s: cluster endpoint rejected: %v", op, err)
	case isConnectionFailure(err):
		return api.WrapError(api.KindUnavailable, err, "%s: cannot reach cluster: %v", op, err)
	}
	return api.WrapError(api.KindInternalError, err, "%s: %v", op, err)
}

func statusMessage(err error) string {
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		if msg := status.Status().Message; msg != "" {
			return msg
		}
	}
	return err.Error()
}

// isTLSFailure reports certificate and handshake failures. Retrying them
// cannot help: the endpoint or the credentials are wrong.
func isTLSFailure(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostname         x509.HostnameError
		verification     *tls.CertificateVerificationError
		alert            tls.AlertError
		recordHeader     tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &unknownAuthority), errors.As(err, &invalidCert), errors.As(err, &hostname),
		errors.As(err, &verification), errors.As(err, &alert), errors.As(err, &recordHeader):
		return true
	}
	// net/http reports a plain-HTTP answer to an HTTPS request without a typed error.
	return strings.Contains(err.Error(), "server gave HTTP response to HTTPS client")
}

// isConnectionFailure reports transient transport failures. A *url.Error is
// itself a net.Error, so only the error it wraps is inspected.
func isConnectionFailure(err error) bool {
	if utilnet.IsConnectionRefused(err) || utilnet.IsConnectionReset(err) || utilnet.IsProbableEOF(err) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// neverReachedServer reports failures that happened before the request left
// this process, so a mutation cannot have been applied.
func neverReachedServer(err error) bool {
	if utilnet.IsConnectionRefused(err) || isTLSFailure(err) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// mutationState classifies how far a failed mutation got. A status answer
// from the API server below 500 means the server refused the request as a
// whole; anything else leaves the outcome unknown.
func mutationState(err error) api.MutationState {
	var typed *api.Error
	if errors.As(err, &typed) && typed.Mutation != api.MutationNone {
		return typed.Mutation
	}
	if neverReachedServer(err) {
		return api.MutationNotAttempted
	}
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		if code := status.Status().Code; code != 0 && code < 500 {
			return api.MutationRejected
		}
	}
	return api.MutationIndeterminate
}

// withBudget derives the per-call context and converts a context failure
// into Timeout or Cancelled depending on which deadline fired.
func (c *Client) withBudget(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		apiErr := translateError(err, op)
		if apiErr.Kind == api.KindTimeout || apiErr.Kind == api.KindCancelled || apiErr.Kind == api.KindUnavailable {
			return api.WrapError(api.KindTimeout, err, "%s exceeded its %s budget", op, c.timeout)
		}
		return apiErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return translateError(ctxErr, op)
	}
	return translateError(err, op)
}

// read runs a read-only operation within the call budget, retrying
// Unavailable failures with exponential backoff.
func (c *Client) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.withBudget(ctx, op, func(ctx context.Context) error {
		backoff := wait.Backoff{
			Duration: c.retry.InitialBackoff,
			Factor:   2,
			Jitter:   0.1,
			Steps:    c.retry.Attempts,
		}
		for attempt := 1; ; attempt++ {
			err := fn(ctx)
			if err == nil {
				return nil
			}
			apiErr := translateError(err, op)
			if !apiErr.Kind.Retryable() || attempt >= c.retry.Attempts || ctx.Err() != nil {
				return apiErr
			}

			delay := backoff.Step()
			if c.retry.MaxBackoff > 0 && delay > c.retry.MaxBackoff {
				delay = c.retry.MaxBackoff
			}
			logging.Debug("Kube", "%s attempt %d/%d unavailable, retrying in %s: %v", op, attempt, c.retry.Attempts, delay, apiErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	})
}

// mutate runs a state-changing operation exactly once. Failures are
// annotated with how far the mutation got.
func (c *Client) mutate(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.checkOpen(); err != nil {
		return api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	var sent bool
	var rawErr error
	err := c.withBudget(ctx, op, func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sent = true
		rawErr = fn(ctx)
		return rawErr
	})
	if err == nil {
		return nil
	}
	apiErr := api.AsError(err)
	if !sent {
		return apiErr.WithMutation(api.MutationNotAttempted)
	}
	return apiErr.WithMutation(mutationState(rawErr))
}
