// Package kube is the cluster client adapter of k3smcp.
//
// A Client is bound to one kubeconfig context and exposes coarse operations
// mirroring common cluster actions: get, list, create, patch and delete of
// any resource kind the cluster serves, log streaming, exec, API discovery
// and a cluster summary.
//
// # Guarantees
//
//   - Inputs are validated before any request is made (InvalidArgument).
//   - Every non-streaming operation runs within a per-call budget and fails
//     with Timeout when it is exceeded, distinct from errors the cluster reports.
//   - Cluster errors are translated into api kinds (NotFound,
//     PermissionDenied, Unavailable, ...) and never passed through raw.
//   - Read-only operations failing with Unavailable are retried with bounded
//     exponential backoff. Mutations run exactly once and their failures carry
//     a MutationState saying whether the change was never attempted, rejected
//     or left indeterminate.
//   - Resource state is never cached. Only API discovery (which kinds exist)
//     is memoized and is reset when a kind cannot be resolved.
//
// # Usage Example
//
//	client, err := kube.NewClient(kube.Options{Context: "k3d-dev", Timeout: 30 * time.Second})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.Ping(ctx); err != nil {
//	    return err // ConnectionError or Unavailable
//	}
//	pod, err := client.GetResource(ctx, "pod", "default", "web-0")
//
// # Thread Safety
//
// A Client is safe for concurrent use. Serializing conflicting mutations is
// the caller's concern.
package kube
