package api

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
)

// ClusterClient is the contract of the cluster client adapter. One instance
// is bound to one cluster context and owned by exactly one session.
// Implementations are safe for concurrent use.
type ClusterClient interface {
	// ResolveKind maps a user-supplied kind (Kind, singular, plural, short
	// name or resource.group) to its canonical form.
	ResolveKind(ctx context.Context, kind string) (ResolvedKind, error)
	GetResource(ctx context.Context, kind, namespace, name string) (*unstructured.Unstructured, error)
	ListResources(ctx context.Context, kind, namespace string, opts ListOptions) (*unstructured.UnstructuredList, error)
	CreateResource(ctx context.Context, kind string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)
	PatchResource(ctx context.Context, kind, namespace, name string, patchType types.PatchType, patch []byte) (*unstructured.Unstructured, error)
	DeleteResource(ctx context.Context, kind, namespace, name string) error
	// StreamLogs returns a lazy sequence of log lines. No request is made
	// until the first call to Next.
	StreamLogs(ctx context.Context, namespace, pod string, opts LogOptions) (LogStream, error)
	Exec(ctx context.Context, namespace, pod string, opts ExecOptions) (*ExecResult, error)
	ResourceTypes(ctx context.Context) ([]ResourceType, error)
	ClusterInfo(ctx context.Context) (*ClusterInfo, error)
	// Ping verifies the endpoint is reachable and the credentials are accepted.
	Ping(ctx context.Context) error
	// Close releases the client. Subsequent calls fail with ConnectionError.
	Close() error
}

// ResolvedKind is the canonical identity of a resource kind.
type ResolvedKind struct {
	Group      string
	Version    string
	Kind       string
	Resource   string
	Namespaced bool
}

// GroupKind returns "Kind" for the core group and "Kind.group" otherwise.
func (r ResolvedKind) GroupKind() string {
	if r.Group == "" {
		return r.Kind
	}
	return r.Kind + "." + r.Group
}

// ListOptions narrows a list call.
type ListOptions struct {
	LabelSelector string
	FieldSelector string
	Limit         int64
}

// LogOptions configures log retrieval.
type LogOptions struct {
	Container    string
	TailLines    *int64
	SinceSeconds *int64
	Previous     bool
	Follow       bool
}

// LogLine is one line of container output.
type LogLine struct {
	Time time.Time
	Text string
}

// LogStream yields log lines until io.EOF. Next observes ctx cancellation
// before every line it returns.
type LogStream interface {
	Next(ctx context.Context) (LogLine, error)
	Close() error
}

// ExecOptions configures a non-interactive command run inside a container.
type ExecOptions struct {
	Container      string
	Command        []string
	MaxOutputBytes int
}

// ExecResult carries captured command output.
type ExecResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
}

// ResourceType describes one API resource the cluster serves.
type ResourceType struct {
	Name       string
	Kind       string
	Group      string
	Version    string
	ShortNames []string
	Namespaced bool
	Verbs      []string
}

// ClusterInfo summarizes the connected cluster.
type ClusterInfo struct {
	Context     string
	Server      string
	Version     string
	Platform    string
	Provider    string
	ReadyNodes  int
	TotalNodes  int
	CollectedAt time.Time
}
