// Package kubetest provides an in-memory api.ClusterClient for tests of the
// layers above the cluster adapter.
package kubetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"

	"k3smcp/internal/api"
)

// Hook runs before every cluster call. Returning an error fails the call.
type Hook func(ctx context.Context, op string, key api.ResourceKey) error

// Fake is a scripted cluster. It resolves a fixed set of kinds, stores
// objects in memory and records every call it serves.
type Fake struct {
	mu      sync.Mutex
	kinds   map[string]api.ResolvedKind
	objects map[api.ResourceKey]*unstructured.Unstructured
	logs    map[string][]string
	calls   []string

	hook     atomic.Pointer[Hook]
	closes   atomic.Int32
	inFlight atomic.Int32

	// ExecFunc serves Exec; nil returns a zero exit with no output.
	ExecFunc func(ctx context.Context, namespace, pod string, opts api.ExecOptions) (*api.ExecResult, error)
	// PingErr is returned by Ping.
	PingErr error
	Info    api.ClusterInfo
	Types   []api.ResourceType
}

var defaultKinds = []api.ResolvedKind{
	{Version: "v1", Kind: "Pod", Resource: "pods", Namespaced: true},
	{Version: "v1", Kind: "ConfigMap", Resource: "configmaps", Namespaced: true},
	{Version: "v1", Kind: "Secret", Resource: "secrets", Namespaced: true},
	{Version: "v1", Kind: "Event", Resource: "events", Namespaced: true},
	{Version: "v1", Kind: "Namespace", Resource: "namespaces"},
	{Version: "v1", Kind: "Node", Resource: "nodes"},
	{Group: "apps", Version: "v1", Kind: "Deployment", Resource: "deployments", Namespaced: true},
}

var shortNames = map[string]string{
	"po": "Pod", "cm": "ConfigMap", "ev": "Event", "ns": "Namespace", "no": "Node", "deploy": "Deployment",
}

// NewFake returns an empty cluster serving core kinds and apps Deployments.
func NewFake() *Fake {
	f := &Fake{
		kinds:   make(map[string]api.ResolvedKind),
		objects: make(map[api.ResourceKey]*unstructured.Unstructured),
		logs:    make(map[string][]string),
		Info: api.ClusterInfo{
			Context:    "k3d-test",
			Server:     "https://127.0.0.1:6443",
			Version:    "v1.30.2+k3s1",
			Platform:   "linux/amd64",
			Provider:   "k3s",
			ReadyNodes: 1,
			TotalNodes: 1,
		},
	}
	for _, k := range defaultKinds {
		f.kinds[strings.ToLower(k.Kind)] = k
		f.kinds[k.Resource] = k
		if k.Group != "" {
			f.kinds[strings.ToLower(k.Kind)+"."+k.Group] = k
			f.kinds[k.Resource+"."+k.Group] = k
		}
		f.Types = append(f.Types, api.ResourceType{
			Name: k.Resource, Kind: k.Kind, Group: k.Group, Version: k.Version, Namespaced: k.Namespaced,
			Verbs: []string{"get", "list", "create", "patch", "delete"},
		})
	}
	for short, kind := range shortNames {
		f.kinds[short] = f.kinds[strings.ToLower(kind)]
	}
	return f
}

// SetHook installs fn as the pre-call hook; nil removes it.
func (f *Fake) SetHook(fn Hook) {
	if fn == nil {
		f.hook.Store(nil)
		return
	}
	f.hook.Store(&fn)
}

// Add stores objects as if they existed in the cluster.
func (f *Fake) Add(objs ...*unstructured.Unstructured) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range objs {
		f.objects[keyOf(obj)] = obj.DeepCopy()
	}
}

// SetLogs scripts the log lines of a pod.
func (f *Fake) SetLogs(namespace, pod string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[namespace+"/"+pod] = lines
}

// Object returns a stored object, or nil.
func (f *Fake) Object(kind, namespace, name string) *unstructured.Unstructured {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj := f.objects[api.ResourceKey{Kind: kind, Namespace: namespace, Name: name}]
	if obj == nil {
		return nil
	}
	return obj.DeepCopy()
}

// Calls returns every call served so far, e.g. "delete Pod default/web".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns the number of calls served so far.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// CloseCount returns how often Close was called.
func (f *Fake) CloseCount() int { return int(f.closes.Load()) }

// InFlight returns the number of calls currently inside the fake.
func (f *Fake) InFlight() int { return int(f.inFlight.Load()) }

func keyOf(obj *unstructured.Unstructured) api.ResourceKey {
	return api.ResourceKey{Kind: obj.GetKind(), Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

func (f *Fake) enter(ctx context.Context, op string, key api.ResourceKey) (func(), error) {
	f.mu.Lock()
	f.calls = append(f.calls, strings.TrimSpace(op+" "+describeKey(key)))
	f.mu.Unlock()

	f.inFlight.Add(1)
	done := func() { f.inFlight.Add(-1) }
	if f.closes.Load() > 0 {
		done()
		return nil, api.NewError(api.KindConnectionError, "client is closed")
	}
	if err := ctx.Err(); err != nil {
		done()
		return nil, api.AsError(err)
	}
	if h := f.hook.Load(); h != nil {
		if err := (*h)(ctx, op, key); err != nil {
			done()
			return nil, api.AsError(err)
		}
	}
	return done, nil
}

func describeKey(key api.ResourceKey) string {
	switch {
	case key.Kind == "":
		return ""
	case key.Namespace == "" && key.Name == "":
		return key.Kind
	case key.Namespace == "":
		return key.Kind + " " + key.Name
	}
	return fmt.Sprintf("%s %s/%s", key.Kind, key.Namespace, key.Name)
}

func (f *Fake) resolve(kind string) (api.ResolvedKind, error) {
	k, ok := f.kinds[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return api.ResolvedKind{}, api.InvalidArgument([]string{"kind"}, "unknown resource kind %q", kind)
	}
	return k, nil
}

func (f *Fake) key(kind, namespace, name string) (api.ResourceKey, error) {
	k, err := f.resolve(kind)
	if err != nil {
		return api.ResourceKey{}, err
	}
	if !k.Namespaced {
		namespace = ""
	} else if namespace == "" {
		return api.ResourceKey{}, api.InvalidArgument([]string{"namespace"}, "namespace must not be empty")
	}
	return api.ResourceKey{Kind: k.Kind, Namespace: namespace, Name: name}, nil
}

func notFound(key api.ResourceKey) error {
	return api.NewError(api.KindNotFound, "%s %q not found", strings.ToLower(key.Kind), key.Name)
}

func (f *Fake) ResolveKind(ctx context.Context, kind string) (api.ResolvedKind, error) {
	done, err := f.enter(ctx, "resolve", api.ResourceKey{Kind: kind})
	if err != nil {
		return api.ResolvedKind{}, err
	}
	defer done()
	return f.resolve(kind)
}

func (f *Fake) GetResource(ctx context.Context, kind, namespace, name string) (*unstructured.Unstructured, error) {
	key, err := f.key(kind, namespace, name)
	if err != nil {
		return nil, err
	}
	done, err := f.enter(ctx, "get", key)
	if err != nil {
		return nil, err
	}
	defer done()
	if obj := f.Object(key.Kind, key.Namespace, key.Name); obj != nil {
		return obj, nil
	}
	return nil, notFound(key)
}

func (f *Fake) ListResources(ctx context.Context, kind, namespace string, opts api.ListOptions) (*unstructured.UnstructuredList, error) {
	k, err := f.resolve(kind)
	if err != nil {
		return nil, err
	}
	done, err := f.enter(ctx, "list", api.ResourceKey{Kind: k.Kind, Namespace: namespace})
	if err != nil {
		return nil, err
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	list := &unstructured.UnstructuredList{}
	for key, obj := range f.objects {
		if key.Kind != k.Kind || (k.Namespaced && namespace != "" && key.Namespace != namespace) {
			continue
		}
		if !matchesFields(obj, opts.FieldSelector) {
			continue
		}
		list.Items = append(list.Items, *obj.DeepCopy())
	}
	sort.Slice(list.Items, func(i, j int) bool {
		if list.Items[i].GetNamespace() != list.Items[j].GetNamespace() {
			return list.Items[i].GetNamespace() < list.Items[j].GetNamespace()
		}
		return list.Items[i].GetName() < list.Items[j].GetName()
	})
	if opts.Limit > 0 && int64(len(list.Items)) > opts.Limit {
		list.Items = list.Items[:opts.Limit]
		list.SetContinue("more")
	}
	return list, nil
}

// matchesFields understands the "a.b=value" terms used for events.
func matchesFields(obj *unstructured.Unstructured, selector string) bool {
	if selector == "" {
		return true
	}
	for _, term := range strings.Split(selector, ",") {
		path, want, ok := strings.Cut(term, "=")
		if !ok {
			continue
		}
		got, _, _ := unstructured.NestedString(obj.Object, strings.Split(path, ".")...)
		if got != want {
			return false
		}
	}
	return true
}

func (f *Fake) CreateResource(ctx context.Context, kind string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	if kind == "" {
		kind = obj.GetKind()
	}
	key, err := f.key(kind, obj.GetNamespace(), obj.GetName())
	if err != nil {
		return nil, api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	done, err := f.enter(ctx, "create", key)
	if err != nil {
		return nil, api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.objects[key]; exists {
		return nil, api.NewError(api.KindInvalidArgument, "%s %q already exists", strings.ToLower(key.Kind), key.Name).WithMutation(api.MutationRejected)
	}
	created := obj.DeepCopy()
	created.SetKind(key.Kind)
	created.SetCreationTimestamp(metav1.Now())
	f.objects[key] = created
	return created.DeepCopy(), nil
}

func (f *Fake) PatchResource(ctx context.Context, kind, namespace, name string, patchType types.PatchType, patch []byte) (*unstructured.Unstructured, error) {
	key, err := f.key(kind, namespace, name)
	if err != nil {
		return nil, api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	done, err := f.enter(ctx, "patch", key)
	if err != nil {
		return nil, api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, api.AsError(notFound(key)).WithMutation(api.MutationRejected)
	}
	if patchType == types.JSONPatchType {
		return nil, api.NewError(api.KindInvalidArgument, "json patches are not supported by the fake").WithMutation(api.MutationRejected)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(patch, &doc); err != nil {
		return nil, api.InvalidArgument([]string{"patch"}, "%v", err).WithMutation(api.MutationRejected)
	}
	mergeInto(obj.Object, doc)
	return obj.DeepCopy(), nil
}

// mergeInto applies a JSON merge patch.
func mergeInto(dst, patch map[string]interface{}) {
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		if pm, ok := v.(map[string]interface{}); ok {
			if dm, ok := dst[k].(map[string]interface{}); ok {
				mergeInto(dm, pm)
				continue
			}
		}
		dst[k] = v
	}
}

func (f *Fake) DeleteResource(ctx context.Context, kind, namespace, name string) error {
	key, err := f.key(kind, namespace, name)
	if err != nil {
		return api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	done, err := f.enter(ctx, "delete", key)
	if err != nil {
		return api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return api.AsError(notFound(key)).WithMutation(api.MutationRejected)
	}
	delete(f.objects, key)
	return nil
}

func (f *Fake) StreamLogs(ctx context.Context, namespace, pod string, opts api.LogOptions) (api.LogStream, error) {
	if namespace == "" || pod == "" {
		return nil, api.InvalidArgument([]string{"namespace", "pod_name"}, "namespace and pod name must not be empty")
	}
	key := api.ResourceKey{Kind: "Pod", Namespace: namespace, Name: pod}
	done, err := f.enter(ctx, "logs", key)
	if err != nil {
		return nil, err
	}
	defer done()

	if f.Object("Pod", namespace, pod) == nil {
		return nil, notFound(key)
	}
	f.mu.Lock()
	lines := append([]string(nil), f.logs[namespace+"/"+pod]...)
	f.mu.Unlock()
	if opts.TailLines != nil && int(*opts.TailLines) < len(lines) {
		lines = lines[len(lines)-int(*opts.TailLines):]
	}
	return &fakeStream{ctx: ctx, lines: lines, follow: opts.Follow, closed: make(chan struct{})}, nil
}

type fakeStream struct {
	ctx       context.Context
	lines     []string
	follow    bool
	pos       int
	closeOnce sync.Once
	closed    chan struct{}
}

// Next replays the scripted lines. A followed stream then blocks until
// cancelled, like a quiet container.
func (s *fakeStream) Next(ctx context.Context) (api.LogLine, error) {
	if err := ctx.Err(); err != nil {
		return api.LogLine{}, api.AsError(err)
	}
	if s.pos < len(s.lines) {
		line := s.lines[s.pos]
		s.pos++
		return api.LogLine{Text: line}, nil
	}
	if !s.follow {
		return api.LogLine{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return api.LogLine{}, api.AsError(ctx.Err())
	case <-s.ctx.Done():
		return api.LogLine{}, api.AsError(s.ctx.Err())
	case <-s.closed:
		return api.LogLine{}, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (f *Fake) Exec(ctx context.Context, namespace, pod string, opts api.ExecOptions) (*api.ExecResult, error) {
	key := api.ResourceKey{Kind: "Pod", Namespace: namespace, Name: pod}
	done, err := f.enter(ctx, "exec", key)
	if err != nil {
		return nil, api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	defer done()
	if f.ExecFunc != nil {
		return f.ExecFunc(ctx, namespace, pod, opts)
	}
	return &api.ExecResult{}, nil
}

func (f *Fake) ResourceTypes(ctx context.Context) ([]api.ResourceType, error) {
	done, err := f.enter(ctx, "discover", api.ResourceKey{})
	if err != nil {
		return nil, err
	}
	defer done()
	return append([]api.ResourceType(nil), f.Types...), nil
}

func (f *Fake) ClusterInfo(ctx context.Context) (*api.ClusterInfo, error) {
	done, err := f.enter(ctx, "info", api.ResourceKey{})
	if err != nil {
		return nil, err
	}
	defer done()
	info := f.Info
	info.CollectedAt = time.Now()
	return &info, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return api.AsError(err)
	}
	return f.PingErr
}

func (f *Fake) Close() error {
	f.closes.Add(1)
	return nil
}

var _ api.ClusterClient = (*Fake)(nil)
