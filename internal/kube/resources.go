package kube

import (
	"context"
	"encoding/json"
	"strings"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	"k3smcp/internal/api"
)

// ResolveKind maps a user-supplied kind to its canonical form.
func (c *Client) ResolveKind(ctx context.Context, kind string) (api.ResolvedKind, error) {
	var resolved api.ResolvedKind
	err := c.read(ctx, "resolve kind", func(ctx context.Context) error {
		mapping, err := c.restMapping(kind)
		if err != nil {
			return err
		}
		resolved = toResolvedKind(mapping)
		return nil
	})
	return resolved, err
}

func toResolvedKind(mapping *meta.RESTMapping) api.ResolvedKind {
	return api.ResolvedKind{
		Group:      mapping.GroupVersionKind.Group,
		Version:    mapping.GroupVersionKind.Version,
		Kind:       mapping.GroupVersionKind.Kind,
		Resource:   mapping.Resource.Resource,
		Namespaced: mapping.Scope.Name() == meta.RESTScopeNameNamespace,
	}
}

// restMapping resolves kind, singular, plural, short name or
// "resource.group" input. A miss resets the discovery cache once so newly
// installed CRDs are picked up.
func (c *Client) restMapping(kind string) (*meta.RESTMapping, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, api.InvalidArgument([]string{"kind"}, "kind must not be empty")
	}
	gr := schema.ParseGroupResource(strings.ToLower(kind))

	mapping, err := c.lookupMapping(gr)
	if err != nil && meta.IsNoMatchError(err) {
		if resettable, ok := c.mapper.(meta.ResettableRESTMapper); ok {
			resettable.Reset()
			mapping, err = c.lookupMapping(gr)
		}
	}
	if err != nil {
		if meta.IsNoMatchError(err) {
			unknown := api.InvalidArgument([]string{"kind"}, "unknown resource kind %q", kind)
			unknown.Err = err
			return nil, unknown
		}
		return nil, err
	}
	return mapping, nil
}

func (c *Client) lookupMapping(gr schema.GroupResource) (*meta.RESTMapping, error) {
	gvk, err := c.mapper.KindFor(gr.WithVersion(""))
	if err != nil {
		return nil, err
	}
	return c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
}

// resourceFor returns the dynamic interface for mapping, enforcing that
// namespaced kinds carry a namespace unless allowAll is set.
func (c *Client) resourceFor(mapping *meta.RESTMapping, namespace string, allowAll bool) (dynamic.ResourceInterface, error) {
	resource := c.dynamic.Resource(mapping.Resource)
	if mapping.Scope.Name() != meta.RESTScopeNameNamespace {
		return resource, nil
	}
	if namespace == "" {
		if allowAll {
			return resource, nil
		}
		return nil, api.InvalidArgument([]string{"namespace"}, "%s is namespaced; namespace must not be empty", mapping.GroupVersionKind.Kind)
	}
	return resource.Namespace(namespace), nil
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return api.InvalidArgument([]string{"name"}, "name must not be empty")
	}
	return nil
}

// GetResource fetches one named resource.
func (c *Client) GetResource(ctx context.Context, kind, namespace, name string) (*unstructured.Unstructured, error) {
	if err := requireName(name); err != nil {
		return nil, err
	}
	var obj *unstructured.Unstructured
	err := c.read(ctx, "get "+kind, func(ctx context.Context) error {
		mapping, err := c.restMapping(kind)
		if err != nil {
			return err
		}
		ri, err := c.resourceFor(mapping, namespace, false)
		if err != nil {
			return err
		}
		obj, err = ri.Get(ctx, name, metav1.GetOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// ListResources lists resources of kind. An empty namespace lists across
// all namespaces.
func (c *Client) ListResources(ctx context.Context, kind, namespace string, opts api.ListOptions) (*unstructured.UnstructuredList, error) {
	var list *unstructured.UnstructuredList
	err := c.read(ctx, "list "+kind, func(ctx context.Context) error {
		mapping, err := c.restMapping(kind)
		if err != nil {
			return err
		}
		ri, err := c.resourceFor(mapping, namespace, true)
		if err != nil {
			return err
		}
		list, err = ri.List(ctx, metav1.ListOptions{
			LabelSelector: opts.LabelSelector,
			FieldSelector: opts.FieldSelector,
			Limit:         opts.Limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// CreateResource creates obj. The object's kind must agree with kind when
// both are set; a missing apiVersion/kind is filled from the mapping.
func (c *Client) CreateResource(ctx context.Context, kind string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	if obj == nil || len(obj.Object) == 0 {
		return nil, api.InvalidArgument([]string{"manifest"}, "manifest must not be empty").WithMutation(api.MutationNotAttempted)
	}
	if kind == "" {
		kind = obj.GetKind()
	}
	if obj.GetName() == "" && obj.GetGenerateName() == "" {
		return nil, api.InvalidArgument([]string{"metadata.name"}, "manifest needs metadata.name or metadata.generateName").WithMutation(api.MutationNotAttempted)
	}

	mapping, err := c.mutationMapping(ctx, kind)
	if err != nil {
		return nil, err
	}
	if obj.GetKind() != "" && !strings.EqualFold(obj.GetKind(), mapping.GroupVersionKind.Kind) {
		return nil, api.InvalidArgument([]string{"kind"}, "manifest kind %q does not match %q", obj.GetKind(), mapping.GroupVersionKind.Kind).WithMutation(api.MutationNotAttempted)
	}
	obj = obj.DeepCopy()
	if obj.GetAPIVersion() == "" {
		obj.SetAPIVersion(mapping.GroupVersionKind.GroupVersion().String())
	}
	obj.SetKind(mapping.GroupVersionKind.Kind)

	ri, err := c.resourceFor(mapping, obj.GetNamespace(), false)
	if err != nil {
		return nil, api.AsError(err).WithMutation(api.MutationNotAttempted)
	}

	var created *unstructured.Unstructured
	err = c.mutate(ctx, "create "+mapping.GroupVersionKind.Kind, func(ctx context.Context) error {
		var err error
		created, err = ri.Create(ctx, obj, metav1.CreateOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// PatchResource applies patch to one named resource.
func (c *Client) PatchResource(ctx context.Context, kind, namespace, name string, patchType types.PatchType, patch []byte) (*unstructured.Unstructured, error) {
	if err := requireName(name); err != nil {
		return nil, api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	switch patchType {
	case types.JSONPatchType, types.MergePatchType, types.StrategicMergePatchType:
	default:
		return nil, api.InvalidArgument([]string{"patch_type"}, "unsupported patch type %q", patchType).WithMutation(api.MutationNotAttempted)
	}
	if len(patch) == 0 || !json.Valid(patch) {
		return nil, api.InvalidArgument([]string{"patch"}, "patch must be a JSON document").WithMutation(api.MutationNotAttempted)
	}

	mapping, err := c.mutationMapping(ctx, kind)
	if err != nil {
		return nil, err
	}
	ri, err := c.resourceFor(mapping, namespace, false)
	if err != nil {
		return nil, api.AsError(err).WithMutation(api.MutationNotAttempted)
	}

	var patched *unstructured.Unstructured
	err = c.mutate(ctx, "patch "+mapping.GroupVersionKind.Kind, func(ctx context.Context) error {
		var err error
		patched, err = ri.Patch(ctx, name, patchType, patch, metav1.PatchOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return patched, nil
}

// DeleteResource deletes one named resource with background propagation.
func (c *Client) DeleteResource(ctx context.Context, kind, namespace, name string) error {
	if err := requireName(name); err != nil {
		return api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	mapping, err := c.mutationMapping(ctx, kind)
	if err != nil {
		return err
	}
	ri, err := c.resourceFor(mapping, namespace, false)
	if err != nil {
		return api.AsError(err).WithMutation(api.MutationNotAttempted)
	}

	propagation := metav1.DeletePropagationBackground
	return c.mutate(ctx, "delete "+mapping.GroupVersionKind.Kind, func(ctx context.Context) error {
		return ri.Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	})
}

// mutationMapping resolves kind ahead of a mutation. Resolution is a read
// and may be retried; its failures are reported as never attempted.
func (c *Client) mutationMapping(ctx context.Context, kind string) (*meta.RESTMapping, error) {
	var mapping *meta.RESTMapping
	err := c.read(ctx, "resolve "+kind, func(ctx context.Context) error {
		var err error
		mapping, err = c.restMapping(kind)
		return err
	})
	if err != nil {
		return nil, api.AsError(err).WithMutation(api.MutationNotAttempted)
	}
	return mapping, nil
}
