// Package tools defines the fixed catalog of cluster tools: their MCP
// definitions, side-effect classes and handlers.
package tools

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"k3smcp/internal/api"
	"k3smcp/internal/registry"
)

// Catalog returns every tool in the order it is advertised.
func Catalog() []registry.Entry {
	return []registry.Entry{
		resourceTypesTool(),
		listResourcesTool(),
		getResourceTool(),
		describeResourceTool(),
		getPodLogsTool(),
		streamPodLogsTool(),
		clusterInfoTool(),
		createResourceTool(),
		patchResourceTool(),
		scaleResourceTool(),
		deleteResourceTool(),
		execPodTool(),
	}
}

// Register adds the whole catalog to r.
func Register(r *registry.Registry) error {
	for _, e := range Catalog() {
		if err := r.Register(e.Descriptor, e.Handler); err != nil {
			return err
		}
	}
	return nil
}

// newTool builds a tool definition whose annotations agree with its
// side-effect class.
func newTool(name, title, description string, effect api.SideEffect, idempotent bool, opts ...mcp.ToolOption) mcp.Tool {
	base := []mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithTitleAnnotation(title),
		mcp.WithReadOnlyHintAnnotation(effect == api.SideEffectReadOnly),
		mcp.WithDestructiveHintAnnotation(effect == api.SideEffectDestructive),
		mcp.WithIdempotentHintAnnotation(idempotent),
		mcp.WithOpenWorldHintAnnotation(false),
	}
	return mcp.NewTool(name, append(base, opts...)...)
}

func kindParam() mcp.ToolOption {
	return mcp.WithString("kind",
		mcp.Required(),
		mcp.Description("Resource kind as Kind, plural, short name or resource.group, e.g. Pod, deployments, cm, certificates.cert-manager.io"),
	)
}

func nameParam() mcp.ToolOption {
	return mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Resource name"),
	)
}

func namespaceParam() mcp.ToolOption {
	return mcp.WithString("namespace",
		mcp.Description("Namespace; defaults to the configured namespace. Ignored for cluster-scoped kinds"),
	)
}

func podNameParam() mcp.ToolOption {
	return mcp.WithString("pod_name",
		mcp.Required(),
		mcp.Description("Pod name"),
	)
}

func containerParam() mcp.ToolOption {
	return mcp.WithString("container",
		mcp.Description("Container name; required when the pod runs more than one container"),
	)
}

// integer narrows a number property to whole numbers.
func integer() mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["type"] = "integer"
	}
}

// kindNameTarget locks on the kind, namespace and name arguments.
func kindNameTarget(args api.Arguments) (api.ResourceKey, bool) {
	kind := strings.TrimSpace(args.String("kind"))
	name := strings.TrimSpace(args.String("name"))
	if kind == "" || name == "" {
		return api.ResourceKey{}, false
	}
	return api.ResourceKey{Kind: kind, Namespace: strings.TrimSpace(args.String("namespace")), Name: name}, true
}

// podTarget locks on the pod named by pod_name.
func podTarget(args api.Arguments) (api.ResourceKey, bool) {
	name := strings.TrimSpace(args.String("pod_name"))
	if name == "" {
		return api.ResourceKey{}, false
	}
	return api.ResourceKey{Kind: "Pod", Namespace: strings.TrimSpace(args.String("namespace")), Name: name}, true
}

// manifestTarget locks on the object a manifest describes. Objects named by
// generateName get a fresh name and need no lock.
func manifestTarget(args api.Arguments) (api.ResourceKey, bool) {
	obj, err := parseManifest(args)
	if err != nil || obj.GetKind() == "" || obj.GetName() == "" {
		return api.ResourceKey{}, false
	}
	ns := obj.GetNamespace()
	if ns == "" {
		ns = strings.TrimSpace(args.String("namespace"))
	}
	return api.ResourceKey{Kind: qualifiedKind(obj), Namespace: ns, Name: obj.GetName()}, true
}
