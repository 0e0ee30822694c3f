package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/yaml"

	"k3smcp/internal/api"
	"k3smcp/internal/registry"
)

var documentSeparator = regexp.MustCompile(`(?m)^---\s*$`)

var patchTypes = map[string]types.PatchType{
	"merge":     types.MergePatchType,
	"strategic": types.StrategicMergePatchType,
	"json":      types.JSONPatchType,
}

// document accepts either an encoded document or an inline JSON value.
func document(allowed ...string) mcp.PropertyOption {
	return func(prop map[string]any) {
		prop["type"] = allowed
	}
}

// notAttempted marks a failure that happened before any cluster call.
func notAttempted(err error) error {
	return api.AsError(err).WithMutation(api.MutationNotAttempted)
}

func ref(kind, namespace, name string) string {
	if namespace == "" {
		return fmt.Sprintf("%s %s", kind, name)
	}
	return fmt.Sprintf("%s %s/%s", kind, namespace, name)
}

// parseManifest decodes the manifest argument. It takes a single YAML or
// JSON document, or an inline object.
func parseManifest(args api.Arguments) (*unstructured.Unstructured, error) {
	var data []byte
	switch v := args["manifest"].(type) {
	case string:
		var docs []string
		for _, doc := range documentSeparator.Split(v, -1) {
			if strings.TrimSpace(doc) != "" {
				docs = append(docs, doc)
			}
		}
		if len(docs) != 1 {
			return nil, api.InvalidArgument([]string{"manifest"}, "manifest must contain exactly one document, got %d", len(docs))
		}
		converted, err := yaml.YAMLToJSON([]byte(docs[0]))
		if err != nil {
			return nil, api.InvalidArgument([]string{"manifest"}, "manifest is not valid YAML or JSON: %v", err)
		}
		data = converted
	case map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, api.InvalidArgument([]string{"manifest"}, "manifest cannot be encoded: %v", err)
		}
		data = encoded
	default:
		return nil, api.InvalidArgument([]string{"manifest"}, "manifest must be a YAML/JSON document or an object")
	}

	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, api.InvalidArgument([]string{"manifest"}, "manifest is not a resource: %v", err)
	}
	return obj, nil
}

// qualifiedKind returns "Kind.group" for non-core objects so lookups do not
// collide with same-named kinds in other groups.
func qualifiedKind(obj *unstructured.Unstructured) string {
	gv, err := schema.ParseGroupVersion(obj.GetAPIVersion())
	if err != nil || gv.Group == "" {
		return obj.GetKind()
	}
	return obj.GetKind() + "." + gv.Group
}

func createResourceTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("create_resource", "Create resource",
				"Create a resource from a YAML or JSON manifest",
				api.SideEffectMutating, false,
				mcp.WithString("manifest",
					mcp.Required(),
					mcp.Description("A single resource manifest as YAML or JSON text, or as an object"),
					document("string", "object"),
				),
				mcp.WithString("namespace",
					mcp.Description("Namespace for manifests that do not set one; defaults to the configured namespace"),
				),
			),
			SideEffect: api.SideEffectMutating,
			Target:     manifestTarget,
		},
		Handler: handleCreateResource,
	}
}

func handleCreateResource(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	obj, err := parseManifest(inv.Args)
	if err != nil {
		return nil, notAttempted(err)
	}
	kind := qualifiedKind(obj)
	resolved, err := inv.Cluster.ResolveKind(ctx, kind)
	if err != nil {
		return nil, notAttempted(err)
	}

	argNamespace := strings.TrimSpace(inv.Args.String("namespace"))
	switch {
	case !resolved.Namespaced:
		obj.SetNamespace("")
	case obj.GetNamespace() == "":
		obj.SetNamespace(inv.Namespace())
	case argNamespace != "" && argNamespace != obj.GetNamespace():
		return nil, notAttempted(api.InvalidArgument([]string{"namespace"},
			"namespace %q conflicts with manifest namespace %q", argNamespace, obj.GetNamespace()))
	}

	created, err := inv.Cluster.CreateResource(ctx, kind, obj)
	if err != nil {
		return nil, err
	}
	text, err := renderYAML(created)
	if err != nil {
		return nil, err
	}
	return &api.Payload{
		Text:     fmt.Sprintf("Created %s\n\n%s", ref(resolved.Kind, created.GetNamespace(), created.GetName()), text),
		Mutation: api.MutationApplied,
	}, nil
}

func patchResourceTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("patch_resource", "Patch resource",
				"Patch one resource with a merge, strategic merge or JSON patch",
				api.SideEffectMutating, false,
				kindParam(),
				nameParam(),
				namespaceParam(),
				mcp.WithString("patch",
					mcp.Required(),
					mcp.Description("Patch document as JSON or YAML text, or as an object (array for json patches)"),
					document("string", "object", "array"),
				),
				mcp.WithString("patch_type",
					mcp.Description("Patch strategy; strategic only works for built-in kinds"),
					mcp.Enum("merge", "strategic", "json"),
					mcp.DefaultString("merge"),
				),
			),
			SideEffect: api.SideEffectMutating,
			Target:     kindNameTarget,
		},
		Handler: handlePatchResource,
	}
}

func patchDocument(args api.Arguments) ([]byte, error) {
	if s, ok := args["patch"].(string); ok {
		if json.Valid([]byte(s)) {
			return []byte(s), nil
		}
		data, err := yaml.YAMLToJSON([]byte(s))
		if err != nil {
			return nil, api.InvalidArgument([]string{"patch"}, "patch is not valid JSON or YAML: %v", err)
		}
		return data, nil
	}
	data, err := args.JSON("patch")
	if err != nil {
		return nil, api.InvalidArgument([]string{"patch"}, "%v", err)
	}
	return data, nil
}

func handlePatchResource(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	name := inv.Args.String("name")
	typeName := inv.Args.String("patch_type")
	if typeName == "" {
		typeName = "merge"
	}
	patchType, ok := patchTypes[typeName]
	if !ok {
		return nil, notAttempted(api.InvalidArgument([]string{"patch_type"}, "unknown patch type %q", typeName))
	}
	data, err := patchDocument(inv.Args)
	if err != nil {
		return nil, notAttempted(err)
	}

	patched, err := inv.Cluster.PatchResource(ctx, inv.Args.String("kind"), inv.Namespace(), name, patchType, data)
	if err != nil {
		return nil, err
	}
	text, err := renderYAML(patched)
	if err != nil {
		return nil, err
	}
	return &api.Payload{
		Text:     fmt.Sprintf("Patched %s\n\n%s", ref(patched.GetKind(), patched.GetNamespace(), patched.GetName()), text),
		Mutation: api.MutationApplied,
	}, nil
}

func scaleResourceTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("scale_resource", "Scale resource",
				"Set the replica count of a Deployment, StatefulSet, ReplicaSet or any kind with spec.replicas",
				api.SideEffectMutating, true,
				kindParam(),
				nameParam(),
				namespaceParam(),
				mcp.WithNumber("replicas",
					mcp.Required(),
					mcp.Description("Desired number of replicas"),
					integer(),
					mcp.Min(0),
				),
			),
			SideEffect: api.SideEffectMutating,
			Target:     kindNameTarget,
		},
		Handler: handleScaleResource,
	}
}

func handleScaleResource(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	kind, name, namespace := inv.Args.String("kind"), inv.Args.String("name"), inv.Namespace()
	replicas := inv.Args.Int("replicas", -1)
	if replicas < 0 {
		return nil, notAttempted(api.InvalidArgument([]string{"replicas"}, "replicas must be a non-negative integer"))
	}

	current, err := inv.Cluster.GetResource(ctx, kind, namespace, name)
	if err != nil {
		return nil, notAttempted(err)
	}
	previous, found, _ := unstructured.NestedInt64(current.Object, "spec", "replicas")
	if !found {
		return nil, notAttempted(api.InvalidArgument([]string{"kind"}, "%s has no spec.replicas and cannot be scaled", current.GetKind()))
	}

	patch := fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas)
	if _, err := inv.Cluster.PatchResource(ctx, kind, namespace, name, types.MergePatchType, []byte(patch)); err != nil {
		return nil, err
	}
	return &api.Payload{
		Text:     fmt.Sprintf("Scaled %s from %d to %d replicas.", ref(current.GetKind(), current.GetNamespace(), name), previous, replicas),
		Mutation: api.MutationApplied,
	}, nil
}

func deleteResourceTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("delete_resource", "Delete resource",
				"Delete one resource. Dependents are garbage collected in the background",
				api.SideEffectDestructive, false,
				kindParam(),
				nameParam(),
				namespaceParam(),
			),
			SideEffect: api.SideEffectDestructive,
			Target:     kindNameTarget,
		},
		Handler: handleDeleteResource,
	}
}

func handleDeleteResource(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	kind, name, namespace := inv.Args.String("kind"), inv.Args.String("name"), inv.Namespace()
	if err := inv.Cluster.DeleteResource(ctx, kind, namespace, name); err != nil {
		return nil, err
	}
	return &api.Payload{
		Text:     fmt.Sprintf("Deleted %s.", ref(kind, namespace, name)),
		Mutation: api.MutationApplied,
	}, nil
}

func execPodTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("exec_pod", "Exec in pod",
				"Run a non-interactive command in a pod container and return its output and exit code",
				api.SideEffectDestructive, false,
				podNameParam(),
				namespaceParam(),
				containerParam(),
				mcp.WithArray("command",
					mcp.Required(),
					mcp.Description("Command and arguments, e.g. [\"cat\", \"/etc/resolv.conf\"]; no shell is implied"),
					mcp.Items(map[string]any{"type": "string"}),
					mcp.MinItems(1),
				),
			),
			SideEffect: api.SideEffectDestructive,
			Target:     podTarget,
		},
		Handler: handleExecPod,
	}
}

func handleExecPod(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	namespace, pod := inv.Namespace(), inv.Args.String("pod_name")
	result, err := inv.Cluster.Exec(ctx, namespace, pod, api.ExecOptions{
		Container:      inv.Args.String("container"),
		Command:        inv.Args.StringSlice("command"),
		MaxOutputBytes: inv.Limits.MaxPayloadBytes / 2,
	})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Exit code: %d\n", result.ExitCode)
	if result.Stdout != "" {
		fmt.Fprintf(&b, "\nstdout:\n%s", result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprintf(&b, "\nstderr:\n%s", result.Stderr)
	}
	if result.Truncated {
		b.WriteString("\n... [output truncated]\n")
	}
	return &api.Payload{Text: b.String(), Mutation: api.MutationApplied, Truncated: result.Truncated}, nil
}
