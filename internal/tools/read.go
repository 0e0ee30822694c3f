package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mark3labs/mcp-go/mcp"

	"k3smcp/internal/api"
	"k3smcp/internal/registry"
	"k3smcp/pkg/logging"
)

// now is replaced in tests to make ages stable.
var now = time.Now

func resourceTypesTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("resource_types", "Resource types",
				"List the resource kinds the cluster serves, with short names, API group and scope",
				api.SideEffectReadOnly, true),
			SideEffect: api.SideEffectReadOnly,
		},
		Handler: handleResourceTypes,
	}
}

func handleResourceTypes(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	types, err := inv.Cluster.ResourceTypes(ctx)
	if err != nil {
		return nil, err
	}
	tw := newTable("NAME", "SHORTNAMES", "APIVERSION", "NAMESPACED", "KIND")
	for _, t := range types {
		apiVersion := t.Version
		if t.Group != "" {
			apiVersion = t.Group + "/" + t.Version
		}
		tw.AppendRow(table.Row{t.Name, strings.Join(t.ShortNames, ","), apiVersion, t.Namespaced, t.Kind})
	}
	return &api.Payload{Text: fmt.Sprintf("%d resource types\n\n%s", len(types), tw.RenderMarkdown())}, nil
}

func listResourcesTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("list_resources", "List resources",
				"List resources of one kind with their status and age",
				api.SideEffectReadOnly, true,
				kindParam(),
				namespaceParam(),
				mcp.WithBoolean("all_namespaces",
					mcp.Description("List across all namespaces"),
					mcp.DefaultBool(false),
				),
				mcp.WithString("label_selector",
					mcp.Description("Label selector, e.g. app=web,tier!=cache"),
				),
				mcp.WithString("field_selector",
					mcp.Description("Field selector, e.g. status.phase=Running"),
				),
				mcp.WithNumber("limit",
					mcp.Description("Maximum number of items to return"),
					integer(),
					mcp.Min(1),
				),
			),
			SideEffect: api.SideEffectReadOnly,
		},
		Handler: handleListResources,
	}
}

func handleListResources(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	kind := inv.Args.String("kind")
	allNamespaces := inv.Args.Bool("all_namespaces", false)
	namespace := inv.Namespace()
	if allNamespaces {
		namespace = ""
	}

	limit := inv.Args.Int("limit", int64(inv.Limits.MaxListItems))
	if ceiling := int64(inv.Limits.MaxListItems); ceiling > 0 && limit > ceiling {
		limit = ceiling
	}

	list, err := inv.Cluster.ListResources(ctx, kind, namespace, api.ListOptions{
		LabelSelector: inv.Args.String("label_selector"),
		FieldSelector: inv.Args.String("field_selector"),
		Limit:         limit,
	})
	if err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		where := "namespace " + namespace
		if namespace == "" {
			where = "any namespace"
		}
		return api.TextPayload("No %s found in %s.", kind, where), nil
	}

	rendered, shown := renderList(list.Items, allNamespaces, int(limit), now())
	payload := &api.Payload{Text: rendered}
	if shown < len(list.Items) || list.GetContinue() != "" {
		payload.Truncated = true
		payload.Text += fmt.Sprintf("\nShowing %d items; more exist. Narrow the query with label_selector or field_selector.", shown)
	}
	return payload, nil
}

func getResourceTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("get_resource", "Get resource",
				"Get one resource as YAML. Secret values are redacted",
				api.SideEffectReadOnly, true,
				kindParam(),
				nameParam(),
				namespaceParam(),
			),
			SideEffect: api.SideEffectReadOnly,
		},
		Handler: handleGetResource,
	}
}

func handleGetResource(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	obj, err := inv.Cluster.GetResource(ctx, inv.Args.String("kind"), inv.Namespace(), inv.Args.String("name"))
	if err != nil {
		return nil, err
	}
	text, err := renderYAML(obj)
	if err != nil {
		return nil, err
	}
	return &api.Payload{Text: text}, nil
}

func describeResourceTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("describe_resource", "Describe resource",
				"Get one resource as YAML together with the events that refer to it",
				api.SideEffectReadOnly, true,
				kindParam(),
				nameParam(),
				namespaceParam(),
			),
			SideEffect: api.SideEffectReadOnly,
		},
		Handler: handleDescribeResource,
	}
}

func handleDescribeResource(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	obj, err := inv.Cluster.GetResource(ctx, inv.Args.String("kind"), inv.Namespace(), inv.Args.String("name"))
	if err != nil {
		return nil, err
	}
	text, err := renderYAML(obj)
	if err != nil {
		return nil, err
	}

	selector := fmt.Sprintf("involvedObject.kind=%s,involvedObject.name=%s", obj.GetKind(), obj.GetName())
	events, err := inv.Cluster.ListResources(ctx, "events", obj.GetNamespace(), api.ListOptions{
		FieldSelector: selector,
		Limit:         int64(inv.Limits.MaxListItems),
	})

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\nEvents:\n")
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, err
	case err != nil:
		logging.Debug("Tools", "Events for %s %s unavailable: %v", obj.GetKind(), obj.GetName(), err)
		fmt.Fprintf(&b, "<unavailable: %s>\n", api.AsError(err).Message)
	default:
		b.WriteString(renderEvents(events.Items, now()))
		b.WriteString("\n")
	}
	return &api.Payload{Text: b.String()}, nil
}

func clusterInfoTool() registry.Entry {
	return registry.Entry{
		Descriptor: api.ToolDescriptor{
			Tool: newTool("cluster_info", "Cluster info",
				"Show the connected context, server version, node readiness and detected provider",
				api.SideEffectReadOnly, true),
			SideEffect: api.SideEffectReadOnly,
		},
		Handler: handleClusterInfo,
	}
}

func handleClusterInfo(ctx context.Context, inv *api.Invocation) (*api.Payload, error) {
	info, err := inv.Cluster.ClusterInfo(ctx)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Context:  %s\n", info.Context)
	fmt.Fprintf(&b, "Server:   %s\n", info.Server)
	fmt.Fprintf(&b, "Version:  %s (%s)\n", info.Version, info.Platform)
	fmt.Fprintf(&b, "Provider: %s\n", info.Provider)
	fmt.Fprintf(&b, "Nodes:    %d/%d ready\n", info.ReadyNodes, info.TotalNodes)
	return &api.Payload{Text: b.String()}, nil
}
