package kube

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/kubernetes"

	"k3smcp/internal/api"
	"k3smcp/pkg/logging"
)

// GetNodeStatus retrieves the number of ready and total nodes in a cluster.
var GetNodeStatus = func(ctx context.Context, clientset kubernetes.Interface) (readyNodes int, totalNodes int, nodes []corev1.Node, err error) {
	nodeList, errList := clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if errList != nil {
		return 0, 0, nil, fmt.Errorf("failed to list nodes: %w", errList)
	}

	totalNodes = len(nodeList.Items)
	for _, node := range nodeList.Items {
		for _, condition := range node.Status.Conditions {
			if condition.Type == corev1.NodeReady && condition.Status == corev1.ConditionTrue {
				readyNodes++
				break
			}
		}
	}
	return readyNodes, totalNodes, nodeList.Items, nil
}

// determineProviderFromNode inspects a single node's ProviderID and labels
// to determine where the cluster runs.
func determineProviderFromNode(node *corev1.Node) string {
	if node == nil {
		return "unknown"
	}

	providerID := node.Spec.ProviderID
	switch {
	case strings.HasPrefix(providerID, "k3s://"):
		return "k3s"
	case strings.HasPrefix(providerID, "kind://"):
		return "kind"
	case strings.HasPrefix(providerID, "aws://"):
		return "aws"
	case strings.HasPrefix(providerID, "azure://"):
		return "azure"
	case strings.HasPrefix(providerID, "gce://"):
		return "gcp"
	case strings.Contains(providerID, "vsphere"):
		return "vsphere"
	case strings.Contains(providerID, "openstack"):
		return "openstack"
	}

	for k, v := range node.GetLabels() {
		switch {
		case k == "node.kubernetes.io/instance-type" && v == "k3s":
			return "k3s"
		case strings.HasPrefix(k, "k3s.io/"):
			return "k3s"
		case strings.Contains(k, "eks.amazonaws.com") || strings.Contains(k, "amazonaws.com/compute"):
			return "aws"
		case strings.Contains(k, "kubernetes.azure.com") || strings.Contains(k, "cloud-provider-azure"):
			return "azure"
		case strings.Contains(k, "cloud.google.com/gke") || strings.Contains(k, "instancegroup.gke.io"):
			return "gcp"
		}
	}
	return "unknown"
}

// ClusterInfo collects server version, node readiness and the detected provider.
func (c *Client) ClusterInfo(ctx context.Context) (*api.ClusterInfo, error) {
	info := &api.ClusterInfo{
		Context: c.contextName,
		Server:  c.server,
	}
	err := c.read(ctx, "cluster info", func(ctx context.Context) error {
		version, err := c.discovery.ServerVersion()
		if err != nil {
			return err
		}
		info.Version = version.GitVersion
		info.Platform = version.Platform

		ready, total, nodes, err := GetNodeStatus(ctx, c.clientset)
		if err != nil {
			return err
		}
		info.ReadyNodes, info.TotalNodes = ready, total
		info.Provider = "unknown"
		if len(nodes) > 0 {
			info.Provider = determineProviderFromNode(&nodes[0])
		}
		if info.Provider == "unknown" && strings.Contains(info.Version, "+k3s") {
			info.Provider = "k3s"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	info.CollectedAt = time.Now()
	return info, nil
}

// ResourceTypes lists the API resources the cluster serves, one entry per
// group and resource name, skipping subresources. Partial discovery failures
// (an unavailable aggregated API) are logged and tolerated.
func (c *Client) ResourceTypes(ctx context.Context) ([]api.ResourceType, error) {
	var out []api.ResourceType
	err := c.read(ctx, "discover resource types", func(ctx context.Context) error {
		_, lists, err := c.discovery.ServerGroupsAndResources()
		if err != nil {
			if !discovery.IsGroupDiscoveryFailedError(err) || len(lists) == 0 {
				return err
			}
			logging.Warn("Kube", "Partial API discovery: %v", err)
		}

		seen := make(map[string]bool)
		out = out[:0]
		for _, list := range lists {
			if list == nil {
				continue
			}
			gv, err := schema.ParseGroupVersion(list.GroupVersion)
			if err != nil {
				continue
			}
			for _, r := range list.APIResources {
				if strings.Contains(r.Name, "/") {
					continue
				}
				key := gv.Group + "/" + r.Name
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, api.ResourceType{
					Name:       r.Name,
					Kind:       r.Kind,
					Group:      gv.Group,
					Version:    gv.Version,
					ShortNames: r.ShortNames,
					Namespaced: r.Namespaced,
					Verbs:      r.Verbs,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
