package kube

import (
	"fmt"
	"sort"

	"k8s.io/client-go/tools/clientcmd"
)

// ContextInfo describes one kubeconfig context.
type ContextInfo struct {
	Name      string
	Cluster   string
	Namespace string
	Current   bool
}

// GetAvailableContexts lists the contexts of the given kubeconfig (or the
// default loading rules when empty), sorted by name.
var GetAvailableContexts = func(kubeconfig string) ([]ContextInfo, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	config, err := loadingRules.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	contexts := make([]ContextInfo, 0, len(config.Contexts))
	for name, kctx := range config.Contexts {
		if kctx == nil {
			continue
		}
		contexts = append(contexts, ContextInfo{
			Name:      name,
			Cluster:   kctx.Cluster,
			Namespace: kctx.Namespace,
			Current:   name == config.CurrentContext,
		})
	}
	sort.Slice(contexts, func(i, j int) bool { return contexts[i].Name < contexts[j].Name })
	return contexts, nil
}

// ValidateContext checks that contextName exists in the kubeconfig. An empty
// name means the current context, which must be set.
func ValidateContext(kubeconfig, contextName string) error {
	contexts, err := GetAvailableContexts(kubeconfig)
	if err != nil {
		return err
	}
	for _, c := range contexts {
		if (contextName == "" && c.Current) || c.Name == contextName {
			return nil
		}
	}
	if contextName == "" {
		return fmt.Errorf("current kubeconfig context is not set")
	}
	return fmt.Errorf("context '%s' does not exist in kubeconfig", contextName)
}
