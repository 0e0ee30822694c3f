package dispatcher

import (
	"k3smcp/internal/api"
	"k3smcp/internal/config"
)

// Policy is the server-side safety gate. It is checked before a handler
// runs and is independent of cluster RBAC.
type Policy struct {
	// ReadOnly rejects every tool that changes cluster state.
	ReadOnly bool
	// AllowDestructive permits destructive tools when not read-only.
	AllowDestructive bool
}

// PolicyFromConfig builds the gate from the safety section.
func PolicyFromConfig(cfg config.SafetyConfig) Policy {
	return Policy{ReadOnly: cfg.ReadOnly, AllowDestructive: cfg.AllowDestructive}
}

// Allows reports whether tools of the given class may run.
func (p Policy) Allows(effect api.SideEffect) bool {
	switch effect {
	case api.SideEffectReadOnly:
		return true
	case api.SideEffectMutating:
		return !p.ReadOnly
	case api.SideEffectDestructive:
		return !p.ReadOnly && p.AllowDestructive
	}
	return false
}

// Check fails with PermissionDenied when the tool's class is not allowed.
func (p Policy) Check(desc api.ToolDescriptor) error {
	if p.Allows(desc.SideEffect) {
		return nil
	}
	mode := "read-only mode"
	if !p.ReadOnly {
		mode = "destructive tools are disabled"
	}
	return api.NewError(api.KindPermissionDenied, "tool %s is %s and the server policy forbids it (%s)", desc.Name(), desc.SideEffect, mode).
		WithMutation(api.MutationNotAttempted)
}
