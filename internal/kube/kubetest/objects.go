package kubetest

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Object builds an unstructured object with the given identity.
func Object(apiVersion, kind, namespace, name string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	obj.SetAPIVersion(apiVersion)
	obj.SetKind(kind)
	obj.SetNamespace(namespace)
	obj.SetName(name)
	return obj
}

// Pod builds a running pod.
func Pod(namespace, name string) *unstructured.Unstructured {
	obj := Object("v1", "Pod", namespace, name)
	obj.SetLabels(map[string]string{"app": name})
	_ = unstructured.SetNestedField(obj.Object, "Running", "status", "phase")
	return obj
}

// Deployment builds a deployment with all replicas ready.
func Deployment(namespace, name string, replicas int64) *unstructured.Unstructured {
	obj := Object("apps/v1", "Deployment", namespace, name)
	_ = unstructured.SetNestedField(obj.Object, replicas, "spec", "replicas")
	_ = unstructured.SetNestedField(obj.Object, replicas, "status", "replicas")
	_ = unstructured.SetNestedField(obj.Object, replicas, "status", "readyReplicas")
	return obj
}

// Event builds an event about the object identified by kind, namespace and name.
func Event(namespace, name, involvedKind, involvedName, reason, message string) *unstructured.Unstructured {
	obj := Object("v1", "Event", namespace, name)
	_ = unstructured.SetNestedField(obj.Object, involvedKind, "involvedObject", "kind")
	_ = unstructured.SetNestedField(obj.Object, involvedName, "involvedObject", "name")
	_ = unstructured.SetNestedField(obj.Object, reason, "reason")
	_ = unstructured.SetNestedField(obj.Object, message, "message")
	_ = unstructured.SetNestedField(obj.Object, "Normal", "type")
	return obj
}
