package tools

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/duration"
	"sigs.k8s.io/yaml"
)

const (
	redacted              = "[REDACTED]"
	lastAppliedAnnotation = "kubectl.kubernetes.io/last-applied-configuration"
)

// sanitize returns a copy of obj that is safe and compact to show an agent:
// server-side bookkeeping is dropped and Secret values are redacted.
func sanitize(obj *unstructured.Unstructured) *unstructured.Unstructured {
	out := obj.DeepCopy()
	unstructured.RemoveNestedField(out.Object, "metadata", "managedFields")

	if ann := out.GetAnnotations(); ann != nil {
		delete(ann, lastAppliedAnnotation)
		if len(ann) == 0 {
			unstructured.RemoveNestedField(out.Object, "metadata", "annotations")
		} else {
			out.SetAnnotations(ann)
		}
	}

	if isSecret(out) {
		redactValues(out.Object, "data")
		redactValues(out.Object, "stringData")
	}
	return out
}

func isSecret(obj *unstructured.Unstructured) bool {
	return obj.GetKind() == "Secret" && (obj.GetAPIVersion() == "v1" || obj.GetAPIVersion() == "")
}

func redactValues(obj map[string]interface{}, field string) {
	values, ok := obj[field].(map[string]interface{})
	if !ok {
		return
	}
	for k := range values {
		values[k] = redacted
	}
}

// renderYAML renders a sanitized object as YAML.
func renderYAML(obj *unstructured.Unstructured) (string, error) {
	out, err := yaml.Marshal(sanitize(obj).Object)
	if err != nil {
		return "", fmt.Errorf("failed to render %s %s: %w", obj.GetKind(), obj.GetName(), err)
	}
	return string(out), nil
}

// age renders the time since the object was created, kubectl style.
func age(obj *unstructured.Unstructured, now time.Time) string {
	created := obj.GetCreationTimestamp()
	if created.IsZero() {
		return "<unknown>"
	}
	return duration.HumanDuration(now.Sub(created.Time))
}

// statusSummary condenses an object's status into one column: the phase
// when there is one, ready replicas for workloads, or the Ready condition.
func statusSummary(obj *unstructured.Unstructured) string {
	if phase, ok, _ := unstructured.NestedString(obj.Object, "status", "phase"); ok && phase != "" {
		return phase
	}
	if desired, ok, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas"); ok {
		ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "readyReplicas")
		return fmt.Sprintf("%d/%d ready", ready, desired)
	}
	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok || cond["type"] != "Ready" {
			continue
		}
		if cond["status"] == "True" {
			return "Ready"
		}
		return "NotReady"
	}
	return ""
}

// newTable returns a markdown table writer; agents read markdown well.
func newTable(header ...interface{}) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row(header))
	return tw
}

// renderList renders list items as a summary table, at most limit rows.
func renderList(items []unstructured.Unstructured, withNamespace bool, limit int, now time.Time) (string, int) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].GetNamespace() != items[j].GetNamespace() {
			return items[i].GetNamespace() < items[j].GetNamespace()
		}
		return items[i].GetName() < items[j].GetName()
	})
	shown := len(items)
	if limit > 0 && shown > limit {
		shown = limit
	}

	var tw table.Writer
	if withNamespace {
		tw = newTable("NAMESPACE", "NAME", "STATUS", "AGE")
	} else {
		tw = newTable("NAME", "STATUS", "AGE")
	}
	for i := 0; i < shown; i++ {
		item := &items[i]
		if withNamespace {
			tw.AppendRow(table.Row{item.GetNamespace(), item.GetName(), statusSummary(item), age(item, now)})
		} else {
			tw.AppendRow(table.Row{item.GetName(), statusSummary(item), age(item, now)})
		}
	}
	return tw.RenderMarkdown(), shown
}

// renderEvents renders events oldest first.
func renderEvents(events []unstructured.Unstructured, now time.Time) string {
	if len(events) == 0 {
		return "<none>"
	}
	sort.SliceStable(events, func(i, j int) bool {
		return eventTime(&events[i]).Before(eventTime(&events[j]))
	})
	tw := newTable("LAST SEEN", "TYPE", "REASON", "MESSAGE")
	for i := range events {
		ev := &events[i]
		evType, _, _ := unstructured.NestedString(ev.Object, "type")
		reason, _, _ := unstructured.NestedString(ev.Object, "reason")
		message, _, _ := unstructured.NestedString(ev.Object, "message")
		seen := "<unknown>"
		if t := eventTime(ev); !t.IsZero() {
			seen = duration.HumanDuration(now.Sub(t))
		}
		tw.AppendRow(table.Row{seen, evType, reason, strings.TrimSpace(message)})
	}
	return tw.RenderMarkdown()
}

func eventTime(ev *unstructured.Unstructured) time.Time {
	for _, field := range []string{"lastTimestamp", "eventTime", "firstTimestamp"} {
		if s, ok, _ := unstructured.NestedString(ev.Object, field); ok && s != "" {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
	}
	return ev.GetCreationTimestamp().Time
}
