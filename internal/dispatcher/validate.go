package dispatcher

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"k3smcp/internal/api"
)

// Validate checks args against a tool's input schema. Every offending field
// is reported in one InvalidArgument error so the agent can fix all of them
// at once. Unknown parameters are rejected.
func Validate(schema mcp.ToolInputSchema, args api.Arguments) error {
	problems := make(map[string]string)

	for _, name := range schema.Required {
		v, ok := args[name]
		switch {
		case !ok || v == nil:
			problems[name] = "is required"
		case isBlank(v):
			problems[name] = "must not be empty"
		}
	}

	for name, value := range args {
		if _, reported := problems[name]; reported || value == nil {
			continue
		}
		raw, ok := schema.Properties[name]
		if !ok {
			problems[name] = "is not a parameter of this tool"
			continue
		}
		prop, _ := raw.(map[string]any)
		if msg := checkValue(prop, value); msg != "" {
			problems[name] = msg
		}
	}

	if len(problems) == 0 {
		return nil
	}
	fields := make([]string, 0, len(problems))
	for name := range problems {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	details := make([]string, 0, len(fields))
	for _, name := range fields {
		details = append(details, fmt.Sprintf("%s %s", name, problems[name]))
	}
	return api.InvalidArgument(fields, "invalid arguments: %s", strings.Join(details, "; "))
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// checkValue returns a description of what is wrong with value, or "".
func checkValue(prop map[string]any, value any) string {
	allowed := schemaTypes(prop["type"])
	if len(allowed) > 0 {
		matched := false
		for _, t := range allowed {
			if hasType(value, t) {
				matched = true
				break
			}
		}
		if !matched {
			return "must be " + strings.Join(allowed, " or ")
		}
	}

	if enum := stringList(prop["enum"]); len(enum) > 0 {
		s, _ := value.(string)
		found := false
		for _, e := range enum {
			if s == e {
				found = true
				break
			}
		}
		if !found {
			return "must be one of " + strings.Join(enum, ", ")
		}
	}

	if n, ok := toFloat(value); ok {
		if min, ok := toFloat(prop["minimum"]); ok && n < min {
			return fmt.Sprintf("must be at least %v", min)
		}
		if max, ok := toFloat(prop["maximum"]); ok && n > max {
			return fmt.Sprintf("must be at most %v", max)
		}
	}

	if items, ok := value.([]any); ok {
		if min, ok := toFloat(prop["minItems"]); ok && float64(len(items)) < min {
			return fmt.Sprintf("must have at least %v items", min)
		}
		if itemSchema, ok := prop["items"].(map[string]any); ok {
			for i, item := range items {
				if msg := checkValue(itemSchema, item); msg != "" {
					return fmt.Sprintf("item %d %s", i, msg)
				}
			}
		}
	}
	return ""
}

func schemaTypes(v any) []string {
	if s, ok := v.(string); ok {
		return []string{s}
	}
	return stringList(v)
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasType(value any, schemaType string) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		return api.IsInteger(value)
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
