package dispatcher

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k3smcp/internal/api"
)

func integer() mcp.PropertyOption {
	return func(schema map[string]any) { schema["type"] = "integer" }
}

var testSchema = mcp.NewTool("test",
	mcp.WithString("kind", mcp.Required()),
	mcp.WithString("mode", mcp.Enum("merge", "json")),
	mcp.WithNumber("replicas", integer(), mcp.Min(0), mcp.Max(10)),
	mcp.WithNumber("ratio"),
	mcp.WithBoolean("follow"),
	mcp.WithArray("command", mcp.Items(map[string]any{"type": "string"}), mcp.MinItems(1)),
	mcp.WithObject("labels"),
	mcp.WithString("manifest", func(p map[string]any) { p["type"] = []string{"string", "object"} }),
).InputSchema

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		args   api.Arguments
		fields []string
	}{
		{"minimal", api.Arguments{"kind": "Pod"}, nil},
		{"all valid", api.Arguments{
			"kind": "Pod", "mode": "json", "replicas": float64(3), "ratio": 0.5, "follow": true,
			"command": []any{"ls", "-l"}, "labels": map[string]any{"a": "b"}, "manifest": map[string]any{"kind": "Pod"},
		}, nil},
		{"manifest as text", api.Arguments{"kind": "Pod", "manifest": "kind: Pod"}, nil},
		{"null optional is ignored", api.Arguments{"kind": "Pod", "mode": nil}, nil},
		{"missing required", api.Arguments{}, []string{"kind"}},
		{"null required", api.Arguments{"kind": nil}, []string{"kind"}},
		{"blank required", api.Arguments{"kind": "  "}, []string{"kind"}},
		{"wrong type", api.Arguments{"kind": 3}, []string{"kind"}},
		{"fractional integer", api.Arguments{"kind": "Pod", "replicas": 1.5}, []string{"replicas"}},
		{"below minimum", api.Arguments{"kind": "Pod", "replicas": float64(-1)}, []string{"replicas"}},
		{"above maximum", api.Arguments{"kind": "Pod", "replicas": float64(11)}, []string{"replicas"}},
		{"number as string", api.Arguments{"kind": "Pod", "ratio": "0.5"}, []string{"ratio"}},
		{"not in enum", api.Arguments{"kind": "Pod", "mode": "yaml"}, []string{"mode"}},
		{"empty array", api.Arguments{"kind": "Pod", "command": []any{}}, []string{"command"}},
		{"array item type", api.Arguments{"kind": "Pod", "command": []any{"ls", 1}}, []string{"command"}},
		{"string instead of array", api.Arguments{"kind": "Pod", "command": "ls"}, []string{"command"}},
		{"array instead of object", api.Arguments{"kind": "Pod", "labels": []any{}}, []string{"labels"}},
		{"type union", api.Arguments{"kind": "Pod", "manifest": true}, []string{"manifest"}},
		{"unknown parameter", api.Arguments{"kind": "Pod", "force": true}, []string{"force"}},
		{"several problems", api.Arguments{"follow": "yes", "replicas": float64(20)}, []string{"follow", "kind", "replicas"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(testSchema, tt.args)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			apiErr := api.AsError(err)
			assert.Equal(t, api.KindInvalidArgument, apiErr.Kind)
			assert.Equal(t, tt.fields, apiErr.Fields)
			for _, f := range tt.fields {
				assert.Contains(t, apiErr.Message, f)
			}
		})
	}
}

func TestValidate_DecodedJSON(t *testing.T) {
	var args api.Arguments
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"Pod","replicas":4,"command":["sh","-c","true"]}`), &args))
	assert.NoError(t, Validate(testSchema, args))

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"Pod","replicas":4.2}`), &args))
	assert.Error(t, Validate(testSchema, args))
}
