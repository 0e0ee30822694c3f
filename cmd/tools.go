package cmd

import (
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"k3smcp/internal/api"
	"k3smcp/internal/tools"
)

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools served to agents",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"TOOL", "EFFECT", "STREAMING", "PARAMETERS"})
			for _, e := range tools.Catalog() {
				d := e.Descriptor
				t.AppendRow(table.Row{d.Name(), effectLabel(d.SideEffect), yesNo(d.Streaming), parameters(d)})
			}
			t.Render()
		},
	}
}

func effectLabel(effect api.SideEffect) string {
	switch effect {
	case api.SideEffectReadOnly:
		return text.FgGreen.Sprint(string(effect))
	case api.SideEffectMutating:
		return text.FgYellow.Sprint(string(effect))
	default:
		return text.FgRed.Sprint(string(effect))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return text.FgHiBlack.Sprint("-")
}

// parameters lists the input parameters, required ones marked with '*'.
func parameters(d api.ToolDescriptor) string {
	required := make(map[string]bool)
	for _, r := range d.Tool.InputSchema.Required {
		required[r] = true
	}
	var names []string
	for _, name := range sortedKeys(d.Tool.InputSchema.Properties) {
		if required[name] {
			name += "*"
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
