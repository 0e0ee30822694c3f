package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"k3smcp/internal/kube"
)

func newContextsCmd() *cobra.Command {
	var kubeconfig string
	cmd := &cobra.Command{
		Use:   "contexts",
		Short: "List the kubeconfig contexts k3smcp can connect to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			contexts, err := kube.GetAvailableContexts(kubeconfig)
			if err != nil {
				return err
			}
			if len(contexts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), text.FgYellow.Sprint("No contexts found"))
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"", "NAME", "CLUSTER", "NAMESPACE"})
			for _, c := range contexts {
				marker := ""
				if c.Current {
					marker = text.FgGreen.Sprint("*")
				}
				ns := c.Namespace
				if ns == "" {
					ns = text.FgHiBlack.Sprint("-")
				}
				t.AppendRow(table.Row{marker, c.Name, c.Cluster, ns})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to the kubeconfig file")
	return cmd
}
