package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"flowci/internal/engine"
)

func newGraphCmd() *cobra.Command {
	var workflow string

	cmd := &cobra.Command{
		Use:   "graph <file>",
		Short: "Print a workflow's execution plan: roots, waves, and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadFile(args[0])
			if err != nil {
				return err
			}
			name, err := pickWorkflow(file, workflow)
			if err != nil {
				return err
			}
			g, err := engine.BuildGraph(file, name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "workflow %s\n", name)
			fmt.Fprintf(out, "roots: %s\n", strings.Join(g.Roots(), ", "))

			levels, err := g.Levels()
			if err != nil {
				return err
			}
			for i, level := range levels {
				fmt.Fprintf(out, "wave %d: %s\n", i+1, strings.Join(level, ", "))
			}
			for _, node := range g.Nodes() {
				for _, req := range g.Requires(node) {
					fmt.Fprintf(out, "  %s -> %s\n", req, node)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "workflow to plan")
	return cmd
}
