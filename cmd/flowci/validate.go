package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowci/internal/engine"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workflow file: syntax, references, images, and graph shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadFile(args[0])
			if err != nil {
				return err
			}
			for name := range file.Workflows {
				if _, err := engine.BuildGraph(file, name); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d job(s), %d workflow(s))\n",
				args[0], len(file.Jobs), len(file.Workflows))
			return nil
		},
	}
}
