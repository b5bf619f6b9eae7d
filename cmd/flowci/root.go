package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowci/internal/config"
)

var verbose bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flowci",
		Short: "Run declarative CI workflow files",
		Long: `flowci parses, validates, and executes declarative workflow files:
named jobs bound to Docker images with ordered shell steps, connected by a
requires dependency graph. Independent jobs run in parallel; a failed job
skips everything that depends on it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newValidateCmd(),
		newGraphCmd(),
		newRunCmd(),
		newJournalCmd(),
		newServeCmd(),
	)
	return root
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}

func loadSettings() (*config.Settings, error) {
	return config.LoadSettings()
}

// loadFile loads and validates a workflow file, the common head of most
// subcommands.
func loadFile(path string) (*config.File, error) {
	file, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return file, nil
}

// pickWorkflow resolves the --workflow flag against the file: required when
// the file defines more than one workflow.
func pickWorkflow(file *config.File, flag string) (string, error) {
	if flag != "" {
		if _, ok := file.Workflows[flag]; !ok {
			return "", fmt.Errorf("workflow %q not defined in file", flag)
		}
		return flag, nil
	}
	if len(file.Workflows) == 1 {
		for name := range file.Workflows {
			return name, nil
		}
	}
	return "", fmt.Errorf("file defines multiple workflows, pass --workflow")
}
