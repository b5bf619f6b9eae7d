package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowci/internal/engine"
)

func newRunCmd() *cobra.Command {
	var workflow string
	var watch bool

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow file locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			runner, err := engine.NewRunner(settings, logger)
			if err != nil {
				return err
			}

			if !watch {
				return runOnce(cmd, runner, args[0], workflow)
			}
			return runWatch(cmd, runner, logger, args[0], workflow)
		},
	}
	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "workflow to run")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run whenever the file changes")
	return cmd
}

func runOnce(cmd *cobra.Command, runner *engine.Runner, path, workflowFlag string) error {
	file, err := loadFile(path)
	if err != nil {
		return err
	}
	name, err := pickWorkflow(file, workflowFlag)
	if err != nil {
		return err
	}

	result, err := runner.Execute(cmd.Context(), engine.NewRunID(), file, name, nil)
	if err != nil {
		return err
	}
	printResult(cmd, result)
	if result.Status == engine.StatusFailed {
		return fmt.Errorf("run %s failed", result.ID)
	}
	return nil
}

// runWatch runs once, then re-runs on every write to the file. Editors often
// replace the file instead of writing in place, so the parent directory is
// watched and events are filtered by name.
func runWatch(cmd *cobra.Command, runner *engine.Runner, logger *zap.Logger, path, workflowFlag string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	runAndReport := func() {
		if err := runOnce(cmd, runner, path, workflowFlag); err != nil {
			logger.Warn("run failed", zap.Error(err))
		}
	}
	runAndReport()
	fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", path)

	var last time.Time
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			// Editors fire bursts of events per save.
			if time.Since(last) < 500*time.Millisecond {
				continue
			}
			last = time.Now()
			runAndReport()
		}
	}
}

func printResult(cmd *cobra.Command, result *engine.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (%s): %s\n", result.ID, result.Workflow, result.Status)

	names := make([]string, 0, len(result.Jobs))
	for name := range result.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		job := result.Jobs[name]
		fmt.Fprintf(out, "  %-20s %-10s %8s", name, job.Status, job.Duration.Round(time.Millisecond))
		if job.Error != "" {
			fmt.Fprintf(out, "  %s", job.Error)
		}
		fmt.Fprintln(out)
	}
}
