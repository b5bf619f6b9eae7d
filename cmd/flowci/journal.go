package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowci/internal/engine"
	"flowci/internal/journal"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the run journal",
	}
	cmd.AddCommand(newJournalListCmd(), newJournalVerifyCmd())
	return cmd
}

func openJournal() (*journal.Journal, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return journal.Open(engine.JournalPath(settings))
}

func newJournalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded job outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jnl, err := openJournal()
			if err != nil {
				return err
			}
			for _, rec := range jnl.Records() {
				fmt.Fprintf(cmd.OutOrStdout(), "%4d  %s  %-10s %-20s %s\n",
					rec.Seq, rec.Time, rec.Status, rec.Job, rec.RunID)
			}
			return nil
		},
	}
}

func newJournalVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute the journal's integrity chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jnl, err := openJournal()
			if err != nil {
				return err
			}
			if err := jnl.Verify(); err != nil {
				return fmt.Errorf("journal verification failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "journal ok (%d record(s))\n", jnl.NextSeq())
			return nil
		},
	}
}
