package main

import (
	"fmt"

	"github.com/deixis/procman/internal/console"
	"github.com/deixis/procman/internal/report"
	"github.com/deixis/procman/internal/runner"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		q        report.Query
		status   string
		clearAll bool
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch q.Status = runner.Status(status); q.Status {
			case "", runner.StatusSuccess, runner.StatusError:
				return nil
			}
			return fmt.Errorf("invalid --status %q (want success or error)", status)
		},
		RunE: runE(func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			e, err := newEnv(runner.DiscardSink{})
			if err != nil {
				return err
			}
			defer e.Close()

			if clearAll {
				if err := e.store.Clear(); err != nil {
					return fmt.Errorf("clearing history: %w", err)
				}
				fmt.Fprintln(out, "History cleared.")
				return nil
			}

			execs, err := e.store.List(q)
			if err != nil {
				return err
			}
			if jsonOut {
				if execs == nil {
					execs = []runner.Execution{}
				}
				return writeJSON(out, execs)
			}
			console.WriteHistory(out, console.StylesFor(out), execs)
			return nil
		}),
	}
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "maximum number of runs to list (0 for all)")
	cmd.Flags().StringVar(&status, "status", "", "only list runs with this status (success or error)")
	cmd.Flags().StringVar(&q.Search, "search", "", "only list runs whose command line contains this text")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "delete all recorded runs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print runs as JSON")
	return cmd
}
