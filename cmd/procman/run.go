package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/deixis/procman/internal/batch"
	"github.com/deixis/procman/internal/console"
	"github.com/deixis/procman/internal/runner"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "run <command line...>",
		Short: "Run one command line and record it",
		Long: `Run joins its arguments into one command line, runs it and waits for it to exit.
The line is split on whitespace; quotes and shell syntax are not interpreted.

Exits 1 if the command exits non-zero or cannot be started.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runE(func(cmd *cobra.Command, args []string) error {
			var sink runner.Sink = runner.DiscardSink{}
			if !jsonOut {
				sink = console.NewSink(cmd.OutOrStdout())
			}
			e, err := newEnv(sink)
			if err != nil {
				return err
			}
			defer e.Close()
			e.record()

			exec, err := e.runner.Execute(cmd.Context(), strings.Join(args, " "))
			var le *runner.LaunchError
			switch {
			case errors.As(err, &le):
				if jsonOut {
					if err := writeJSON(cmd.OutOrStdout(), le.Execution); err != nil {
						return err
					}
				}
				return exitCode(1)
			case err != nil:
				return err
			}

			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), exec); err != nil {
					return err
				}
			}
			if exec.Status() != runner.StatusSuccess {
				return exitCode(1)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the execution record as JSON instead of streaming output")
	// Flags after the command name belong to the command.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newBatchCmd() *cobra.Command {
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "batch [command line...]",
		Short: "Run the configured batch steps in order",
		Long: `Batch runs the command lines listed under batch.steps in .procman, or the
arguments when given (one command line per argument), then prints the history.

Exits 1 if any step fails.`,
		RunE: runE(func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			e, err := newEnv(console.NewSink(out))
			if err != nil {
				return err
			}
			defer e.Close()
			e.record()

			steps := args
			if len(steps) == 0 {
				steps = e.cfg.Batch.Steps
			}
			if len(steps) == 0 {
				return fmt.Errorf("no batch steps: pass command lines or set batch.steps in .procman")
			}

			eng := &batch.Engine{
				Executor:  e.runner,
				KeepGoing: keepGoing || e.cfg.Batch.KeepGoing,
			}
			res, err := eng.Run(cmd.Context(), steps)
			if err != nil {
				return err
			}

			styles := console.StylesFor(out)
			console.WriteHistory(out, styles, e.runner.History())
			fmt.Fprintln(out)
			for _, s := range res.Steps {
				fmt.Fprintf(out, "  %-30s %s\n", s.Name, stepStatus(styles, s))
			}
			if !res.Passed() {
				return exitCode(1)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "run remaining steps after a failure")
	return cmd
}

func stepStatus(styles console.Styles, s batch.StepResult) string {
	switch s.Status {
	case batch.StatusPass:
		return styles.Success.Render("ok")
	case batch.StatusSkipped:
		return styles.Muted.Render("-")
	default:
		return styles.Failure.Render(s.Status) + " " + s.Detail
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

