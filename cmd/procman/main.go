// Command procman runs external commands and records their output.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/deixis/procman"
	"github.com/deixis/procman/internal/config"
	"github.com/deixis/procman/internal/report"
	"github.com/deixis/procman/internal/runner"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("procman: ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitStatus(err))
}

// exitCode ends the process with the given status without printing anything.
type exitCode int

func (c exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(c))
}

// runError marks a failure raised by a command body rather than by argument
// parsing.
type runError struct{ err error }

func (e runError) Error() string { return e.err.Error() }
func (e runError) Unwrap() error { return e.err }

// exitStatus maps a command error to the process exit status: 1 for failed
// runs, 2 for usage errors.
func exitStatus(err error) int {
	var code exitCode
	var re runError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return int(code)
	case errors.As(err, &re):
		log.Print(re.err)
		return 1
	default:
		log.Print(err)
		log.Print(`run "procman --help" for usage`)
		return 2
	}
}

// runE wraps a command body so its errors are reported as run failures.
func runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		var code exitCode
		if err == nil || errors.As(err, &code) {
			return err
		}
		return runError{err}
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "procman",
		Short: "Run commands and keep a record of their output",
		Long: `procman runs external commands, mirrors their tagged stdout/stderr,
and records every completed run (exit code, duration, output) in a store.

Common POSIX commands (ls, cat, rm, cp, mv, pwd) are translated on Windows.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newRunCmd(),
		newBatchCmd(),
		newHistoryCmd(),
		newMCPCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), procman.Version)
			},
		},
	)
	return root
}

// env holds the dependencies shared by the commands.
type env struct {
	cfg    *config.Config
	runner *runner.Runner
	store  *report.LRUStore
}

// newEnv loads the configuration from the working directory and builds a
// runner whose completed executions are saved to the configured store.
func newEnv(sink runner.Sink) (*env, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	mapper, err := cfg.Mapper()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	store, err := report.Open(cfg)
	if err != nil {
		return nil, err
	}

	r := &runner.Runner{
		Mapper:       mapper,
		Dir:          workspace,
		MaxOutput:    cfg.MaxOutputBytes(),
		HistoryLimit: cfg.HistoryLimit,
		Sink:         sink,
	}
	return &env{cfg: cfg, runner: r, store: store}, nil
}

// record saves every execution completed by the runner.
func (e *env) record() {
	e.runner.Subscribe(report.Recorder(e.store, func(ex *runner.Execution, err error) {
		log.Printf("saving run %s: %v", ex.RunID, err)
	}))
}

func (e *env) Close() error {
	return e.store.Close()
}
