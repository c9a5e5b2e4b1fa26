// Package console renders runner events and execution summaries for a
// terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/deixis/procman/internal/runner"
	"golang.org/x/term"
)

// Styles used for each kind of output.
type Styles struct {
	Prefix  lipgloss.Style
	Stdout  lipgloss.Style
	Stderr  lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Failure lipgloss.Style
	Muted   lipgloss.Style
}

// DefaultStyles returns the coloured styles used on terminals.
func DefaultStyles() Styles {
	return Styles{
		Prefix:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Stdout:  lipgloss.NewStyle(),
		Stderr:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		Failure: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		Muted:   lipgloss.NewStyle().Faint(true),
	}
}

// PlainStyles renders text unchanged.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{Prefix: s, Stdout: s, Stderr: s, Error: s, Success: s, Failure: s, Muted: s}
}

// StylesFor picks coloured styles when w is a terminal.
func StylesFor(w io.Writer) Styles {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return DefaultStyles()
	}
	return PlainStyles()
}

// Sink writes runner events to a writer, one line per event.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	styles Styles
}

// NewSink returns a Sink writing to w with styles chosen by StylesFor.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w, styles: StylesFor(w)}
}

// NewSinkWithStyles returns a Sink writing to w with explicit styles.
func NewSinkWithStyles(w io.Writer, styles Styles) *Sink {
	return &Sink{w: w, styles: styles}
}

func (s *Sink) prefix(id int64) string {
	return s.styles.Prefix.Render(fmt.Sprintf("[Process %d]", id))
}

func (s *Sink) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

func (s *Sink) Started(e runner.Execution) {
	s.println(s.prefix(e.ID) + " " + s.styles.Muted.Render("Starting command: "+e.CommandLine))
}

func (s *Sink) Output(id int64, line runner.Line) {
	style := s.styles.Stdout
	switch line.Stream {
	case runner.Stderr:
		style = s.styles.Stderr
	case runner.Error:
		style = s.styles.Error
	}
	// Multi-line chunks keep the prefix on every line.
	for _, l := range strings.Split(line.Text, "\n") {
		s.println(s.prefix(id) + " " + style.Render(string(line.Stream)+": "+strings.TrimRight(l, "\r")))
	}
}

func (s *Sink) Completed(e runner.Execution) {
	status := s.styles.Success.Render(string(e.Status()))
	if e.Status() != runner.StatusSuccess {
		status = s.styles.Failure.Render(string(e.Status()))
	}
	s.println(fmt.Sprintf("%s %s with code %d (%s)", s.prefix(e.ID), status, e.Code(), formatDuration(e.Duration)))
}

func (s *Sink) LaunchFailed(e runner.Execution, err error) {
	s.println(s.prefix(e.ID) + " " + s.styles.Error.Render("Failed to start process: "+err.Error()))
}

var _ runner.Sink = (*Sink)(nil)

// WriteHistory renders executions as a numbered summary, the way the
// command history is printed after a run.
func WriteHistory(w io.Writer, styles Styles, execs []runner.Execution) {
	if len(execs) == 0 {
		fmt.Fprintln(w, styles.Muted.Render("No executions."))
		return
	}
	for i, e := range execs {
		status := styles.Success.Render(string(e.Status()))
		if e.Status() != runner.StatusSuccess {
			status = styles.Failure.Render(string(e.Status()))
		}
		fmt.Fprintf(w, "\n--- Command %d ---\n", i+1)
		fmt.Fprintf(w, "Command: %s\n", e.CommandLine)
		if e.RunID != "" {
			fmt.Fprintf(w, "Run: %s\n", styles.Muted.Render(e.RunID))
		}
		fmt.Fprintf(w, "Status: %s (exit %d)\n", status, e.Code())
		fmt.Fprintf(w, "Duration: %s\n", formatDuration(e.Duration))
		if len(e.Output) > 0 {
			fmt.Fprintln(w, "Output:")
			for _, l := range e.Output {
				for _, text := range strings.Split(l.Text, "\n") {
					fmt.Fprintf(w, "  %s: %s\n", l.Stream, strings.TrimRight(text, "\r"))
				}
			}
		}
		if e.Truncated {
			fmt.Fprintln(w, styles.Muted.Render("  (output truncated)"))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Millisecond).String()
}
