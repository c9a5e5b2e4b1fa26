package runner

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deixis/procman/internal/platform"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return &Runner{
		Mapper:    platform.NewMapper(platform.POSIX),
		Dir:       t.TempDir(),
		MaxOutput: 1 << 20,
		Sink:      DiscardSink{},
	}
}

func outputText(e *Execution, stream Stream) string {
	var parts []string
	for _, l := range e.Output {
		if l.Stream == stream {
			parts = append(parts, l.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestExecute_Success(t *testing.T) {
	r := newTestRunner(t)
	e, err := r.Execute(context.Background(), "echo hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Code() != 0 {
		t.Errorf("ExitCode = %d, want 0", e.Code())
	}
	if e.Status() != StatusSuccess {
		t.Errorf("Status = %s, want success", e.Status())
	}
	if got := outputText(e, Stdout); got != "hello world" {
		t.Errorf("stdout = %q, want %q", got, "hello world")
	}
	if e.Program != "echo" || len(e.Args) != 2 {
		t.Errorf("resolved = %s %q, want echo [hello world]", e.Program, e.Args)
	}
	if e.RunID == "" {
		t.Error("RunID is empty")
	}
	if e.ID != 1 {
		t.Errorf("ID = %d, want 1", e.ID)
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	r := newTestRunner(t)
	e, err := r.Execute(context.Background(), "false")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Code() == 0 {
		t.Error("ExitCode = 0, want non-zero")
	}
	if e.Status() != StatusError {
		t.Errorf("Status = %s, want error", e.Status())
	}
	if len(r.History()) != 1 {
		t.Errorf("len(History) = %d, want 1", len(r.History()))
	}
}

func TestExecute_Stderr(t *testing.T) {
	r := newTestRunner(t)
	e, err := r.Execute(context.Background(), "ls /nonexistent-path-xyz-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Status() != StatusError {
		t.Errorf("Status = %s, want error", e.Status())
	}
	if !strings.Contains(outputText(e, Stderr), "nonexistent-path-xyz-123") {
		t.Errorf("stderr = %q, want to mention the path", outputText(e, Stderr))
	}
}

// writeScript writes an executable shell script into the runner's directory.
// Command lines are split on whitespace, so anything needing a shell
// construct goes through a script file.
func writeScript(t *testing.T, r *Runner, name, body string) string {
	t.Helper()
	path := filepath.Join(r.Dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecute_KilledBySignal(t *testing.T) {
	r := newTestRunner(t)
	script := writeScript(t, r, "selfkill.sh", "kill -9 $$\n")
	e, err := r.Execute(context.Background(), script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Code() != -1 {
		t.Errorf("ExitCode = %d, want -1", e.Code())
	}
	if e.Status() != StatusError {
		t.Errorf("Status = %s, want error", e.Status())
	}
}

func TestExecute_BinaryNotFound(t *testing.T) {
	r := newTestRunner(t)
	if _, err := r.Execute(context.Background(), "true"); err != nil {
		t.Fatal(err)
	}
	before := r.History()

	_, err := r.Execute(context.Background(), "nonexistent-binary-xyz-123 --flag")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if !errors.Is(err, ErrLaunch) {
		t.Errorf("errors.Is(err, ErrLaunch) = false for %v", err)
	}
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("error %T is not a *LaunchError", err)
	}
	if le.Reason != ReasonNotFound {
		t.Errorf("Reason = %q, want %q", le.Reason, ReasonNotFound)
	}
	if !strings.Contains(err.Error(), "nonexistent-binary-xyz-123") {
		t.Errorf("error = %q, want to mention the binary name", err)
	}
	if n := len(le.Execution.Output); n != 1 || le.Execution.Output[0].Stream != Error {
		t.Errorf("Output = %v, want a single error line", le.Execution.Output)
	}
	if got := len(r.History()); got != len(before) {
		t.Errorf("len(History) = %d, want %d", got, len(before))
	}
	if got := r.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestExecute_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can execute files without the execute bit")
	}
	r := newTestRunner(t)
	script := filepath.Join(r.Dir, "noexec.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := r.Execute(context.Background(), script)
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("error = %v, want *LaunchError", err)
	}
	if le.Reason != ReasonPermissionDenied {
		t.Errorf("Reason = %q, want %q", le.Reason, ReasonPermissionDenied)
	}
}

func TestExecute_EmptyCommand(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Execute(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("error = %v, want ErrEmptyCommand", err)
	}
	e, err := r.Execute(context.Background(), "true")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != 1 {
		t.Errorf("ID = %d, want 1 (empty command must not consume an id)", e.ID)
	}
}

func TestExecute_IDsIncrease(t *testing.T) {
	r := newTestRunner(t)
	var last int64
	for i := 0; i < 5; i++ {
		e, err := r.Execute(context.Background(), "true")
		if err != nil {
			t.Fatal(err)
		}
		if e.ID <= last {
			t.Fatalf("ID = %d, want > %d", e.ID, last)
		}
		last = e.ID
	}
	// Launch failures consume an id too.
	_, _ = r.Execute(context.Background(), "nonexistent-binary-xyz-123")
	e, err := r.Execute(context.Background(), "true")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != last+2 {
		t.Errorf("ID = %d, want %d", e.ID, last+2)
	}
}

func TestExecute_Duration(t *testing.T) {
	r := newTestRunner(t)
	e, err := r.Execute(context.Background(), "sleep 0.05")
	if err != nil {
		t.Fatal(err)
	}
	if e.Duration != e.CompletedAt.Sub(e.StartedAt) {
		t.Errorf("Duration = %s, want %s", e.Duration, e.CompletedAt.Sub(e.StartedAt))
	}
	if e.Duration < 50*time.Millisecond {
		t.Errorf("Duration = %s, want >= 50ms", e.Duration)
	}
}

func TestHistory_ReturnsCopy(t *testing.T) {
	r := newTestRunner(t)
	if _, err := r.Execute(context.Background(), "echo one"); err != nil {
		t.Fatal(err)
	}
	h := r.History()
	h[0].Output[0].Text = "mutated"
	h[0].Args[0] = "mutated"
	_ = append(h, Execution{})

	again := r.History()
	if len(again) != 1 {
		t.Fatalf("len(History) = %d, want 1", len(again))
	}
	if again[0].Output[0].Text != "one" || again[0].Args[0] != "one" {
		t.Errorf("History was mutated through a returned copy: %+v", again[0])
	}
}

func TestClearHistory(t *testing.T) {
	r := newTestRunner(t)
	for _, c := range []string{"echo a", "echo b"} {
		if _, err := r.Execute(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	r.ClearHistory()
	if n := len(r.History()); n != 0 {
		t.Fatalf("len(History) = %d after clear, want 0", n)
	}
	if _, err := r.Execute(context.Background(), "echo c"); err != nil {
		t.Fatal(err)
	}
	h := r.History()
	if len(h) != 1 || h[0].CommandLine != "echo c" {
		t.Errorf("History = %+v, want [echo c]", h)
	}
}

func TestClearHistory_KeepsActive(t *testing.T) {
	r := newTestRunner(t)
	p := r.Start("sleep 0.2")
	r.ClearHistory()
	if got := r.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
	if _, err := p.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(r.History()); n != 1 {
		t.Errorf("len(History) = %d, want 1", n)
	}
}

func TestHistoryLimit(t *testing.T) {
	r := newTestRunner(t)
	r.HistoryLimit = 2
	for _, c := range []string{"echo a", "echo b", "echo c"} {
		if _, err := r.Execute(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	h := r.History()
	if len(h) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(h))
	}
	if h[0].CommandLine != "echo b" || h[1].CommandLine != "echo c" {
		t.Errorf("History = [%s, %s], want [echo b, echo c]", h[0].CommandLine, h[1].CommandLine)
	}
}

func TestActiveCount(t *testing.T) {
	r := newTestRunner(t)
	p1 := r.Start("sleep 0.3")
	p2 := r.Start("sleep 0.3")
	if got := r.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	active := r.Active()
	if len(active) != 2 || active[0].ID >= active[1].ID {
		t.Errorf("Active = %+v, want two executions ordered by id", active)
	}
	if active[0].Status() != StatusRunning {
		t.Errorf("Status = %s, want running", active[0].Status())
	}
	for _, p := range []*Pending{p1, p2} {
		if _, err := p.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := r.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestConcurrent_CompletionOrder(t *testing.T) {
	r := newTestRunner(t)

	var mu sync.Mutex
	var order []string
	r.Subscribe(func(e Execution) {
		mu.Lock()
		order = append(order, e.CommandLine)
		mu.Unlock()
	})

	slow := r.Start(writeScript(t, r, "slow.sh", "sleep 0.4\necho slow\n"))
	fast := r.Start("echo fast")

	se, err := slow.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fe, err := fast.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "echo fast" {
		t.Errorf("completion order = %q, want echo fast first", order)
	}
	if got := outputText(fe, Stdout); got != "fast" {
		t.Errorf("fast stdout = %q, want %q", got, "fast")
	}
	if strings.Contains(outputText(se, Stdout), "fast") {
		t.Errorf("slow stdout = %q, contains output of another execution", outputText(se, Stdout))
	}
	h := r.History()
	if len(h) != 2 || h[0].ID != fe.ID || h[1].ID != se.ID {
		t.Errorf("history not in completion order: %d, %d", h[0].ID, h[1].ID)
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	r := newTestRunner(t)
	var calls int
	var got Execution
	unsubscribe := r.Subscribe(func(e Execution) {
		calls++
		got = e
	})
	e, err := r.Execute(context.Background(), "echo hi")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if got.ID != e.ID || got.Code() != e.Code() || len(got.Output) != len(e.Output) {
		t.Errorf("notified %+v, want %+v", got, *e)
	}

	unsubscribe()
	if _, err := r.Execute(context.Background(), "echo hi"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("calls = %d after unsubscribe, want 1", calls)
	}

	// Launch failures are not notified.
	r.Subscribe(func(Execution) { calls++ })
	_, _ = r.Execute(context.Background(), "nonexistent-binary-xyz-123")
	if calls != 1 {
		t.Errorf("calls = %d after launch failure, want 1", calls)
	}
}

func TestWait_ContextDone(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := r.Start("sleep 0.2")
	if _, err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	// The process is not killed.
	<-p.Done()
	if n := len(r.History()); n != 1 {
		t.Errorf("len(History) = %d, want 1", n)
	}
}

func TestOutputTruncation(t *testing.T) {
	r := newTestRunner(t)
	r.MaxOutput = 100

	e, err := r.Execute(context.Background(), "head -c 300 /dev/zero")
	if err != nil {
		t.Fatal(err)
	}
	// NUL bytes are not trimmed, so the 300-byte chunk hits the cap.
	if !e.Truncated {
		t.Error("Truncated = false, want true")
	}
	total := 0
	for _, l := range e.Output {
		total += len(l.Text)
	}
	if total > r.MaxOutput {
		t.Errorf("captured %d bytes, want <= %d", total, r.MaxOutput)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRunner(t)
	r.Sink = LogSink{Logger: log.New(&buf, "", 0)}

	e, err := r.Execute(context.Background(), "echo hello")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = r.Execute(context.Background(), "nonexistent-binary-xyz-123")

	out := buf.String()
	for _, want := range []string{
		"[Process 1] Starting command: echo hello",
		"[Process 1] stdout: hello",
		"[Process 1] Completed with code 0",
		"[Process 2] Failed to start process",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if e.ID != 1 {
		t.Errorf("ID = %d, want 1", e.ID)
	}
}

func TestOutput_TrimsAllTrailingWhitespace(t *testing.T) {
	r := newTestRunner(t)
	// printf interprets the escapes, emitting vertical tab and form feed.
	e, err := r.Execute(context.Background(), `printf x\v\f\n`)
	if err != nil {
		t.Fatal(err)
	}
	if got := outputText(e, Stdout); got != "x" {
		t.Errorf("stdout = %q, want %q", got, "x")
	}
}

func TestConfigure(t *testing.T) {
	r := newTestRunner(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	r.Configure(Settings{
		Mapper:       platform.NewMapper(platform.POSIX),
		Dir:          dir,
		MaxOutput:    4,
		HistoryLimit: 1,
	})

	e, err := r.Execute(context.Background(), "ls")
	if err != nil {
		t.Fatal(err)
	}
	if got := outputText(e, Stdout); got != "mark" {
		t.Errorf("stdout = %q, want %q", got, "mark")
	}
	if !e.Truncated {
		t.Error("Truncated = false, want true")
	}
	if _, err := r.Execute(context.Background(), "true"); err != nil {
		t.Fatal(err)
	}
	if n := len(r.History()); n != 1 {
		t.Errorf("len(History) = %d, want 1", n)
	}
	if got := r.Settings(); got.Dir != dir || got.MaxOutput != 4 || got.HistoryLimit != 1 {
		t.Errorf("Settings = %+v, want the configured values", got)
	}
}

func TestConfigure_ConcurrentWithExecute(t *testing.T) {
	r := newTestRunner(t)
	dirs := []string{t.TempDir(), t.TempDir()}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Configure(Settings{
				Mapper:    platform.NewMapper(platform.POSIX),
				Dir:       dirs[i%2],
				MaxOutput: 1 << 10,
			})
		}()
		go func() {
			defer wg.Done()
			if _, err := r.Execute(context.Background(), "pwd"); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := len(r.History()); n != 8 {
		t.Errorf("len(History) = %d, want 8", n)
	}
}
