// Package runner launches external commands, captures their streamed output
// and keeps track of in-flight and completed executions.
package runner

import (
	"context"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/deixis/procman/internal/platform"
	"github.com/google/uuid"
)

// chunkSize is the read buffer for each output pipe. One Read is one chunk.
const chunkSize = 32 << 10

// Observer is called synchronously with every completed execution.
type Observer func(Execution)

// Runner executes commands and records their results. The zero value is
// ready to use; construct one per application and share it. The exported
// fields may be set before first use; afterwards change them with Configure.
type Runner struct {
	Mapper       *platform.Mapper // nil resolves for the host platform
	Dir          string           // working directory of launched processes
	MaxOutput    int              // captured bytes per execution; <= 0 is unlimited
	HistoryLimit int              // completed executions kept; <= 0 is unlimited
	Sink         Sink             // nil discards events

	mu        sync.Mutex
	nextID    int64
	active    map[int64]*live
	history   []Execution
	observers []observer
	obsSeq    int
}

type observer struct {
	id int
	fn Observer
}

// live is the mutable record of an in-flight execution.
type live struct {
	mu        sync.Mutex
	exec      Execution
	captured  int
	maxOutput int
}

// Settings are the Runner options that Configure replaces.
type Settings struct {
	Mapper       *platform.Mapper
	Dir          string
	MaxOutput    int
	HistoryLimit int
}

// Pending is an execution that has been started but may not have completed.
type Pending struct {
	done chan struct{}
	exec *Execution
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(e *Execution, err error) {
	p.exec = e
	p.err = err
	close(p.done)
}

// Done is closed once the execution has completed or failed to launch.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the execution completes or ctx is done. Giving up on ctx
// does not stop the process; it still completes and lands in history.
func (p *Pending) Wait(ctx context.Context) (*Execution, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	e := p.exec.clone()
	return &e, nil
}

// Execute runs commandLine and waits for it to terminate. A non-zero exit is
// not an error: check the returned execution's Status. Launch failures are
// returned as *LaunchError.
func (r *Runner) Execute(ctx context.Context, commandLine string) (*Execution, error) {
	return r.Start(commandLine).Wait(ctx)
}

// Start launches commandLine and returns without waiting for it. The
// execution is registered as active before Start returns.
func (r *Runner) Start(commandLine string) *Pending {
	p := newPending()

	l, dir, ok := r.register(commandLine)
	if !ok {
		p.resolve(nil, ErrEmptyCommand)
		return p
	}
	cmd := command(l.exec.Program, l.exec.Args, l.exec.Shell, dir)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.resolve(nil, r.launchFailed(l, err))
		return p
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.resolve(nil, r.launchFailed(l, err))
		return p
	}
	if err := cmd.Start(); err != nil {
		p.resolve(nil, r.launchFailed(l, err))
		return p
	}
	r.sink().Started(l.snapshot())

	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go r.capture(l, Stdout, stdout, &wg)
		go r.capture(l, Stderr, stderr, &wg)
		// All reads must finish before Wait closes the pipes.
		wg.Wait()
		_ = cmd.Wait()

		e := r.finish(l, cmd.ProcessState)
		p.resolve(&e, nil)
	}()
	return p
}

// History returns a copy of all completed executions in completion order.
func (r *Runner) History() []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Execution, len(r.history))
	for i := range r.history {
		out[i] = r.history[i].clone()
	}
	return out
}

// ClearHistory empties the history. In-flight executions are unaffected.
func (r *Runner) ClearHistory() {
	r.mu.Lock()
	r.history = nil
	r.mu.Unlock()
}

// Configure replaces the runner's settings. Executions already started keep
// the settings they were launched with.
func (r *Runner) Configure(s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Mapper = s.Mapper
	r.Dir = s.Dir
	r.MaxOutput = s.MaxOutput
	r.HistoryLimit = s.HistoryLimit
}

// Settings returns the runner's current settings.
func (r *Runner) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Settings{
		Mapper:       r.Mapper,
		Dir:          r.Dir,
		MaxOutput:    r.MaxOutput,
		HistoryLimit: r.HistoryLimit,
	}
}

// ActiveCount returns the number of in-flight executions.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Active returns snapshots of the in-flight executions ordered by ID.
func (r *Runner) Active() []Execution {
	r.mu.Lock()
	lives := make([]*live, 0, len(r.active))
	for _, l := range r.active {
		lives = append(lives, l)
	}
	r.mu.Unlock()

	out := make([]Execution, 0, len(lives))
	for _, l := range lives {
		out = append(out, l.snapshot())
	}
	slices.SortFunc(out, func(a, b Execution) int {
		return int(a.ID - b.ID)
	})
	return out
}

// Subscribe registers fn to be called with every completed execution, in
// registration order. The returned func removes the subscription.
func (r *Runner) Subscribe(fn Observer) (unsubscribe func()) {
	r.mu.Lock()
	r.obsSeq++
	id := r.obsSeq
	r.observers = append(r.observers, observer{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.observers = slices.DeleteFunc(r.observers, func(o observer) bool {
			return o.id == id
		})
	}
}

func (r *Runner) mapper() *platform.Mapper {
	if r.Mapper == nil {
		return platform.NewMapper(platform.Auto)
	}
	return r.Mapper
}

func (r *Runner) sink() Sink {
	if r.Sink == nil {
		return DiscardSink{}
	}
	return r.Sink
}

// command builds the exec.Cmd for a resolved program. Shell built-ins go
// through %COMSPEC% /C since they have no executable of their own.
func command(program string, args []string, shell bool, dir string) *exec.Cmd {
	var cmd *exec.Cmd
	if shell {
		comspec := os.Getenv("COMSPEC")
		if comspec == "" {
			comspec = "cmd.exe"
		}
		cmd = exec.Command(comspec, append([]string{"/C", program}, args...)...)
	} else {
		cmd = exec.Command(program, args...)
	}
	cmd.Dir = dir
	return cmd
}

// register resolves commandLine with the current settings and records it as
// active. It reports false, allocating no id, when the line is blank.
func (r *Runner) register(commandLine string) (*live, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.mapper().Resolve(commandLine)
	if !ok {
		return nil, "", false
	}
	if r.active == nil {
		r.active = make(map[int64]*live)
	}
	r.nextID++
	l := &live{exec: Execution{
		ID:          r.nextID,
		RunID:       uuid.New().String(),
		CommandLine: commandLine,
		Program:     res.Program,
		Args:        slices.Clone(res.Args),
		Shell:       res.Shell,
		Output:      []Line{},
		StartedAt:   time.Now(),
	}, maxOutput: r.MaxOutput}
	r.active[l.exec.ID] = l
	return l, r.Dir, true
}

func (r *Runner) launchFailed(l *live, err error) error {
	line := Line{Stream: Error, Text: "Failed to start process: " + err.Error()}
	l.mu.Lock()
	l.exec.Output = append(l.exec.Output, line)
	snap := l.exec.clone()
	l.mu.Unlock()

	r.mu.Lock()
	delete(r.active, snap.ID)
	r.mu.Unlock()

	r.sink().LaunchFailed(snap, err)
	return &LaunchError{Execution: snap, Reason: classify(err), Err: err}
}

// capture appends every chunk read from rd to l's output until EOF.
func (r *Runner) capture(l *live, stream Stream, rd io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, chunkSize)
	for {
		n, err := rd.Read(buf)
		if n > 0 {
			r.appendChunk(l, stream, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) appendChunk(l *live, stream Stream, chunk []byte) {
	text := strings.TrimRightFunc(string(chunk), unicode.IsSpace)
	if text == "" {
		return
	}

	l.mu.Lock()
	if l.maxOutput > 0 {
		remaining := l.maxOutput - l.captured
		if remaining <= 0 {
			l.exec.Truncated = true
			l.mu.Unlock()
			return
		}
		if len(text) > remaining {
			text = strings.ToValidUTF8(text[:remaining], "")
			l.exec.Truncated = true
		}
	}
	line := Line{Stream: stream, Text: text}
	l.exec.Output = append(l.exec.Output, line)
	l.captured += len(text)
	id := l.exec.ID
	l.mu.Unlock()

	r.sink().Output(id, line)
}

// finish moves l from active to history and notifies observers.
func (r *Runner) finish(l *live, state *os.ProcessState) Execution {
	code := -1
	if state != nil {
		code = state.ExitCode()
	}

	l.mu.Lock()
	now := time.Now()
	l.exec.CompletedAt = now
	l.exec.Duration = now.Sub(l.exec.StartedAt)
	l.exec.ExitCode = &code
	e := l.exec.clone()
	l.mu.Unlock()

	r.mu.Lock()
	delete(r.active, e.ID)
	r.history = append(r.history, e.clone())
	if r.HistoryLimit > 0 && len(r.history) > r.HistoryLimit {
		r.history = slices.Delete(r.history, 0, len(r.history)-r.HistoryLimit)
	}
	observers := slices.Clone(r.observers)
	r.mu.Unlock()

	r.sink().Completed(e)
	for _, o := range observers {
		o.fn(e.clone())
	}
	return e
}

func (l *live) snapshot() Execution {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exec.clone()
}
