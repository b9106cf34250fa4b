package svcd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axondata/go-svcd/internal/unix"
)

// CommandSpec describes an external command
type CommandSpec struct {
	// Path is the executable, resolved through PATH if it has no slash
	Path string
	// Args are the arguments, without the executable
	Args []string
	// Env replaces the environment when non-nil
	Env []string
	// Dir is the working directory
	Dir string
	// Timeout is the hard wall-clock limit; zero means DefaultCommandTimeout
	Timeout time.Duration
}

func (s CommandSpec) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultCommandTimeout
	}
	return s.Timeout
}

// CommandResult is the outcome of a finished AsyncCommand
type CommandResult struct {
	Started time.Time
	Stopped time.Time
	// Err is nil on a zero exit status, a *CommandError otherwise
	Err error
}

// AsyncCommand is a child process supervised in the background. Its stdout
// and stderr are merged into a ring holding the most recent lines.
type AsyncCommand struct {
	spec   CommandSpec
	label  string
	cmd    *exec.Cmd
	lines  *lineRing
	done   chan struct{}
	result CommandResult
}

// StartAsync spawns spec and returns immediately. The process is killed
// together with its process group once spec's timeout expires.
func StartAsync(spec CommandSpec, maxLines int) (*AsyncCommand, error) {
	return startCommand(spec, "", maxLines)
}

func startCommand(spec CommandSpec, label string, maxLines int) (*AsyncCommand, error) {
	if maxLines <= 0 {
		maxLines = DefaultOutputLines
	}
	ac := &AsyncCommand{
		spec:  spec,
		label: label,
		lines: newLineRing(maxLines),
		done:  make(chan struct{}),
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &CommandError{Path: spec.Path, Args: spec.Args, ExitCode: -1, Err: err}
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	unix.SetProcessGroup(cmd)
	ac.cmd = cmd

	ac.result.Started = time.Now()
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		ac.result.Stopped = time.Now()
		ac.result.Err = &CommandError{Path: spec.Path, Args: spec.Args, ExitCode: -1, Err: err}
		close(ac.done)
		return nil, ac.result.Err
	}
	// the child holds its own copy now
	_ = pw.Close()

	var timedOut atomic.Bool
	timer := time.AfterFunc(spec.timeout(), func() {
		timedOut.Store(true)
		_ = unix.KillGroup(cmd.Process)
	})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		ac.lines.readFrom(pr)
	}()

	go func() {
		err := cmd.Wait()
		timer.Stop()
		// a daemonized grandchild may keep the pipe open; do not wait for it forever
		select {
		case <-readDone:
		case <-time.After(time.Second):
		}
		_ = pr.Close()

		ac.result.Stopped = time.Now()
		if err != nil || timedOut.Load() {
			ac.result.Err = commandError(spec, err, timedOut.Load())
			ac.lines.Add("[" + ac.result.Err.Error() + "]")
		}
		close(ac.done)
	}()

	return ac, nil
}

func commandError(spec CommandSpec, err error, timedOut bool) *CommandError {
	ce := &CommandError{Path: spec.Path, Args: spec.Args, ExitCode: -1, TimedOut: timedOut, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ce.ExitCode = exitErr.ExitCode()
	}
	if timedOut && err == nil {
		ce.Err = context.DeadlineExceeded
	}
	return ce
}

// Done returns a channel closed once the process has exited
func (ac *AsyncCommand) Done() <-chan struct{} {
	return ac.done
}

// Running reports whether the process is still alive
func (ac *AsyncCommand) Running() bool {
	select {
	case <-ac.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits or ctx is done
func (ac *AsyncCommand) Wait(ctx context.Context) (CommandResult, error) {
	select {
	case <-ac.done:
		return ac.result, nil
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// Result returns the outcome; ok is false while the process still runs
func (ac *AsyncCommand) Result() (res CommandResult, ok bool) {
	if ac.Running() {
		return CommandResult{}, false
	}
	return ac.result, true
}

// Output returns the retained output lines, oldest first
func (ac *AsyncCommand) Output() []string {
	return ac.lines.Lines()
}

// Label returns the label given when the command was started through CommandSlots
func (ac *AsyncCommand) Label() string {
	return ac.label
}

// CommandSlots allows at most one running command per key. Backends key it by
// whatever sub-resource must not see concurrent start/stop invocations.
type CommandSlots struct {
	// MaxLines is the ring size for each command; zero means DefaultOutputLines
	MaxLines int

	mu    sync.Mutex
	slots map[string]*AsyncCommand
}

// Start spawns spec under key. If the previous command for key is still
// running it returns *Busy without spawning anything.
func (s *CommandSlots) Start(key, label string, spec CommandSpec) (*AsyncCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.slots[key]; ok && prev.Running() {
		return nil, &Busy{Msg: key + ": " + prev.label + " already in progress"}
	}
	ac, err := startCommand(spec, label, s.MaxLines)
	if err != nil {
		return nil, err
	}
	if s.slots == nil {
		s.slots = make(map[string]*AsyncCommand)
	}
	s.slots[key] = ac
	return ac, nil
}

// Current returns the last command started for key, if any
func (s *CommandSlots) Current(key string) (*AsyncCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.slots[key]
	return ac, ok
}

// InFlight returns the label of the running command for key
func (s *CommandSlots) InFlight(key string) (label string, running bool) {
	ac, ok := s.Current(key)
	if !ok || !ac.Running() {
		return "", false
	}
	return ac.label, true
}

// Output returns the retained output of the last command for key
func (s *CommandSlots) Output(key string) []string {
	ac, ok := s.Current(key)
	if !ok {
		return nil
	}
	return ac.Output()
}

// Transient returns the Starting or Stopping sample for the command running
// under key, if any. Labels "start" and "restart" count as starting.
func (s *CommandSlots) Transient(key string) (Sample, bool) {
	label, running := s.InFlight(key)
	if !running {
		return Sample{}, false
	}
	switch label {
	case "stop":
		return Sample{State: StateStopping, ExtStatus: "stopping"}, true
	case "start":
		return Sample{State: StateStarting, ExtStatus: "starting"}, true
	case "restart":
		return Sample{State: StateStarting, ExtStatus: "restarting"}, true
	default:
		return Sample{State: StateStarting, ExtStatus: label + " in progress"}, true
	}
}

// RunCommand runs spec synchronously and returns its standard output. A
// non-zero exit status is reported as *CommandError with the captured
// stderr as cause, so callers can inspect ExitCode.
func RunCommand(ctx context.Context, spec CommandSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, spec.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	unix.SetProcessGroup(cmd)
	cmd.Cancel = func() error { return unix.KillGroup(cmd.Process) }
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		ce := commandError(spec, err, errors.Is(ctx.Err(), context.DeadlineExceeded))
		if msg := strings.TrimSpace(stderr.String()); msg != "" && ce.ExitCode > 0 {
			ce.Err = errors.New(msg)
		}
		return stdout.String(), ce
	}
	return stdout.String(), nil
}

// lineRing keeps the most recent lines written to it
type lineRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newLineRing(size int) *lineRing {
	return &lineRing{lines: make([]string, size)}
}

// Add appends one line, evicting the oldest when full
func (r *lineRing) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns a copy of the retained lines, oldest first
func (r *lineRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// readFrom adds every line read from rd until EOF
func (r *lineRing) readFrom(rd io.Reader) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		r.Add(strings.ToValidUTF8(scanner.Text(), "�"))
	}
	// keep the writer from blocking on a full pipe after an over-long line
	_, _ = io.Copy(io.Discard, rd)
}
