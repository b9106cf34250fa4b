package svcd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/axondata/go-svcd/internal/unix"
)

// DefaultStopTimeout is how long a process job waits after SIGTERM before
// killing the process group
const DefaultStopTimeout = 10 * time.Second

// processService is one entry of the services option of process jobs
type processService struct {
	Name        string            `yaml:"name"`
	Instance    string            `yaml:"instance"`
	Command     []string          `yaml:"command"`
	Dir         string            `yaml:"dir"`
	Env         map[string]string `yaml:"env"`
	Description string            `yaml:"description"`
	StopTimeout time.Duration     `yaml:"stop_timeout"`
	// Autostart starts the process when the job is initialized
	Autostart bool `yaml:"autostart"`
}

// processOptions are the job options of process jobs
type processOptions struct {
	Services    []processService `yaml:"services"`
	LogFiles    []string         `yaml:"logfiles"`
	ConfigFiles []string         `yaml:"configfiles"`
	LogLines    int              `yaml:"loglines"`
	OutputLines int              `yaml:"output_lines"`
}

// child is one running incarnation of a process service
type child struct {
	cmd      *exec.Cmd
	proc     *process.Process
	started  time.Time
	done     chan struct{}
	err      error
	stopping bool
}

// processUnit is the mutable state of one process service
type processUnit struct {
	svc   processService
	lines *lineRing
	cur   *child
}

// ProcessBackend runs each service as a direct child process in its own
// process group. Stopping sends SIGTERM to the group and SIGKILL after the
// stop timeout.
type ProcessBackend struct {
	opts  processOptions
	log   zerolog.Logger
	conf  ConfigFiles
	logs  LogFiles
	order []ServiceID

	mu    sync.Mutex
	units map[ServiceID]*processUnit
	wg    sync.WaitGroup
}

// NewProcessBackend is the BackendFactory of process jobs
func NewProcessBackend(p BackendParams) (Backend, error) {
	var opts processOptions
	if err := p.Config.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if len(opts.Services) == 0 {
		return nil, errors.New("option services is required")
	}
	if opts.OutputLines <= 0 {
		opts.OutputLines = DefaultOutputLines
	}
	conf, err := NewConfigFiles(opts.ConfigFiles...)
	if err != nil {
		return nil, err
	}

	b := &ProcessBackend{
		opts:  opts,
		log:   p.Logger,
		conf:  conf,
		logs:  NewLogFiles(opts.LogFiles...),
		units: make(map[ServiceID]*processUnit, len(opts.Services)),
	}
	if opts.LogLines > 0 {
		b.logs.Lines = opts.LogLines
	}
	for _, svc := range opts.Services {
		if svc.Name == "" || len(svc.Command) == 0 {
			return nil, errors.New("every process service needs a name and a command")
		}
		if svc.StopTimeout <= 0 {
			svc.StopTimeout = DefaultStopTimeout
		}
		id := ServiceID{Service: svc.Name, Instance: svc.Instance}
		if _, dup := b.units[id]; dup {
			return nil, fmt.Errorf("process service %s listed twice", id)
		}
		b.units[id] = &processUnit{svc: svc, lines: newLineRing(opts.OutputLines)}
		b.order = append(b.order, id)
	}
	return b, nil
}

// CheckFeasibility requires every command to resolve
func (b *ProcessBackend) CheckFeasibility(context.Context) error {
	for _, id := range b.order {
		if _, err := exec.LookPath(b.units[id].svc.Command[0]); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	return nil
}

// Init starts the autostart services
func (b *ProcessBackend) Init(ctx context.Context) error {
	var errs MultiError
	for _, id := range b.order {
		if b.units[id].svc.Autostart {
			if err := b.StartService(ctx, id); err != nil {
				errs.Add(fmt.Errorf("autostart %s: %w", id, err))
			}
		}
	}
	return errs.Err()
}

// Services returns the configured services
func (b *ProcessBackend) Services() []ServiceID {
	return append([]ServiceID(nil), b.order...)
}

func (b *ProcessBackend) unit(id ServiceID) (*processUnit, error) {
	u, ok := b.units[id]
	if !ok {
		return nil, noSuchService(id)
	}
	return u, nil
}

// ServiceStatus reports the child's state, with pid and resident memory
func (b *ProcessBackend) ServiceStatus(ctx context.Context, id ServiceID) (Sample, error) {
	u, err := b.unit(id)
	if err != nil {
		return Sample{}, err
	}
	b.mu.Lock()
	c := u.cur
	stopping := c != nil && c.stopping
	b.mu.Unlock()
	if c == nil {
		return Sample{State: StateNotRunning}, nil
	}

	select {
	case <-c.done:
		if c.err != nil && !stopping {
			return Sample{State: StateDead, ExtStatus: c.err.Error()}, nil
		}
		return Sample{State: StateNotRunning}, nil
	default:
	}

	if stopping {
		return Sample{State: StateStopping, ExtStatus: fmt.Sprintf("pid %d", c.cmd.Process.Pid)}, nil
	}
	if c.proc == nil {
		return Sample{State: StateRunning, ExtStatus: fmt.Sprintf("pid %d", c.cmd.Process.Pid)}, nil
	}
	if st, err := c.proc.StatusWithContext(ctx); err == nil && len(st) > 0 && st[0] == process.Zombie {
		return Sample{State: StateWarning, ExtStatus: fmt.Sprintf("pid %d, zombie", c.cmd.Process.Pid)}, nil
	}
	ext := fmt.Sprintf("pid %d", c.cmd.Process.Pid)
	if mem, err := c.proc.MemoryInfoWithContext(ctx); err == nil {
		ext += fmt.Sprintf(", rss %d MiB", mem.RSS>>20)
	}
	return Sample{State: StateRunning, ExtStatus: ext}, nil
}

// StartService spawns the service's command
func (b *ProcessBackend) StartService(_ context.Context, id ServiceID) error {
	u, err := b.unit(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.cur != nil && u.cur.alive() {
		if u.cur.stopping {
			return &Busy{Msg: id.String() + ": stop in progress"}
		}
		return Faultf("%s is already running", id)
	}
	return b.spawn(id, u)
}

// spawn starts u's command; b.mu is held
func (b *ProcessBackend) spawn(id ServiceID, u *processUnit) error {
	cmd := exec.Command(u.svc.Command[0], u.svc.Command[1:]...)
	cmd.Dir = u.svc.Dir
	if len(u.svc.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range u.svc.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	unix.SetProcessGroup(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		u.lines.Add(fmt.Sprintf("[start failed: %v]", err))
		return &Fault{Msg: "start " + id.String(), Err: err}
	}
	_ = pw.Close()

	c := &child{cmd: cmd, started: time.Now(), done: make(chan struct{})}
	if p, err := process.NewProcess(int32(cmd.Process.Pid)); err == nil {
		c.proc = p
	}
	u.cur = c
	u.lines.Add(fmt.Sprintf("[started pid %d]", cmd.Process.Pid))
	b.log.Info().Str("service", id.String()).Int("pid", cmd.Process.Pid).Msg("process started")

	b.wg.Add(2)
	readDone := make(chan struct{})
	go func() {
		defer b.wg.Done()
		defer close(readDone)
		u.lines.readFrom(pr)
	}()
	go func() {
		defer b.wg.Done()
		err := cmd.Wait()
		select {
		case <-readDone:
		case <-time.After(time.Second):
		}
		_ = pr.Close()

		b.mu.Lock()
		c.err = err
		stopping := c.stopping
		b.mu.Unlock()
		close(c.done)

		ev := b.log.Info()
		if err != nil && !stopping {
			ev = b.log.Warn().Err(err)
		}
		ev.Str("service", id.String()).Int("pid", cmd.Process.Pid).Msg("process exited")
		if err != nil {
			u.lines.Add(fmt.Sprintf("[exited: %v]", err))
		} else {
			u.lines.Add("[exited]")
		}
	}()
	return nil
}

func (c *child) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// StopService terminates the process group and returns without waiting
// for the exit
func (b *ProcessBackend) StopService(_ context.Context, id ServiceID) error {
	u, err := b.unit(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := u.cur
	if c == nil || !c.alive() {
		return Faultf("%s is not running", id)
	}
	if c.stopping {
		return &Busy{Msg: id.String() + ": stop in progress"}
	}
	b.terminate(c, u.svc.StopTimeout)
	return nil
}

// terminate sends SIGTERM and arms the SIGKILL; b.mu is held
func (b *ProcessBackend) terminate(c *child, grace time.Duration) {
	c.stopping = true
	_ = unix.TerminateGroup(c.cmd.Process)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-c.done:
		case <-time.After(grace):
			b.log.Warn().Int("pid", c.cmd.Process.Pid).Msg("process ignored SIGTERM, killing")
			_ = unix.KillGroup(c.cmd.Process)
		}
	}()
}

// RestartService stops the process if it runs and starts it again once it
// has exited
func (b *ProcessBackend) RestartService(ctx context.Context, id ServiceID) error {
	u, err := b.unit(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	c := u.cur
	if c == nil || !c.alive() {
		defer b.mu.Unlock()
		return b.spawn(id, u)
	}
	if c.stopping {
		b.mu.Unlock()
		return &Busy{Msg: id.String() + ": stop in progress"}
	}
	b.terminate(c, u.svc.StopTimeout)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-c.done
		b.mu.Lock()
		defer b.mu.Unlock()
		if u.cur != c {
			return
		}
		if err := b.spawn(id, u); err != nil {
			b.log.Error().Err(err).Str("service", id.String()).Msg("restart failed")
		}
	}()
	return nil
}

// ServiceDescription returns the configured description or the command line
func (b *ProcessBackend) ServiceDescription(id ServiceID) string {
	u, ok := b.units[id]
	if !ok {
		return ""
	}
	if u.svc.Description != "" {
		return u.svc.Description
	}
	return fmt.Sprint(u.svc.Command)
}

// ServiceOutput returns the recent output of the process
func (b *ProcessBackend) ServiceOutput(id ServiceID) []string {
	u, ok := b.units[id]
	if !ok {
		return nil
	}
	return u.lines.Lines()
}

// ServiceLogs returns the configured log files
func (b *ProcessBackend) ServiceLogs(_ context.Context, id ServiceID) (map[string]string, error) {
	if _, err := b.unit(id); err != nil {
		return nil, err
	}
	return b.logs.Collect(), nil
}

// ReceiveConfig returns the configured files
func (b *ProcessBackend) ReceiveConfig(context.Context, ServiceID) (map[string]string, error) {
	return b.conf.Receive()
}

// SendConfig overwrites one configured file
func (b *ProcessBackend) SendConfig(_ context.Context, _ ServiceID, filename, contents string) error {
	return b.conf.Send(filename, contents)
}

// Close stops every running process and waits for them to exit
func (b *ProcessBackend) Close() error {
	b.mu.Lock()
	for _, id := range b.order {
		u := b.units[id]
		// a pending restart must not respawn
		c := u.cur
		u.cur = nil
		if c != nil && c.alive() && !c.stopping {
			b.terminate(c, u.svc.StopTimeout)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
