package svcd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// initOptions are the job options of init jobs
type initOptions struct {
	// Scripts are LSB init scripts; the service name is the script's base name
	Scripts     []string      `yaml:"scripts"`
	Description string        `yaml:"description"`
	Sudo        bool          `yaml:"sudo"`
	SudoCommand string        `yaml:"sudo_command"`
	Timeout     time.Duration `yaml:"timeout"`
	LogFiles    []string      `yaml:"logfiles"`
	ConfigFiles []string      `yaml:"configfiles"`
	LogLines    int           `yaml:"loglines"`
}

// InitBackend controls services through LSB init scripts. The state comes
// from the exit code of the script's "status" action.
type InitBackend struct {
	opts    initOptions
	log     zerolog.Logger
	conf    ConfigFiles
	logs    LogFiles
	scripts map[ServiceID]string
	order   []ServiceID
	slots   CommandSlots
}

// NewInitBackend is the BackendFactory of init jobs
func NewInitBackend(p BackendParams) (Backend, error) {
	var opts initOptions
	if err := p.Config.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if len(opts.Scripts) == 0 {
		return nil, errors.New("option scripts is required")
	}
	if opts.SudoCommand == "" {
		opts.SudoCommand = "sudo"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCommandTimeout
	}
	conf, err := NewConfigFiles(opts.ConfigFiles...)
	if err != nil {
		return nil, err
	}

	b := &InitBackend{
		opts:    opts,
		log:     p.Logger,
		conf:    conf,
		logs:    NewLogFiles(opts.LogFiles...),
		scripts: make(map[ServiceID]string, len(opts.Scripts)),
	}
	if opts.LogLines > 0 {
		b.logs.Lines = opts.LogLines
	}
	for _, script := range opts.Scripts {
		id := ServiceID{Service: filepath.Base(script)}
		if _, dup := b.scripts[id]; dup {
			return nil, fmt.Errorf("init script name %q listed twice", id.Service)
		}
		b.scripts[id] = script
		b.order = append(b.order, id)
	}
	return b, nil
}

// CheckFeasibility requires every script to be executable
func (b *InitBackend) CheckFeasibility(context.Context) error {
	for _, id := range b.order {
		script := b.scripts[id]
		fi, err := os.Stat(script)
		if err != nil {
			return err
		}
		if fi.Mode()&0o111 == 0 {
			return fmt.Errorf("%s is not executable", script)
		}
	}
	return nil
}

// Services returns one ServiceID per script
func (b *InitBackend) Services() []ServiceID {
	return append([]ServiceID(nil), b.order...)
}

func (b *InitBackend) script(id ServiceID) (string, error) {
	s, ok := b.scripts[id]
	if !ok {
		return "", noSuchService(id)
	}
	return s, nil
}

func (b *InitBackend) command(script, action string, timeout time.Duration) CommandSpec {
	if b.opts.Sudo {
		return CommandSpec{Path: b.opts.SudoCommand, Args: []string{"-n", script, action}, Timeout: timeout}
	}
	return CommandSpec{Path: script, Args: []string{action}, Timeout: timeout}
}

// ServiceStatus runs the script's status action
func (b *InitBackend) ServiceStatus(ctx context.Context, id ServiceID) (Sample, error) {
	script, err := b.script(id)
	if err != nil {
		return Sample{}, err
	}
	if s, ok := b.slots.Transient(script); ok {
		return s, nil
	}
	out, err := RunCommand(ctx, b.command(script, "status", DefaultStatusTimeout))
	code := 0
	if err != nil {
		var ce *CommandError
		if !errors.As(err, &ce) || ce.ExitCode < 0 {
			return Sample{}, err
		}
		code = ce.ExitCode
	}
	return lsbStatusSample(code, firstLine(out)), nil
}

// lsbStatusSample maps an LSB status exit code onto a sample
func lsbStatusSample(code int, detail string) Sample {
	switch code {
	case 0:
		return Sample{State: StateRunning, ExtStatus: detail}
	case 1, 2:
		return Sample{State: StateDead, ExtStatus: detail}
	case 3:
		return Sample{State: StateNotRunning, ExtStatus: detail}
	default:
		return Sample{State: StateNotAvailable, ExtStatus: fmt.Sprintf("status exit code %d", code)}
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

// StartService runs the start action in the background
func (b *InitBackend) StartService(_ context.Context, id ServiceID) error {
	return b.control(id, "start")
}

// StopService runs the stop action in the background
func (b *InitBackend) StopService(_ context.Context, id ServiceID) error {
	return b.control(id, "stop")
}

// RestartService runs the restart action in the background
func (b *InitBackend) RestartService(_ context.Context, id ServiceID) error {
	return b.control(id, "restart")
}

func (b *InitBackend) control(id ServiceID, action string) error {
	script, err := b.script(id)
	if err != nil {
		return err
	}
	if _, err := b.slots.Start(script, action, b.command(script, action, b.opts.Timeout)); err != nil {
		return err
	}
	b.log.Info().Str("script", script).Str("action", action).Msg("control command started")
	return nil
}

// ServiceDescription returns the configured description or the script path
func (b *InitBackend) ServiceDescription(id ServiceID) string {
	if b.opts.Description != "" {
		return b.opts.Description
	}
	return b.scripts[id]
}

// ServiceOutput returns the output of the last control action
func (b *InitBackend) ServiceOutput(id ServiceID) []string {
	return b.slots.Output(b.scripts[id])
}

// ServiceLogs returns the configured log files
func (b *InitBackend) ServiceLogs(_ context.Context, id ServiceID) (map[string]string, error) {
	if _, err := b.script(id); err != nil {
		return nil, err
	}
	return b.logs.Collect(), nil
}

// ReceiveConfig returns the configured files
func (b *InitBackend) ReceiveConfig(context.Context, ServiceID) (map[string]string, error) {
	return b.conf.Receive()
}

// SendConfig overwrites one configured file
func (b *InitBackend) SendConfig(_ context.Context, _ ServiceID, filename, contents string) error {
	return b.conf.Send(filename, contents)
}
