package svcd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// systemdProperties are the unit properties queried by status calls
var systemdProperties = []string{"Id", "LoadState", "ActiveState", "SubState", "MainPID", "Result"}

// systemdOptions are the job options of systemd jobs
type systemdOptions struct {
	// Units are unit names, with or without the .service suffix
	Units       []string `yaml:"units"`
	Description string   `yaml:"description"`
	// Sudo runs systemctl through "sudo -n"
	Sudo        bool          `yaml:"sudo"`
	SudoCommand string        `yaml:"sudo_command"`
	Systemctl   string        `yaml:"systemctl"`
	Journalctl  string        `yaml:"journalctl"`
	Timeout     time.Duration `yaml:"timeout"`
	LogFiles    []string      `yaml:"logfiles"`
	ConfigFiles []string      `yaml:"configfiles"`
	LogLines    int           `yaml:"loglines"`
}

// SystemdBackend controls systemd service units through systemctl. Control
// commands run asynchronously; while one runs the unit reports Starting or
// Stopping and further control requests are rejected as Busy.
type SystemdBackend struct {
	opts  systemdOptions
	log   zerolog.Logger
	conf  ConfigFiles
	logs  LogFiles
	units map[ServiceID]string
	order []ServiceID
	slots CommandSlots
}

// NewSystemdBackend is the BackendFactory of systemd jobs
func NewSystemdBackend(p BackendParams) (Backend, error) {
	var opts systemdOptions
	if err := p.Config.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if len(opts.Units) == 0 {
		return nil, errors.New("option units is required")
	}
	if opts.Systemctl == "" {
		opts.Systemctl = "systemctl"
	}
	if opts.Journalctl == "" {
		opts.Journalctl = "journalctl"
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
	b := &SystemdBackend{
		opts:  opts,
		log:   p.Logger,
		conf:  conf,
		logs:  NewLogFiles(opts.LogFiles...),
		units: make(map[ServiceID]string, len(opts.Units)),
	}
	if opts.LogLines > 0 {
		b.logs.Lines = opts.LogLines
	}
	for _, u := range opts.Units {
		name := strings.TrimSuffix(u, ".service")
		id := ServiceID{Service: name}
		if _, dup := b.units[id]; dup {
			return nil, fmt.Errorf("unit %q listed twice", u)
		}
		b.units[id] = name + ".service"
		b.order = append(b.order, id)
	}
	return b, nil
}

// CheckFeasibility requires systemctl and a running systemd
func (b *SystemdBackend) CheckFeasibility(context.Context) error {
	if _, err := exec.LookPath(b.opts.Systemctl); err != nil {
		return err
	}
	if _, err := os.Stat("/run/systemd/system"); err != nil {
		return errors.New("systemd is not running")
	}
	return nil
}

// Services returns one ServiceID per unit
func (b *SystemdBackend) Services() []ServiceID {
	return append([]ServiceID(nil), b.order...)
}

func (b *SystemdBackend) unit(id ServiceID) (string, error) {
	u, ok := b.units[id]
	if !ok {
		return "", noSuchService(id)
	}
	return u, nil
}

// systemctl returns the command spec for a systemctl invocation
func (b *SystemdBackend) systemctl(args ...string) CommandSpec {
	spec := CommandSpec{Path: b.opts.Systemctl, Args: args, Timeout: b.opts.Timeout}
	if b.opts.Sudo {
		spec.Path = b.opts.SudoCommand
		spec.Args = append([]string{"-n", b.opts.Systemctl}, args...)
	}
	return spec
}

// ServiceStatus queries one unit
func (b *SystemdBackend) ServiceStatus(ctx context.Context, id ServiceID) (Sample, error) {
	unit, err := b.unit(id)
	if err != nil {
		return Sample{}, err
	}
	if s, ok := b.slots.Transient(unit); ok {
		return s, nil
	}
	props, err := b.show(ctx, unit)
	if err != nil {
		return Sample{}, err
	}
	p, ok := props[unit]
	if !ok {
		return Sample{State: StateNotAvailable, ExtStatus: "no status reported"}, nil
	}
	return p.Sample(), nil
}

// AllServiceStatus queries all units with one systemctl call
func (b *SystemdBackend) AllServiceStatus(ctx context.Context) (map[ServiceID]Sample, error) {
	units := make([]string, 0, len(b.order))
	for _, id := range b.order {
		units = append(units, b.units[id])
	}
	props, err := b.show(ctx, units...)
	if err != nil {
		return nil, err
	}

	out := make(map[ServiceID]Sample, len(b.order))
	for _, id := range b.order {
		unit := b.units[id]
		if s, ok := b.slots.Transient(unit); ok {
			out[id] = s
			continue
		}
		if p, ok := props[unit]; ok {
			out[id] = p.Sample()
		} else {
			out[id] = Sample{State: StateNotAvailable, ExtStatus: "no status reported"}
		}
	}
	return out, nil
}

func (b *SystemdBackend) show(ctx context.Context, units ...string) (map[string]unitProperties, error) {
	args := []string{"show", "--no-pager", "--property=" + strings.Join(systemdProperties, ",")}
	spec := b.systemctl(append(args, units...)...)
	spec.Timeout = DefaultStatusTimeout
	out, err := RunCommand(ctx, spec)
	if err != nil {
		return nil, err
	}
	return parseSystemctlShow(out), nil
}

// unitProperties is one block of "systemctl show" output
type unitProperties map[string]string

// parseSystemctlShow splits "systemctl show" output into blocks keyed by
// the Id property. Blocks are separated by empty lines.
func parseSystemctlShow(out string) map[string]unitProperties {
	result := make(map[string]unitProperties)
	cur := unitProperties{}
	flush := func() {
		if id := cur["Id"]; id != "" {
			result[id] = cur
		}
		cur = unitProperties{}
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if ok {
			cur[key] = value
		}
	}
	flush()
	return result
}

// Sample maps unit properties onto a service state
func (p unitProperties) Sample() Sample {
	if p["LoadState"] == "not-found" {
		return Sample{State: StateNotAvailable, ExtStatus: "unit not found"}
	}
	pid, _ := strconv.Atoi(p["MainPID"])
	switch p["ActiveState"] {
	case "active", "reloading":
		if pid > 0 {
			return Sample{State: StateRunning, ExtStatus: fmt.Sprintf("pid %d", pid)}
		}
		return Sample{State: StateRunning, ExtStatus: p["SubState"]}
	case "activating":
		return Sample{State: StateStarting, ExtStatus: p["SubState"]}
	case "deactivating":
		return Sample{State: StateStopping, ExtStatus: p["SubState"]}
	case "inactive":
		return Sample{State: StateNotRunning}
	case "failed":
		return Sample{State: StateDead, ExtStatus: p["Result"]}
	default:
		return Sample{State: StateNotAvailable, ExtStatus: p["ActiveState"] + "/" + p["SubState"]}
	}
}

// StartService runs "systemctl start" in the background
func (b *SystemdBackend) StartService(_ context.Context, id ServiceID) error {
	return b.control(id, "start")
}

// StopService runs "systemctl stop" in the background
func (b *SystemdBackend) StopService(_ context.Context, id ServiceID) error {
	return b.control(id, "stop")
}

// RestartService runs "systemctl restart" in the background
func (b *SystemdBackend) RestartService(_ context.Context, id ServiceID) error {
	return b.control(id, "restart")
}

func (b *SystemdBackend) control(id ServiceID, action string) error {
	unit, err := b.unit(id)
	if err != nil {
		return err
	}
	if _, err := b.slots.Start(unit, action, b.systemctl(action, unit)); err != nil {
		return err
	}
	b.log.Info().Str("unit", unit).Str("action", action).Msg("control command started")
	return nil
}

// ServiceDescription returns the configured description or the unit name
func (b *SystemdBackend) ServiceDescription(id ServiceID) string {
	if b.opts.Description != "" {
		return b.opts.Description
	}
	return b.units[id]
}

// ServiceOutput returns the output of the last systemctl control command
func (b *SystemdBackend) ServiceOutput(id ServiceID) []string {
	return b.slots.Output(b.units[id])
}

// ServiceLogs returns the unit's journal and the configured log files
func (b *SystemdBackend) ServiceLogs(ctx context.Context, id ServiceID) (map[string]string, error) {
	unit, err := b.unit(id)
	if err != nil {
		return nil, err
	}
	files := b.logs.Collect()

	args := []string{"--no-pager", "--quiet", "-o", "short-iso", "-n", strconv.Itoa(b.logs.Lines), "-u", unit}
	spec := CommandSpec{Path: b.opts.Journalctl, Args: args, Timeout: DefaultStatusTimeout}
	if b.opts.Sudo {
		spec = CommandSpec{Path: b.opts.SudoCommand, Args: append([]string{"-n", b.opts.Journalctl}, args...), Timeout: DefaultStatusTimeout}
	}
	out, err := RunCommand(ctx, spec)
	if err != nil {
		out = fmt.Sprintf("could not read journal: %v", err)
	}
	files["journal:"+unit] = strings.TrimRight(out, "\n")
	return files, nil
}

// ReceiveConfig returns the configured files
func (b *SystemdBackend) ReceiveConfig(context.Context, ServiceID) (map[string]string, error) {
	return b.conf.Receive()
}

// SendConfig overwrites one configured file
func (b *SystemdBackend) SendConfig(_ context.Context, _ ServiceID, filename, contents string) error {
	return b.conf.Send(filename, contents)
}
