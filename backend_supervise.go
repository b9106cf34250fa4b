package svcd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/axondata/go-svcd/internal/unix"
)

// Supervise directory layout
const (
	// SuperviseDir is the subdirectory holding the control and status files
	SuperviseDir = "supervise"
	// ControlFile is the control FIFO or socket
	ControlFile = "control"
	// StatusFile is the binary status record
	StatusFile = "status"
)

// Control bytes understood by runsv, supervise and s6-supervise
const (
	ctlUp   = 'u'
	ctlDown = 'd'
	ctlTerm = 't'
)

// Control write retry defaults
const (
	DefaultDialTimeout  = 2 * time.Second
	DefaultWriteTimeout = time.Second
	DefaultBackoffMin   = 10 * time.Millisecond
	DefaultBackoffMax   = time.Second
	DefaultMaxAttempts  = 5
)

// superviseOptions are the job options of runit, daemontools and s6 jobs
type superviseOptions struct {
	// Dir is the scan directory holding one directory per service
	Dir string `yaml:"dir"`
	// Services limits the job to these service directories; empty means all
	// supervised directories below Dir
	Services []string `yaml:"services"`
	// Group turns the services into instances of one service of this name
	Group       string   `yaml:"group"`
	Description string   `yaml:"description"`
	LogFiles    []string `yaml:"logfiles"`
	ConfigFiles []string `yaml:"configfiles"`
	LogLines    int      `yaml:"loglines"`
}

// superviseUnit is one supervised service directory
type superviseUnit struct {
	name string
	dir  string
	logs LogFiles
}

// SuperviseBackend controls services of runit, daemontools or s6 by writing
// control bytes to supervise/control and decoding supervise/status, without
// shelling out to sv, svc or s6-svc.
type SuperviseBackend struct {
	flavor Flavor
	opts   superviseOptions
	log    zerolog.Logger
	conf   ConfigFiles

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	MaxAttempts  int

	units map[ServiceID]*superviseUnit
	order []ServiceID

	outMu  sync.Mutex
	output map[ServiceID][]string

	now func() time.Time
}

func superviseFactory(flavor Flavor) BackendFactory {
	return func(p BackendParams) (Backend, error) {
		b, err := NewSuperviseBackend(flavor, p)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// NewSuperviseBackend builds a supervise backend of the given flavor
func NewSuperviseBackend(flavor Flavor, p BackendParams) (*SuperviseBackend, error) {
	var opts superviseOptions
	if err := p.Config.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if opts.Dir == "" {
		return nil, errors.New("option dir is required")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving dir: %w", err)
	}
	opts.Dir = dir

	conf, err := NewConfigFiles(opts.ConfigFiles...)
	if err != nil {
		return nil, err
	}
	return &SuperviseBackend{
		flavor:       flavor,
		opts:         opts,
		log:          p.Logger,
		conf:         conf,
		DialTimeout:  DefaultDialTimeout,
		WriteTimeout: DefaultWriteTimeout,
		BackoffMin:   DefaultBackoffMin,
		BackoffMax:   DefaultBackoffMax,
		MaxAttempts:  DefaultMaxAttempts,
		output:       make(map[ServiceID][]string),
		now:          time.Now,
	}, nil
}

// CheckFeasibility requires the scan directory to exist
func (b *SuperviseBackend) CheckFeasibility(context.Context) error {
	fi, err := os.Stat(b.opts.Dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", b.opts.Dir)
	}
	return nil
}

// Init discovers the service directories
func (b *SuperviseBackend) Init(context.Context) error {
	names := b.opts.Services
	if len(names) == 0 {
		entries, err := os.ReadDir(b.opts.Dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() && e.Type()&fs.ModeSymlink == 0 {
				continue
			}
			if _, err := os.Stat(filepath.Join(b.opts.Dir, e.Name(), SuperviseDir)); err != nil {
				b.log.Debug().Str("dir", e.Name()).Msg("not supervised, skipping")
				continue
			}
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	b.units = make(map[ServiceID]*superviseUnit, len(names))
	b.order = b.order[:0]
	for _, name := range names {
		unitDir := filepath.Join(b.opts.Dir, name)
		paths := append([]string{filepath.Join(unitDir, "log", "main", "current")}, b.opts.LogFiles...)
		logs := NewLogFiles(paths...)
		if b.opts.LogLines > 0 {
			logs.Lines = b.opts.LogLines
		}
		id := ServiceID{Service: name}
		if b.opts.Group != "" {
			id = ServiceID{Service: b.opts.Group, Instance: name}
		}
		b.units[id] = &superviseUnit{name: name, dir: unitDir, logs: logs}
		b.order = append(b.order, id)
	}
	return nil
}

// Services returns one ServiceID per service directory
func (b *SuperviseBackend) Services() []ServiceID {
	return append([]ServiceID(nil), b.order...)
}

func (b *SuperviseBackend) unit(id ServiceID) (*superviseUnit, error) {
	u, ok := b.units[id]
	if !ok {
		return nil, noSuchService(id)
	}
	return u, nil
}

// ServiceStatus reads and decodes supervise/status
func (b *SuperviseBackend) ServiceStatus(_ context.Context, id ServiceID) (Sample, error) {
	u, err := b.unit(id)
	if err != nil {
		return Sample{}, err
	}
	path := filepath.Join(u.dir, SuperviseDir, StatusFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Sample{State: StateNotAvailable, ExtStatus: "not supervised"}, nil
	}
	if err != nil {
		return Sample{}, fmt.Errorf("reading %s: %w", path, err)
	}
	st, err := decodeSuperviseStatus(b.flavor, data)
	if err != nil {
		return Sample{}, fmt.Errorf("%s: %w", path, err)
	}
	return st.Sample(b.now()), nil
}

// StartService sets the service want up
func (b *SuperviseBackend) StartService(ctx context.Context, id ServiceID) error {
	return b.control(ctx, id, "start", ctlUp)
}

// StopService sets the service want down
func (b *SuperviseBackend) StopService(ctx context.Context, id ServiceID) error {
	return b.control(ctx, id, "stop", ctlDown)
}

// RestartService sets the service want up and terminates it; the supervisor
// starts it again
func (b *SuperviseBackend) RestartService(ctx context.Context, id ServiceID) error {
	return b.control(ctx, id, "restart", ctlUp, ctlTerm)
}

func (b *SuperviseBackend) control(ctx context.Context, id ServiceID, action string, cmds ...byte) error {
	u, err := b.unit(id)
	if err != nil {
		return err
	}
	path := filepath.Join(u.dir, SuperviseDir, ControlFile)
	err = b.send(ctx, path, cmds)

	line := fmt.Sprintf("%s %s: sent %q to %s", b.now().Format(time.RFC3339), action, cmds, path)
	if err != nil {
		line += ": " + err.Error()
	}
	b.outMu.Lock()
	b.output[id] = append(b.output[id], line)
	if n := len(b.output[id]); n > DefaultOutputLines {
		b.output[id] = b.output[id][n-DefaultOutputLines:]
	}
	b.outMu.Unlock()

	if err != nil {
		return &Fault{Msg: fmt.Sprintf("%s %s", action, id), Err: err}
	}
	return nil
}

// send writes control bytes to the control socket or FIFO, retrying with
// exponential backoff while the supervisor is not ready
func (b *SuperviseBackend) send(ctx context.Context, path string, cmds []byte) error {
	var lastErr error
	backoff := b.BackoffMin

	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > b.BackoffMax {
				backoff = b.BackoffMax
			}
		}

		if conn, err := net.DialTimeout("unix", path, b.DialTimeout); err == nil {
			if b.WriteTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(b.WriteTimeout))
			}
			_, err = conn.Write(cmds)
			_ = conn.Close()
			if err == nil {
				return nil
			}
			lastErr = err
			continue
		}

		// a FIFO without a reader fails with ENXIO instead of blocking
		f, err := os.OpenFile(path, os.O_WRONLY|unix.ONonblock, 0)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = f.Write(cmds)
		_ = f.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// ServiceDescription returns the configured description or the directory
func (b *SuperviseBackend) ServiceDescription(id ServiceID) string {
	if b.opts.Description != "" {
		return b.opts.Description
	}
	if u, ok := b.units[id]; ok {
		return u.dir
	}
	return ""
}

// ServiceOutput returns the recent control actions
func (b *SuperviseBackend) ServiceOutput(id ServiceID) []string {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	return append([]string(nil), b.output[id]...)
}

// ServiceLogs returns the tail of log/main/current and the configured logs
func (b *SuperviseBackend) ServiceLogs(_ context.Context, id ServiceID) (map[string]string, error) {
	u, err := b.unit(id)
	if err != nil {
		return nil, err
	}
	return u.logs.Collect(), nil
}

// ReceiveConfig returns the configured files
func (b *SuperviseBackend) ReceiveConfig(context.Context, ServiceID) (map[string]string, error) {
	return b.conf.Receive()
}

// SendConfig overwrites one configured file
func (b *SuperviseBackend) SendConfig(_ context.Context, _ ServiceID, filename, contents string) error {
	return b.conf.Send(filename, contents)
}
