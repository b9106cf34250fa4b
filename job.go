package svcd

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Closer is implemented by backends holding resources beyond their pollers,
// such as supervised child processes
type Closer interface {
	Close() error
}

// Job is a configured backend together with its lock, permissions and
// poller. All backend calls go through the job lock.
type Job struct {
	name        string
	jobType     string
	permissions Permissions
	backend     Backend
	log         zerolog.Logger

	mu       sync.Mutex
	poller   *Poller
	services []ServiceID

	stopWatch func() error
}

// JobInfo is a read-only summary of a loaded job
type JobInfo struct {
	Name         string
	Type         string
	Permissions  Permissions
	PollInterval time.Duration
	Services     []ServiceID
}

func newJob(cfg JobConfig, perms Permissions, interval time.Duration, backend Backend, emit func(Event), log zerolog.Logger, opts ...PollerOption) *Job {
	j := &Job{
		name:        cfg.Name,
		jobType:     cfg.Type,
		permissions: perms,
		backend:     backend,
		log:         log,
	}
	j.poller = NewPoller(&j.mu, backend, interval, emit, log, opts...)
	return j
}

// Name returns the job name
func (j *Job) Name() string { return j.name }

// Type returns the job type tag
func (j *Job) Type() string { return j.jobType }

// Permissions returns the job's permission mapping
func (j *Job) Permissions() Permissions { return j.permissions }

// Info returns a summary of the job
func (j *Job) Info() JobInfo {
	return JobInfo{
		Name:         j.name,
		Type:         j.jobType,
		Permissions:  j.permissions,
		PollInterval: j.poller.Interval(),
		Services:     append([]ServiceID(nil), j.services...),
	}
}

// Init runs the backend's initializer and records its services. The poller
// is not running yet.
func (j *Job) Init(ctx context.Context) error {
	return j.locked("init", func() error {
		if in, ok := j.backend.(Initializer); ok {
			if err := in.Init(ctx); err != nil {
				return err
			}
		}
		j.services = append([]ServiceID(nil), j.backend.Services()...)
		return nil
	})
}

// Start launches the poller and the backend's change watch
func (j *Job) Start(ctx context.Context) {
	j.poller.Start(ctx)
	if !j.poller.Running() {
		return
	}
	cn, ok := j.backend.(ChangeNotifier)
	if !ok {
		return
	}
	stop, err := cn.WatchChanges(ctx, j.poller.PollNow)
	if err != nil {
		j.log.Warn().Err(err).Msg("change notifications unavailable, polling only")
		return
	}
	j.stopWatch = stop
}

// Shutdown stops the watch and the poller and closes the backend
func (j *Job) Shutdown() error {
	var errs MultiError
	if j.stopWatch != nil {
		errs.Add(j.stopWatch())
		j.stopWatch = nil
	}
	errs.Add(j.poller.Stop())
	if c, ok := j.backend.(Closer); ok {
		errs.Add(j.locked("close", c.Close))
	}
	return errs.Err()
}

// owns reports whether id belongs to the job
func (j *Job) owns(id ServiceID) bool {
	return hasService(j.services, id)
}

// locked runs fn with the job lock held and turns a panic into *PanicError
func (j *Job) locked(op string, fn func() error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return guard(op, fn)
}

// status returns the cached sample or queries the backend. The lock must be held.
func (j *Job) status(ctx context.Context, id ServiceID) (Sample, error) {
	if s, ok := j.poller.Get(id); ok {
		return s, nil
	}
	return j.backend.ServiceStatus(ctx, id)
}

// instanceInfo assembles one service list entry. The lock must be held.
func (j *Job) instanceInfo(ctx context.Context, id ServiceID) (info InstanceInfo) {
	defer func() {
		if r := recover(); r != nil {
			err := recoveredPanic("status", r)
			info = InstanceInfo{State: StateNotAvailable, ExtStatus: err.Error()}
			j.log.Error().Err(err).Str("service", id.Service).Str("instance", id.Instance).Bytes("stack", err.(*PanicError).Stack).Msg("backend panicked")
		}
	}()

	info.Description = j.backend.ServiceDescription(id)
	s, err := j.status(ctx, id)
	if err != nil {
		info.State = StateNotAvailable
		info.ExtStatus = err.Error()
		return info
	}
	info.State = s.State
	info.ExtStatus = s.ExtStatus
	return info
}
