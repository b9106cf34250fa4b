package svcd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// JobSource returns the job configurations to load. It is called at start
// and on every reload.
type JobSource func() ([]JobConfig, error)

// StaticJobs returns a JobSource that always yields jobs
func StaticJobs(jobs ...JobConfig) JobSource {
	return func() ([]JobConfig, error) { return jobs, nil }
}

// HandlerOption customizes a Handler
type HandlerOption func(*Handler)

// WithRegistry replaces DefaultRegistry
func WithRegistry(r *Registry) HandlerOption {
	return func(h *Handler) { h.registry = r }
}

// WithScanner enables ScanNetwork
func WithScanner(s Scanner) HandlerOption {
	return func(h *Handler) { h.scanner = s }
}

// WithAuthenticator enables Authenticate
func WithAuthenticator(a Authenticator) HandlerOption {
	return func(h *Handler) { h.auth = a }
}

// WithInstanceID sets the daemon instance id reported by discovery
func WithInstanceID(id uuid.UUID) HandlerOption {
	return func(h *Handler) { h.uid = id }
}

// WithPollerOptions applies opts to the poller of every job
func WithPollerOptions(opts ...PollerOption) HandlerOption {
	return func(h *Handler) { h.pollerOpts = append(h.pollerOpts, opts...) }
}

// Handler owns the jobs of a daemon. It maps service names to jobs, checks
// permissions, serializes operations per job and fans events out to the
// registered interfaces.
type Handler struct {
	log        zerolog.Logger
	source     JobSource
	registry   *Registry
	scanner    Scanner
	auth       Authenticator
	uid        uuid.UUID
	pollerOpts []PollerOption

	// reloadMu serializes Start, Reload and Shutdown
	reloadMu sync.Mutex
	baseCtx  context.Context

	mu       sync.RWMutex
	jobs     []*Job
	services map[string]*Job

	ifMu       sync.RWMutex
	interfaces []Interface
}

// NewHandler returns a handler without jobs; call Start to load them
func NewHandler(source JobSource, log zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		log:      log,
		source:   source,
		registry: DefaultRegistry(),
		uid:      uuid.New(),
		baseCtx:  context.Background(),
		services: make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// InstanceID identifies this daemon instance on the network
func (h *Handler) InstanceID() uuid.UUID {
	return h.uid
}

// AddInterface registers i for all future events
func (h *Handler) AddInterface(i Interface) {
	h.ifMu.Lock()
	defer h.ifMu.Unlock()
	h.interfaces = append(h.interfaces, i)
}

func (h *Handler) emit(ev Event) {
	h.ifMu.RLock()
	defer h.ifMu.RUnlock()
	for _, i := range h.interfaces {
		i.EmitEvent(ev)
	}
}

// Start loads the configured jobs. Pollers and change watches live until
// Shutdown or until ctx is done.
func (h *Handler) Start(ctx context.Context) error {
	h.reloadMu.Lock()
	h.baseCtx = ctx
	h.reloadMu.Unlock()
	return h.reload(false)
}

// Reload shuts down every job, loads the configuration again and sends the
// full service list to all interfaces. When the job source fails, the
// current jobs stay in place.
func (h *Handler) Reload() error {
	return h.reload(true)
}

func (h *Handler) reload(broadcast bool) error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	ctx := h.baseCtx

	cfgs, err := h.source()
	if err != nil {
		err = &ConfigError{Err: err}
		h.log.Error().Err(err).Msg("reading job configuration failed, keeping current jobs")
		return err
	}

	h.mu.Lock()
	old := h.jobs
	h.jobs = nil
	h.services = make(map[string]*Job)
	h.mu.Unlock()

	if err := shutdownJobs(old); err != nil {
		h.log.Warn().Err(err).Msg("shutting down previous jobs")
	}

	jobs, services := h.buildJobs(ctx, cfgs)

	h.mu.Lock()
	h.jobs = jobs
	h.services = services
	h.mu.Unlock()

	for _, j := range jobs {
		j.Start(ctx)
	}
	h.log.Info().Int("jobs", len(jobs)).Int("services", len(services)).Msg("jobs loaded")

	if broadcast {
		h.emit(h.serviceList(ctx, NewClientInfo(LevelAdmin)))
	}
	return nil
}

// buildJobs loads every job it can. Failing jobs are logged and skipped.
func (h *Handler) buildJobs(ctx context.Context, cfgs []JobConfig) ([]*Job, map[string]*Job) {
	var jobs []*Job
	services := make(map[string]*Job)
	names := make(map[string]bool)

	for _, cfg := range cfgs {
		log := h.log.With().Str("job", cfg.Name).Str("type", cfg.Type).Logger()
		if cfg.Type == "" {
			log.Info().Msg("job has no type, skipping")
			continue
		}
		j, err := h.buildJob(ctx, cfg, log, names, services)
		if err != nil {
			log.Error().Err(err).Msg("job not loaded")
			continue
		}
		names[j.name] = true
		for _, id := range j.services {
			services[id.Service] = j
		}
		jobs = append(jobs, j)
	}
	return jobs, services
}

func (h *Handler) buildJob(ctx context.Context, cfg JobConfig, log zerolog.Logger, names map[string]bool, services map[string]*Job) (*Job, error) {
	switch {
	case cfg.Name == "":
		return nil, &ConfigError{Err: errors.New("job without name")}
	case names[cfg.Name]:
		return nil, &ConfigError{Job: cfg.Name, Err: errors.New("duplicate job name")}
	}
	perms, err := cfg.ParsedPermissions()
	if err != nil {
		return nil, &ConfigError{Job: cfg.Name, Err: err}
	}
	interval, err := cfg.Interval()
	if err != nil {
		return nil, &ConfigError{Job: cfg.Name, Err: err}
	}

	var backend Backend
	err = guard("create", func() (err error) {
		backend, err = h.registry.New(BackendParams{Name: cfg.Name, Config: cfg, Logger: log})
		return err
	})
	if err != nil {
		return nil, err
	}
	if fc, ok := backend.(FeasibilityChecker); ok {
		if err := guard("feasibility", func() error { return fc.CheckFeasibility(ctx) }); err != nil {
			closeBackend(backend)
			return nil, fmt.Errorf("not feasible on this host: %w", err)
		}
	}

	j := newJob(cfg, perms, interval, backend, h.emit, log, h.pollerOpts...)
	if err := j.Init(ctx); err != nil {
		_ = j.Shutdown()
		return nil, fmt.Errorf("init: %w", err)
	}
	for _, id := range j.services {
		if other, ok := services[id.Service]; ok {
			_ = j.Shutdown()
			return nil, &ConfigError{Job: cfg.Name, Err: fmt.Errorf("service %q is already claimed by job %q", id.Service, other.name)}
		}
	}
	return j, nil
}

// Shutdown stops every job. The handler can be started again afterwards.
func (h *Handler) Shutdown() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	h.mu.Lock()
	jobs := h.jobs
	h.jobs = nil
	h.services = make(map[string]*Job)
	h.mu.Unlock()

	return shutdownJobs(jobs)
}

func shutdownJobs(jobs []*Job) error {
	var g errgroup.Group
	for _, j := range jobs {
		g.Go(func() error {
			if err := j.Shutdown(); err != nil {
				return fmt.Errorf("job %s: %w", j.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func closeBackend(b Backend) {
	if c, ok := b.(Closer); ok {
		_ = c.Close()
	}
}

// Jobs summarizes the loaded jobs in configuration order
func (h *Handler) Jobs() []JobInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]JobInfo, 0, len(h.jobs))
	for _, j := range h.jobs {
		infos = append(infos, j.Info())
	}
	return infos
}

func (h *Handler) snapshot() []*Job {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Job(nil), h.jobs...)
}

func (h *Handler) lookup(id ServiceID) (*Job, error) {
	h.mu.RLock()
	j, ok := h.services[id.Service]
	h.mu.RUnlock()
	if !ok || !j.owns(id) {
		return nil, noSuchService(id)
	}
	return j, nil
}

// do resolves id, checks level and runs fn under the job lock
func (h *Handler) do(op string, client ClientInfo, level Level, id ServiceID, fn func(j *Job) error) error {
	j, err := h.lookup(id)
	if err == nil {
		err = j.permissions.CheckPermission(level, client)
	}
	if err == nil {
		err = j.locked(op, func() error { return fn(j) })
	}
	h.report(op, id, err)
	return err
}

// report logs a failed operation according to its kind
func (h *Handler) report(op string, id ServiceID, err error) {
	if err == nil {
		return
	}
	ev := h.log.Error().Err(err).Str("op", op)
	if id.Service != "" {
		ev = ev.Str("service", id.Service).Str("instance", id.Instance)
	}
	switch ErrorKind(err) {
	case KindFault:
		ev.Msg("request failed")
	case KindBusy:
		ev.Msg("request rejected while busy")
	default:
		ev = ev.Str("error_type", fmt.Sprintf("%T", err))
		var panicked *PanicError
		if errors.As(err, &panicked) {
			ev = ev.Bytes("stack", panicked.Stack)
		}
		ev.Msg("unexpected error")
	}
}

// RequestServiceList returns every service the client may display
func (h *Handler) RequestServiceList(ctx context.Context, client ClientInfo) *ServiceListEvent {
	return h.serviceList(ctx, client)
}

func (h *Handler) serviceList(ctx context.Context, client ClientInfo) *ServiceListEvent {
	list := &ServiceListEvent{Services: make(map[string]ServiceInfo)}
	for _, j := range h.snapshot() {
		if !j.permissions.HasPermission(LevelDisplay, client) {
			continue
		}
		levels := j.permissions.DeterminePermissions(client)

		j.mu.Lock()
		for _, id := range j.services {
			info, ok := list.Services[id.Service]
			if !ok {
				info = ServiceInfo{
					JobType:     j.jobType,
					Job:         j.name,
					Permissions: levels,
					Instances:   make(map[string]InstanceInfo),
				}
				list.Services[id.Service] = info
			}
			info.Instances[id.Instance] = j.instanceInfo(ctx, id)
		}
		j.mu.Unlock()
	}
	return list
}

// StartService starts id
func (h *Handler) StartService(ctx context.Context, client ClientInfo, id ServiceID) error {
	return h.control(ctx, "start", client, id, Backend.StartService)
}

// StopService stops id
func (h *Handler) StopService(ctx context.Context, client ClientInfo, id ServiceID) error {
	return h.control(ctx, "stop", client, id, Backend.StopService)
}

// RestartService restarts id
func (h *Handler) RestartService(ctx context.Context, client ClientInfo, id ServiceID) error {
	return h.control(ctx, "restart", client, id, Backend.RestartService)
}

// control drops the cached sample before calling the backend and nudges the
// poller afterwards, all under the job lock
func (h *Handler) control(ctx context.Context, op string, client ClientInfo, id ServiceID, call func(Backend, context.Context, ServiceID) error) error {
	return h.do(op, client, LevelControl, id, func(j *Job) error {
		j.poller.Invalidate(id)
		if err := call(j.backend, ctx, id); err != nil {
			return err
		}
		j.poller.PollNow()
		return nil
	})
}

// RequestServiceStatus returns the current sample of id
func (h *Handler) RequestServiceStatus(ctx context.Context, client ClientInfo, id ServiceID) (Sample, error) {
	var s Sample
	err := h.do("status", client, LevelDisplay, id, func(j *Job) (err error) {
		s, err = j.status(ctx, id)
		return err
	})
	return s, err
}

// RequestServiceDescription returns the description of id
func (h *Handler) RequestServiceDescription(_ context.Context, client ClientInfo, id ServiceID) (string, error) {
	var desc string
	err := h.do("description", client, LevelDisplay, id, func(j *Job) error {
		desc = j.backend.ServiceDescription(id)
		return nil
	})
	return desc, err
}

// RequestControlOutput returns the output of the last control command on id
func (h *Handler) RequestControlOutput(_ context.Context, client ClientInfo, id ServiceID) ([]string, error) {
	var lines []string
	err := h.do("output", client, LevelDisplay, id, func(j *Job) error {
		lines = j.backend.ServiceOutput(id)
		return nil
	})
	return lines, err
}

// RequestLogfiles returns log excerpts of id
func (h *Handler) RequestLogfiles(ctx context.Context, client ClientInfo, id ServiceID) (map[string]string, error) {
	var files map[string]string
	err := h.do("logs", client, LevelDisplay, id, func(j *Job) (err error) {
		files, err = j.backend.ServiceLogs(ctx, id)
		return err
	})
	return files, err
}

// RequestConffiles returns the configuration files of id
func (h *Handler) RequestConffiles(ctx context.Context, client ClientInfo, id ServiceID) (map[string]string, error) {
	var files map[string]string
	err := h.do("receiveconfig", client, LevelAdmin, id, func(j *Job) (err error) {
		files, err = j.backend.ReceiveConfig(ctx, id)
		return err
	})
	return files, err
}

// SendConffile overwrites one configuration file of id
func (h *Handler) SendConffile(ctx context.Context, client ClientInfo, id ServiceID, filename, contents string) error {
	return h.do("sendconfig", client, LevelAdmin, id, func(j *Job) error {
		return j.backend.SendConfig(ctx, id, filename, contents)
	})
}

// TriggerReload reloads the jobs on behalf of an Admin client
func (h *Handler) TriggerReload(client ClientInfo) error {
	if client.Level() < LevelAdmin {
		err := &Fault{Msg: "admin permission required", Err: ErrUnauthorized}
		h.report("reload", ServiceID{}, err)
		return err
	}
	return h.Reload()
}

// ScanNetwork looks for other daemons and emits a FoundHostEvent for each
func (h *Handler) ScanNetwork(ctx context.Context, client ClientInfo) ([]FoundHostEvent, error) {
	var err error
	switch {
	case client.Level() < LevelDisplay:
		err = &Fault{Msg: "display permission required", Err: ErrUnauthorized}
	case h.scanner == nil:
		err = &Fault{Err: ErrNoScanner}
	}
	if err != nil {
		h.report("scan", ServiceID{}, err)
		return nil, err
	}

	var hosts []FoundHostEvent
	err = guard("scan", func() (err error) {
		hosts, err = h.scanner.Scan(ctx)
		return err
	})
	if err != nil {
		h.report("scan", ServiceID{}, err)
		return nil, err
	}
	for i := range hosts {
		h.emit(&hosts[i])
	}
	return hosts, nil
}

// Authenticate checks credentials. Wrong credentials are not an error; the
// result reports Success false.
func (h *Handler) Authenticate(user, password string) (*AuthResultEvent, ClientInfo, error) {
	if h.auth == nil {
		err := Faultf("authentication is not configured")
		h.report("authenticate", ServiceID{}, err)
		return nil, ClientInfo{}, err
	}
	client, err := h.auth.Authenticate(user, password)
	switch {
	case errors.Is(err, ErrUnauthorized):
		h.log.Info().Str("user", user).Msg("authentication failed")
		return NewAuthResult(false, NewClientInfo(LevelNone)), NewClientInfo(LevelNone), nil
	case err != nil:
		h.report("authenticate", ServiceID{}, err)
		return nil, ClientInfo{}, err
	}
	return NewAuthResult(true, client), client, nil
}

// FilterServices narrows a service list built for an Admin client down to
// what client may see, recomputing the permitted levels
func (h *Handler) FilterServices(client ClientInfo, list *ServiceListEvent) *ServiceListEvent {
	out := &ServiceListEvent{Services: make(map[string]ServiceInfo, len(list.Services))}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for name, info := range list.Services {
		j, ok := h.services[name]
		if !ok || !j.permissions.HasPermission(LevelDisplay, client) {
			continue
		}
		info.Permissions = j.permissions.DeterminePermissions(client)
		out.Services[name] = info
	}
	return out
}

// CanSeeStatus reports whether client may display the service of ev
func (h *Handler) CanSeeStatus(client ClientInfo, ev *StatusEvent) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	j, ok := h.services[ev.Service]
	return ok && j.permissions.HasPermission(LevelDisplay, client)
}

// guard runs fn and turns a panic into *PanicError
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredPanic(op, r)
		}
	}()
	return fn()
}
