package svcd

import (
	"context"

	"github.com/rs/zerolog"
)

// Backend is the capability set every job type implements. The dispatcher
// calls these methods with the owning job's lock held, so implementations
// need no locking of their own against each other; they must, however, be
// safe against their own background goroutines (command supervisors,
// watchers).
type Backend interface {
	// Services lists the addressable units. It is cheap and stable after Init.
	Services() []ServiceID

	// ServiceStatus samples one service instance
	ServiceStatus(ctx context.Context, id ServiceID) (Sample, error)

	// StartService, StopService and RestartService must return promptly.
	// Long transitions show up as Starting/Stopping samples afterwards.
	StartService(ctx context.Context, id ServiceID) error
	StopService(ctx context.Context, id ServiceID) error
	RestartService(ctx context.Context, id ServiceID) error

	// ServiceDescription returns a one-line human description
	ServiceDescription(id ServiceID) string

	// ServiceOutput returns recent output lines of the last control attempt
	ServiceOutput(id ServiceID) []string

	// ServiceLogs returns log excerpts keyed by file name
	ServiceLogs(ctx context.Context, id ServiceID) (map[string]string, error)

	// ReceiveConfig returns configuration files keyed by base name
	ReceiveConfig(ctx context.Context, id ServiceID) (map[string]string, error)

	// SendConfig overwrites one configuration file. It never restarts anything.
	SendConfig(ctx context.Context, id ServiceID, filename, contents string) error
}

// BatchStatuser is implemented by backends that can sample all of their
// services in one call. The poller prefers it.
type BatchStatuser interface {
	AllServiceStatus(ctx context.Context) (map[ServiceID]Sample, error)
}

// FeasibilityChecker is implemented by backends that can tell up front whether
// they can work on this host. Jobs failing the check are not kept.
type FeasibilityChecker interface {
	CheckFeasibility(ctx context.Context) error
}

// Initializer is implemented by backends that acquire resources once the job
// has been accepted
type Initializer interface {
	Init(ctx context.Context) error
}

// ChangeNotifier is implemented by backends that learn about state changes
// before the next poll. notify may be called from any goroutine.
type ChangeNotifier interface {
	WatchChanges(ctx context.Context, notify func()) (stop func() error, err error)
}

// BackendParams is what a BackendFactory receives
type BackendParams struct {
	// Name is the job name
	Name string
	// Config is the job's configuration, including backend options
	Config JobConfig
	// Logger is scoped to the job
	Logger zerolog.Logger
}

// BackendFactory builds a backend from its job configuration
type BackendFactory func(p BackendParams) (Backend, error)

// NoConfig can be embedded by backends without configuration files
type NoConfig struct{}

// ReceiveConfig returns no files
func (NoConfig) ReceiveConfig(context.Context, ServiceID) (map[string]string, error) {
	return map[string]string{}, nil
}

// SendConfig always fails
func (NoConfig) SendConfig(_ context.Context, id ServiceID, filename, _ string) error {
	return Faultf("%s: no configuration file %q", id, filename)
}

// hasService reports whether id is one of ids
func hasService(ids []ServiceID, id ServiceID) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
