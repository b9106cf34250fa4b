package svcd

import (
	"fmt"
	"sort"
	"sync"
)

// Job type tags understood by DefaultRegistry
const (
	JobTypeSystemd     = "systemd"
	JobTypeInit        = "init"
	JobTypeRunit       = "runit"
	JobTypeDaemontools = "daemontools"
	JobTypeS6          = "s6"
	JobTypeProcess     = "process"
)

// Registry maps job type tags to backend factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]BackendFactory)}
}

// DefaultRegistry returns a registry holding every built-in backend
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(JobTypeSystemd, NewSystemdBackend)
	r.MustRegister(JobTypeInit, NewInitBackend)
	r.MustRegister(JobTypeRunit, superviseFactory(FlavorRunit))
	r.MustRegister(JobTypeDaemontools, superviseFactory(FlavorDaemontools))
	r.MustRegister(JobTypeS6, superviseFactory(FlavorS6))
	r.MustRegister(JobTypeProcess, NewProcessBackend)
	return r
}

// Register adds a factory for jobType. A tag can be registered only once.
func (r *Registry) Register(jobType string, f BackendFactory) error {
	if jobType == "" || f == nil {
		return fmt.Errorf("registering job type %q: empty tag or nil factory", jobType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[jobType]; ok {
		return fmt.Errorf("job type %q already registered", jobType)
	}
	r.factories[jobType] = f
	return nil
}

// MustRegister is Register for static setup
func (r *Registry) MustRegister(jobType string, f BackendFactory) {
	if err := r.Register(jobType, f); err != nil {
		panic(err)
	}
}

// Types returns the registered tags, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds the backend for p.Config.Type
func (r *Registry) New(p BackendParams) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[p.Config.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Job: p.Name, Err: fmt.Errorf("%w %q", ErrUnknownJobType, p.Config.Type)}
	}
	b, err := f(p)
	if err != nil {
		return nil, &ConfigError{Job: p.Name, Err: err}
	}
	return b, nil
}
