package svcd

import (
	"fmt"
	"time"
)

// Poller and cache constants
const (
	// CacheFreshnessFactor scales the poll interval into the window during which
	// a cached sample is served without asking the backend again
	CacheFreshnessFactor = 1.5

	// MaxLoggedPollErrors is the number of consecutive poll failures that get
	// logged before the poller goes quiet until the next successful poll
	MaxLoggedPollErrors = 3

	// DefaultPollInterval is used when a job does not configure one
	DefaultPollInterval = 3 * time.Second
)

// Command execution defaults
const (
	// DefaultCommandTimeout is the hard wall-clock limit for external commands
	DefaultCommandTimeout = 30 * time.Second

	// DefaultStatusTimeout bounds synchronous status queries such as
	// "systemctl show" or an init script's "status" action
	DefaultStatusTimeout = 5 * time.Second

	// DefaultOutputLines is the number of output lines retained per command
	DefaultOutputLines = 50

	// DefaultLogLines is the number of log lines returned per log file
	DefaultLogLines = 200

	// DefaultLogWindow bounds how many bytes are read from the end of one log file
	DefaultLogWindow = 1 << 20
)

// FileMode is the mode used for configuration files written without a
// previous version to copy the mode from
const FileMode = 0o644

// ServiceID addresses one controllable unit. An empty Instance denotes the
// main or sole instance of Service.
type ServiceID struct {
	Service  string
	Instance string
}

// String returns "service" or "service.instance"
func (id ServiceID) String() string {
	if id.Instance == "" {
		return id.Service
	}
	return id.Service + "." + id.Instance
}

// State is the coarse state of a service instance. The order matters:
// transports and front ends sort and color by it.
type State int

const (
	// StateDead indicates the service should run but does not
	StateDead State = iota
	// StateNotRunning indicates the service is stopped on purpose
	StateNotRunning
	// StateStarting indicates a start is in flight
	StateStarting
	// StateInitializing indicates the service runs but is not ready yet
	StateInitializing
	// StateRunning indicates the service is up
	StateRunning
	// StateWarning indicates the service is up but reports a problem
	StateWarning
	// StateStopping indicates a stop is in flight
	StateStopping
	// StateNotAvailable indicates the state could not be determined
	StateNotAvailable
)

var stateNames = [...]string{
	StateDead:         "DEAD",
	StateNotRunning:   "NOT RUNNING",
	StateStarting:     "STARTING",
	StateInitializing: "INITIALIZING",
	StateRunning:      "RUNNING",
	StateWarning:      "WARNING",
	StateStopping:     "STOPPING",
	StateNotAvailable: "NOT AVAILABLE",
}

// String returns the display name of the state
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Transient reports whether the state is produced while an operation is in flight
func (s State) Transient() bool {
	return s == StateStarting || s == StateStopping || s == StateInitializing
}

// Sample is one status observation of a service instance
type Sample struct {
	State State
	// ExtStatus is free-form detail such as a pid, an uptime or an error text
	ExtStatus string
}
