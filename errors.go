package svcd

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Specializations of Fault, matched with errors.Is
var (
	// ErrUnauthorized indicates the client lacks the required permission level
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoSuchService indicates a request addressed an unknown service or instance
	ErrNoSuchService = errors.New("no such service")

	// ErrUnknownJobType indicates a job config names a backend type nobody registered
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrNoScanner indicates network discovery is not configured
	ErrNoScanner = errors.New("network scan not available")
)

// DefaultBusyMessage is used by Busy errors created without a message
const DefaultBusyMessage = "operation already in progress"

// Fault is a recoverable error reported to the caller as-is
type Fault struct {
	// Msg is the human-readable description
	Msg string
	// Err is an optional cause, also used for the ErrUnauthorized and
	// ErrNoSuchService specializations
	Err error
}

// Faultf returns a Fault with a formatted message
func Faultf(format string, args ...any) *Fault {
	return &Fault{Msg: fmt.Sprintf(format, args...)}
}

// Error returns the message, followed by the cause if there is one
func (f *Fault) Error() string {
	switch {
	case f.Msg == "" && f.Err != nil:
		return f.Err.Error()
	case f.Err != nil:
		return f.Msg + ": " + f.Err.Error()
	default:
		return f.Msg
	}
}

// Unwrap returns the cause
func (f *Fault) Unwrap() error {
	return f.Err
}

// Busy signals that the addressed sub-resource is already transitioning.
// Callers should retry later; nothing was queued.
type Busy struct {
	Msg string
}

// Error returns the message or DefaultBusyMessage
func (b *Busy) Error() string {
	if b.Msg == "" {
		return DefaultBusyMessage
	}
	return b.Msg
}

// noSuchService builds the Fault returned for unknown addresses
func noSuchService(id ServiceID) error {
	return &Fault{Msg: fmt.Sprintf("%q", id.String()), Err: ErrNoSuchService}
}

// Kind classifies errors for transports
type Kind int

const (
	// KindNone is returned for a nil error
	KindNone Kind = iota
	// KindFault is a caller-visible recoverable error
	KindFault
	// KindBusy is a retry-later condition
	KindBusy
	// KindUnexpected is anything else
	KindUnexpected
)

// ErrorKind reports which category err belongs to
func ErrorKind(err error) Kind {
	if err == nil {
		return KindNone
	}
	var panicked *PanicError
	if errors.As(err, &panicked) {
		return KindUnexpected
	}
	var busy *Busy
	if errors.As(err, &busy) {
		return KindBusy
	}
	var fault *Fault
	if errors.As(err, &fault) {
		return KindFault
	}
	return KindUnexpected
}

// CommandError represents a failed external command
type CommandError struct {
	// Path is the executable
	Path string
	// Args are the arguments, without the executable
	Args []string
	// ExitCode is the exit status, or -1 if the process did not exit normally
	ExitCode int
	// TimedOut is set when the process was killed after its timeout
	TimedOut bool
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *CommandError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("command %s %q: timed out", e.Path, e.Args)
	case e.ExitCode > 0:
		return fmt.Sprintf("command %s %q: exit status %d", e.Path, e.Args, e.ExitCode)
	default:
		return fmt.Sprintf("command %s %q: %v", e.Path, e.Args, e.Err)
	}
}

// Unwrap returns the underlying error for error chain inspection
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ConfigError reports a job configuration that cannot be loaded
type ConfigError struct {
	// Job is the job name, if known
	Job string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *ConfigError) Error() string {
	if e.Job == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: job %q: %v", e.Job, e.Err)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors from bulk operations
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred", len(m.Errors))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// Unwrap exposes the aggregated errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// PanicError carries a value recovered from a panicking backend call
type PanicError struct {
	// Op is the operation that panicked
	Op string
	// Value is what was passed to panic
	Value any
	// Stack is the goroutine stack at the time of the panic
	Stack []byte
}

// Error returns a formatted error message
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during %s: %v", e.Op, e.Value)
}

// Unwrap returns the panic value if it was an error
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func recoveredPanic(op string, v any) error {
	return &PanicError{Op: op, Value: v, Stack: debug.Stack()}
}
