package svcd

import "context"

// Interface is a transport that receives every event the daemon emits.
// EmitEvent is called from pollers with a job lock held; it must not block
// and must not call back into Handler operations that take job locks.
// FilterServices and CanSeeStatus are safe to call.
type Interface interface {
	EmitEvent(ev Event)
}

// InterfaceFunc adapts a function to Interface
type InterfaceFunc func(ev Event)

// EmitEvent calls f
func (f InterfaceFunc) EmitEvent(ev Event) { f(ev) }

// Scanner finds other daemons on the network. Implementations drop replies
// carrying the local instance id.
type Scanner interface {
	Scan(ctx context.Context) ([]FoundHostEvent, error)
}

// Authenticator turns credentials into a ClientInfo
type Authenticator interface {
	// Authenticate returns the client for user, or an error wrapping
	// ErrUnauthorized for bad credentials
	Authenticate(user, password string) (ClientInfo, error)
	// Anonymous returns the client used for requests without credentials
	Anonymous() ClientInfo
}
