package svcd

import (
	"encoding/json"
	"fmt"
)

// EventType tags the concrete type of an Event on the wire
type EventType string

// Event types
const (
	EventServiceList   EventType = "servicelist"
	EventStatus        EventType = "status"
	EventControlOutput EventType = "controloutput"
	EventConfFiles     EventType = "conffiles"
	EventLogFiles      EventType = "logfiles"
	EventFoundHost     EventType = "foundhost"
	EventAuthResult    EventType = "authresult"
	EventDescription   EventType = "description"
)

// Event is a notification pushed to interfaces or returned as a command reply.
// The set of implementations is closed; see the Event* constants.
type Event interface {
	EventType() EventType
}

// InstanceInfo describes one instance inside a ServiceListEvent
type InstanceInfo struct {
	Description string `json:"desc"`
	State       State  `json:"state"`
	ExtStatus   string `json:"ext_status"`
}

// ServiceInfo describes one service inside a ServiceListEvent
type ServiceInfo struct {
	JobType string `json:"jobtype"`
	Job     string `json:"job"`
	// Permissions lists the nominal levels the receiving client qualifies for
	Permissions []Level                 `json:"permissions"`
	Instances   map[string]InstanceInfo `json:"instances"`
}

// ServiceListEvent carries the full list of services visible to a client
type ServiceListEvent struct {
	Services map[string]ServiceInfo `json:"services"`
}

// StatusEvent carries a new status sample
type StatusEvent struct {
	Service   string `json:"service"`
	Instance  string `json:"instance"`
	State     State  `json:"state"`
	ExtStatus string `json:"ext_status"`
}

// ControlOutputEvent carries the output of the last control command
type ControlOutputEvent struct {
	Service  string   `json:"service"`
	Instance string   `json:"instance"`
	Content  []string `json:"content"`
}

// ConfFilesEvent carries configuration files by name
type ConfFilesEvent struct {
	Service  string            `json:"service"`
	Instance string            `json:"instance"`
	Files    map[string]string `json:"files"`
}

// LogFilesEvent carries log excerpts by file name
type LogFilesEvent struct {
	Service  string            `json:"service"`
	Instance string            `json:"instance"`
	Files    map[string]string `json:"files"`
}

// FoundHostEvent reports another daemon found by a network scan
type FoundHostEvent struct {
	Host    string `json:"host"`
	Version int    `json:"version"`
}

// AuthResultEvent reports the outcome of an authentication attempt
type AuthResultEvent struct {
	Success    bool `json:"success"`
	CanDisplay bool `json:"can_display"`
	CanControl bool `json:"can_control"`
	CanAdmin   bool `json:"can_admin"`
}

// DescriptionEvent carries the description of one service instance
type DescriptionEvent struct {
	Service     string `json:"service"`
	Instance    string `json:"instance"`
	Description string `json:"desc"`
}

func (*ServiceListEvent) EventType() EventType   { return EventServiceList }
func (*StatusEvent) EventType() EventType        { return EventStatus }
func (*ControlOutputEvent) EventType() EventType { return EventControlOutput }
func (*ConfFilesEvent) EventType() EventType     { return EventConfFiles }
func (*LogFilesEvent) EventType() EventType      { return EventLogFiles }
func (*FoundHostEvent) EventType() EventType     { return EventFoundHost }
func (*AuthResultEvent) EventType() EventType    { return EventAuthResult }
func (*DescriptionEvent) EventType() EventType   { return EventDescription }

// NewAuthResult fills an AuthResultEvent from a client's level
func NewAuthResult(success bool, client ClientInfo) *AuthResultEvent {
	return &AuthResultEvent{
		Success:    success,
		CanDisplay: client.Level() >= LevelDisplay,
		CanControl: client.Level() >= LevelControl,
		CanAdmin:   client.Level() >= LevelAdmin,
	}
}

// envelope is the wire form shared by events and commands
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent returns the JSON envelope for ev
func EncodeEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", ev.EventType(), err)
	}
	return json.Marshal(envelope{Type: string(ev.EventType()), Data: data})
}

// DecodeEvent parses a JSON envelope produced by EncodeEvent
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}
	var ev Event
	switch EventType(env.Type) {
	case EventServiceList:
		ev = &ServiceListEvent{}
	case EventStatus:
		ev = &StatusEvent{}
	case EventControlOutput:
		ev = &ControlOutputEvent{}
	case EventConfFiles:
		ev = &ConfFilesEvent{}
	case EventLogFiles:
		ev = &LogFilesEvent{}
	case EventFoundHost:
		ev = &FoundHostEvent{}
	case EventAuthResult:
		ev = &AuthResultEvent{}
	case EventDescription:
		ev = &DescriptionEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decoding %s event: %w", env.Type, err)
		}
	}
	return ev, nil
}
