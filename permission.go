package svcd

import (
	"fmt"
	"sort"
	"strings"
)

// Level is a privilege level. Levels are ordered: a client holding a level
// holds every lower one as well.
type Level int

const (
	// LevelNone denies everything, even viewing
	LevelNone Level = iota
	// LevelDisplay allows viewing services, status, output and logs
	LevelDisplay
	// LevelControl allows starting, stopping and restarting services
	LevelControl
	// LevelAdmin allows configuration transfer and reloading jobs
	LevelAdmin
)

// nominalLevels are the action levels a job can remap
var nominalLevels = []Level{LevelDisplay, LevelControl, LevelAdmin}

// String returns the lower-case name of the level
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelDisplay:
		return "display"
	case LevelControl:
		return "control"
	case LevelAdmin:
		return "admin"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel accepts a level name or its single-letter code, case-insensitively
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "n":
		return LevelNone, nil
	case "display", "d":
		return LevelDisplay, nil
	case "control", "c":
		return LevelControl, nil
	case "admin", "a":
		return LevelAdmin, nil
	}
	return LevelNone, fmt.Errorf("unknown permission level %q", s)
}

// ClientInfo is the authenticated identity of a caller. It is created once per
// request or connection by the authentication layer and never modified.
type ClientInfo struct {
	level Level
}

// NewClientInfo returns a ClientInfo carrying level
func NewClientInfo(level Level) ClientInfo {
	return ClientInfo{level: level}
}

// Level returns the client's privilege level
func (c ClientInfo) Level() Level {
	return c.level
}

// Permissions maps a nominal action level to the level a client must hold to
// perform it. The zero value is not usable; use DefaultPermissions or
// ParsePermissions.
type Permissions struct {
	required map[Level]Level
}

// DefaultPermissions maps every action level to itself
func DefaultPermissions() Permissions {
	p := Permissions{required: make(map[Level]Level, len(nominalLevels))}
	for _, l := range nominalLevels {
		p.required[l] = l
	}
	return p
}

// ParsePermissions applies an override string such as
// "display=control, control=admin" to the default identity mapping.
// Any malformed entry fails the whole parse.
func ParsePermissions(s string) (Permissions, error) {
	p := DefaultPermissions()
	if strings.TrimSpace(s) == "" {
		return p, nil
	}
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(entry, "=")
		if len(parts) != 2 {
			return Permissions{}, fmt.Errorf("invalid permission entry %q: expected level=level", strings.TrimSpace(entry))
		}
		nominal, err := ParseLevel(parts[0])
		if err != nil || nominal == LevelNone {
			return Permissions{}, fmt.Errorf("invalid permission entry %q: unknown action level %q", strings.TrimSpace(entry), strings.TrimSpace(parts[0]))
		}
		required, err := ParseLevel(parts[1])
		if err != nil {
			return Permissions{}, fmt.Errorf("invalid permission entry %q: unknown required level %q", strings.TrimSpace(entry), strings.TrimSpace(parts[1]))
		}
		p.required[nominal] = required
	}
	return p, nil
}

// Required returns the effective level needed for the nominal action level
func (p Permissions) Required(level Level) Level {
	if r, ok := p.required[level]; ok {
		return r
	}
	return level
}

// HasPermission reports whether client may perform an action of the given level
func (p Permissions) HasPermission(level Level, client ClientInfo) bool {
	return client.Level() >= p.Required(level)
}

// CheckPermission returns an unauthorized Fault unless HasPermission holds
func (p Permissions) CheckPermission(level Level, client ClientInfo) error {
	if p.HasPermission(level, client) {
		return nil
	}
	return &Fault{Msg: fmt.Sprintf("%s permission required", level), Err: ErrUnauthorized}
}

// DeterminePermissions returns the sorted nominal levels the client qualifies for
func (p Permissions) DeterminePermissions(client ClientInfo) []Level {
	levels := make([]Level, 0, len(nominalLevels))
	for _, l := range nominalLevels {
		if p.HasPermission(l, client) {
			levels = append(levels, l)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	return levels
}

// String renders the mapping in the same syntax ParsePermissions accepts
func (p Permissions) String() string {
	entries := make([]string, 0, len(nominalLevels))
	for _, l := range nominalLevels {
		entries = append(entries, l.String()+"="+p.Required(l).String())
	}
	return strings.Join(entries, ", ")
}
