package svcd

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Flavor selects the supervision suite of a supervise backend
type Flavor int

const (
	// FlavorRunit is runit's runsv
	FlavorRunit Flavor = iota + 1
	// FlavorDaemontools is daemontools' supervise
	FlavorDaemontools
	// FlavorS6 is s6-supervise
	FlavorS6
)

// String returns the job type tag of the flavor
func (f Flavor) String() string {
	switch f {
	case FlavorRunit:
		return JobTypeRunit
	case FlavorDaemontools:
		return JobTypeDaemontools
	case FlavorS6:
		return JobTypeS6
	default:
		return fmt.Sprintf("flavor(%d)", int(f))
	}
}

// Status record sizes
const (
	runitStatusSize       = 20
	daemontoolsStatusSize = 18
	s6StatusSizePre220    = 35
	s6StatusSizeCurrent   = 43
)

// TAI64Base is the TAI64 label of the Unix epoch (2^62 + 10 leap seconds)
const TAI64Base = uint64(1<<62) + 10

// crashGrace is how long a service may be down while wanted up before it
// counts as dead rather than starting
const crashGrace = 2 * time.Second

// superviseStatus is a decoded status record of any flavor
type superviseStatus struct {
	PID       int
	Since     time.Time
	WantUp    bool
	WantDown  bool
	Paused    bool
	Finishing bool
	Ready     bool
}

// decodeSuperviseStatus decodes the supervise/status file of flavor
func decodeSuperviseStatus(flavor Flavor, data []byte) (superviseStatus, error) {
	switch flavor {
	case FlavorRunit:
		return decodeRunitStatus(data)
	case FlavorDaemontools:
		return decodeDaemontoolsStatus(data)
	case FlavorS6:
		switch len(data) {
		case s6StatusSizePre220:
			return decodeS6StatusPre220(data), nil
		case s6StatusSizeCurrent:
			return decodeS6StatusCurrent(data), nil
		}
		return superviseStatus{}, fmt.Errorf("invalid s6 status size: %d bytes (expected %d or %d)",
			len(data), s6StatusSizePre220, s6StatusSizeCurrent)
	default:
		return superviseStatus{}, fmt.Errorf("unknown supervise flavor %v", flavor)
	}
}

// taiTime decodes the seconds of a TAI64N label. Labels before the epoch or
// after year 9999 yield the zero time.
func taiTime(label []byte) time.Time {
	tai := binary.BigEndian.Uint64(label[:8])
	if tai <= TAI64Base {
		return time.Time{}
	}
	sec := int64(tai - TAI64Base)
	if sec >= 253402300800 {
		return time.Time{}
	}
	return time.Unix(sec, int64(binary.BigEndian.Uint32(label[8:12])))
}

// decodeRunitStatus decodes runsv's 20 byte record:
//
//	bytes 0-11:  TAI64N time of the last state change
//	bytes 12-15: pid, little-endian
//	byte 16:     paused
//	byte 17:     want, 'u' or 'd'
//	byte 18:     term sent
//	byte 19:     state: 0 down, 1 run, 2 finish
func decodeRunitStatus(data []byte) (superviseStatus, error) {
	if len(data) != runitStatusSize {
		return superviseStatus{}, fmt.Errorf("invalid runit status size: %d bytes (expected %d)", len(data), runitStatusSize)
	}
	st := superviseStatus{
		Since:     taiTime(data[0:12]),
		PID:       int(binary.LittleEndian.Uint32(data[12:16])),
		Paused:    data[16] != 0,
		WantUp:    data[17] == 'u',
		WantDown:  data[17] == 'd',
		Finishing: data[19] == 2,
	}
	if data[19] == 0 {
		st.PID = 0
	}
	return st, nil
}

// decodeDaemontoolsStatus decodes supervise's 18 byte record: the runit
// layout without the term and state bytes
func decodeDaemontoolsStatus(data []byte) (superviseStatus, error) {
	if len(data) != daemontoolsStatusSize {
		return superviseStatus{}, fmt.Errorf("invalid daemontools status size: %d bytes (expected %d)", len(data), daemontoolsStatusSize)
	}
	return superviseStatus{
		Since:    taiTime(data[0:12]),
		PID:      int(binary.LittleEndian.Uint32(data[12:16])),
		Paused:   data[16] != 0,
		WantUp:   data[17] == 'u',
		WantDown: data[17] == 'd',
	}, nil
}

// decodeS6StatusPre220 decodes the 35 byte record of s6 before 2.20:
// stamp, ready stamp, 4 reserved bytes, a 32 bit pid and flags at byte 34
func decodeS6StatusPre220(data []byte) superviseStatus {
	flags := data[34]
	st := superviseStatus{
		Since: taiTime(data[0:12]),
		PID:   int(binary.BigEndian.Uint32(data[28:32])),
		Ready: flags&0x08 != 0,
	}
	st.WantUp = st.PID > 0
	st.WantDown = !st.WantUp
	return st
}

// decodeS6StatusCurrent decodes the 43 byte record of s6 2.20 and later:
// stamp, ready stamp, 64 bit pid, 64 bit pgid, wstat and flags at byte 42
// (paused 0x01, finishing 0x02, want up 0x04, ready 0x08)
func decodeS6StatusCurrent(data []byte) superviseStatus {
	flags := data[42]
	return superviseStatus{
		Since:     taiTime(data[0:12]),
		PID:       int(binary.BigEndian.Uint64(data[24:32])),
		Paused:    flags&0x01 != 0,
		Finishing: flags&0x02 != 0,
		WantUp:    flags&0x04 != 0,
		WantDown:  flags&0x04 == 0,
		Ready:     flags&0x08 != 0,
	}
}

// Sample maps the record onto a service state. The ext status leaves out
// uptimes so that an unchanged service yields an identical sample.
func (st superviseStatus) Sample(now time.Time) Sample {
	var since time.Duration
	if !st.Since.IsZero() {
		since = now.Sub(st.Since).Truncate(time.Second)
		if since < 0 {
			since = 0
		}
	}

	switch {
	case st.PID > 0 && st.Paused:
		return Sample{State: StateWarning, ExtStatus: fmt.Sprintf("paused, pid %d", st.PID)}
	case st.Finishing:
		return Sample{State: StateStopping, ExtStatus: "finish script running"}
	case st.PID > 0 && st.WantDown:
		return Sample{State: StateStopping, ExtStatus: fmt.Sprintf("pid %d, want down", st.PID)}
	case st.PID > 0:
		return Sample{State: StateRunning, ExtStatus: fmt.Sprintf("pid %d", st.PID)}
	case st.WantUp && !st.Since.IsZero() && since < crashGrace:
		return Sample{State: StateStarting}
	case st.WantUp:
		return Sample{State: StateDead, ExtStatus: "down, want up"}
	default:
		return Sample{State: StateNotRunning}
	}
}
