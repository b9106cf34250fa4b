//go:build linux || darwin

// Package unix provides platform-specific process and file helpers.
package unix

import (
	"os"
	"os/exec"
	"syscall"
)

// ONonblock is the non-blocking I/O flag.
const ONonblock = syscall.O_NONBLOCK

// SetProcessGroup makes cmd the leader of a new process group so that
// everything it forks can be signalled at once.
func SetProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// SignalGroup sends sig to the process group led by p, falling back to p
// alone if the group is gone.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	if err := syscall.Kill(-p.Pid, sig); err == nil {
		return nil
	}
	return p.Signal(sig)
}

// KillGroup sends SIGKILL to the process group led by p.
func KillGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGKILL)
}

// TerminateGroup sends SIGTERM to the process group led by p.
func TerminateGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGTERM)
}

// FileOwner returns the uid and gid recorded in fi
func FileOwner(fi os.FileInfo) (uid, gid int, ok bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}
