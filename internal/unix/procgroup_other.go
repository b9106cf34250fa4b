//go:build !linux && !darwin

// Package unix provides platform-specific process and file helpers.
package unix

import (
	"os"
	"os/exec"
)

// ONonblock is not available on this platform.
const ONonblock = 0

// SetProcessGroup is a no-op on this platform.
func SetProcessGroup(*exec.Cmd) {}

// KillGroup kills p only.
func KillGroup(p *os.Process) error {
	return p.Kill()
}

// TerminateGroup kills p only, there is no SIGTERM on this platform.
func TerminateGroup(p *os.Process) error {
	return p.Kill()
}

// FileOwner is not available on this platform.
func FileOwner(os.FileInfo) (uid, gid int, ok bool) { return 0, 0, false }
