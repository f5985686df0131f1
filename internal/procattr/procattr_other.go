//go:build !linux

// Package procattr configures subprocesses for orphan prevention and
// group-wide shutdown.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set places the child in its own process group so the parent can signal the
// whole group on shutdown. Pdeathsig is Linux-only; other platforms rely on
// the group signal alone.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
