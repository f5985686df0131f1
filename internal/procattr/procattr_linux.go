//go:build linux

// Package procattr configures subprocesses for orphan prevention and
// group-wide shutdown.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set places the child in its own process group and, on Linux, arranges for
// it to receive SIGTERM when the parent dies (OOM kill, SIGKILL), so CLI
// children never outlive the client.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
