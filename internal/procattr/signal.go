package procattr

import (
	"os"
	"syscall"
	"time"
)

// SignalGroup sends a signal to the entire process group of the given process.
// Using the negative PID causes the kernel to deliver the signal to all
// processes in the group, not just the direct child.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, sig)
}

// KillGroup sends SIGKILL to the entire process group of the given process.
func KillGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGKILL)
}

// StopGroup shuts down a process group gracefully: SIGTERM, wait up to grace
// for the process to exit, then SIGKILL. The wait channel must be fed by the
// caller's cmd.Wait. After the kill, StopGroup gives the reaper a short
// window to observe the exit before returning.
func StopGroup(p *os.Process, wait <-chan error, grace time.Duration) {
	_ = SignalGroup(p, syscall.SIGTERM)

	select {
	case <-wait:
		return
	case <-time.After(grace):
	}

	_ = KillGroup(p)

	select {
	case <-wait:
	case <-time.After(100 * time.Millisecond):
	}
}
