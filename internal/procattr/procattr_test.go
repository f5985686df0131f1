package procattr

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_ConfiguresProcessGroup(t *testing.T) {
	t.Parallel()
	cmd := exec.Command("echo", "test")
	require.Nil(t, cmd.SysProcAttr)

	Set(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid, "child should get its own process group")
}

func TestSignalGroup_NilProcess(t *testing.T) {
	t.Parallel()
	assert.NoError(t, SignalGroup(nil, syscall.SIGTERM))
	assert.NoError(t, KillGroup(nil))
}

func TestSignalGroup_RunningProcess(t *testing.T) {
	t.Parallel()

	cmd := exec.Command("sleep", "60")
	Set(cmd)
	require.NoError(t, cmd.Start())

	assert.NoError(t, SignalGroup(cmd.Process, syscall.SIGTERM))
	_ = cmd.Wait()
}

func TestStopGroup_GracefulExit(t *testing.T) {
	t.Parallel()

	cmd := exec.Command("sleep", "60")
	Set(cmd)
	require.NoError(t, cmd.Start())

	wait := make(chan error, 1)
	go func() { wait <- cmd.Wait() }()

	// sleep dies on SIGTERM, so StopGroup should return well inside the
	// grace window without escalating.
	start := time.Now()
	StopGroup(cmd.Process, wait, 5*time.Second)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStopGroup_EscalatesToKill(t *testing.T) {
	t.Parallel()

	// Trap SIGTERM so only SIGKILL can end the process.
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 60")
	Set(cmd)
	require.NoError(t, cmd.Start())

	wait := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		wait <- cmd.Wait()
		close(exited)
	}()

	StopGroup(cmd.Process, wait, 200*time.Millisecond)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("process survived StopGroup escalation")
	}
}
