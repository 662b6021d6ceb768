package process_group

import (
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func startSleep(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	return cmd
}

func TestRegistryTracksAndForgets(t *testing.T) {
	requireUnix(t)
	r := New(nil)
	a := startSleep(t)
	b := startSleep(t)
	defer func() { _ = a.Process.Kill(); _ = a.Wait(); _ = b.Process.Kill(); _ = b.Wait() }()

	r.Register(a.Process)
	r.Register(b.Process)
	r.Register(nil)
	assert.ElementsMatch(t, []int{a.Process.Pid, b.Process.Pid}, r.PIDs())

	r.Forget(a.Process.Pid)
	assert.Equal(t, []int{b.Process.Pid}, r.PIDs())
}

func TestRegistryTerminateAllKillsProcesses(t *testing.T) {
	requireUnix(t)
	r := New(nil)
	cmd := startSleep(t)
	r.Register(cmd.Process)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	require.NoError(t, r.TerminateAll())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("registered process survived TerminateAll")
	}
	assert.Empty(t, r.PIDs())
}

func TestRegistryTerminateAllIgnoresExited(t *testing.T) {
	requireUnix(t)
	r := New(nil)
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	_ = cmd.Wait()
	r.Register(cmd.Process)

	assert.NoError(t, r.TerminateAll())
}
