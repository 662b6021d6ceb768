//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the node in its own process group so kills reach
// its children, and has the kernel kill it if the supervisor dies.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
