//go:build !windows

package process_group

import (
	"errors"
	"os"
	"syscall"
)

// KillTree sends SIGKILL to the process group led by p; launched nodes lead
// their own group. Falls back to the single process when the group is gone.
func KillTree(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil {
		return nil
	} else if !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return p.Kill()
}
