package process

import (
	"github.com/shirou/gopsutil/v4/process"
)

// responsive reports whether pid is scheduled normally. A stopped or zombie
// process cannot act on a stop command, so waiting for it is pointless.
func responsive(pid int) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	states, err := p.Status()
	if err != nil {
		running, rerr := p.IsRunning()
		return rerr == nil && running
	}
	for _, st := range states {
		switch st {
		case process.Stop, process.Zombie:
			return false
		}
	}
	return true
}
