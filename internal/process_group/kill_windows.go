//go:build windows

package process_group

import "os"

// KillTree force-kills p.
func KillTree(p *os.Process) error { return p.Kill() }
