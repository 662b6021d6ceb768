package process_group

import (
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
)

// Registry tracks every process launched by this program so they can be
// torn down together if the supervising program has to exit abruptly.
// On Linux children are additionally tied to the parent with Pdeathsig,
// so the kernel reaps them even when TerminateAll never runs.
type Registry struct {
	mu    sync.Mutex
	procs map[int]*os.Process
	log   *slog.Logger
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{procs: make(map[int]*os.Process), log: log}
}

// Register starts tracking p. Registering the same pid twice replaces the handle.
func (r *Registry) Register(p *os.Process) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.procs[p.Pid] = p
	r.mu.Unlock()
}

// Forget stops tracking pid.
func (r *Registry) Forget(pid int) {
	r.mu.Lock()
	delete(r.procs, pid)
	r.mu.Unlock()
}

// PIDs returns the tracked pids in ascending order.
func (r *Registry) PIDs() []int {
	r.mu.Lock()
	out := make([]int, 0, len(r.procs))
	for pid := range r.procs {
		out = append(out, pid)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// TerminateAll force-kills every tracked process (and its process group
// where supported) and forgets it. Already-exited processes are ignored.
// Returns the first unexpected error.
func (r *Registry) TerminateAll() error {
	r.mu.Lock()
	procs := r.procs
	r.procs = make(map[int]*os.Process)
	r.mu.Unlock()

	var firstErr error
	for pid, p := range procs {
		if err := KillTree(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.log.Warn("terminate registered process failed", "pid", pid, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.log.Debug("terminated registered process", "pid", pid)
	}
	return firstErr
}
