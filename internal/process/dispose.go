package process

import (
	"time"

	"github.com/loykin/nodekeeper/internal/history"
)

// Dispose shuts the supervisor down. It is idempotent and safe to call from
// any goroutine except an event handler. Once it starts no further events are
// published and Start returns ErrDisposed.
//
// With KillPolicyTerminate a live process gets StopGrace to exit after the
// optional StopCommand; an unresponsive one is killed immediately. With
// KillPolicyWait Dispose blocks until the process exits by itself.
func (s *Supervisor) Dispose() {
	s.emitMu.Lock()
	if !s.disposing.CompareAndSwap(false, true) {
		s.emitMu.Unlock()
		return
	}
	s.mu.Lock()
	r := s.cur
	s.cur = nil
	s.mu.Unlock()
	console := s.console
	s.console = nil
	s.emitMu.Unlock()

	s.poller.Close()
	s.log.Info("disposing node supervisor", "policy", string(s.spec.KillPolicy))

	if r != nil {
		switch s.spec.KillPolicy {
		case KillPolicyWait:
			<-r.exited
		default:
			s.terminate(r)
		}
		// The waiter may have been mid-way through exit handling.
		<-r.settled
		s.release(r)
		s.record(history.Event{Type: history.EventDispose, PID: r.pid, ExitCode: s.exitCodeOf(r)})
	} else {
		s.record(history.Event{Type: history.EventDispose})
	}
	s.flag.Set(false)
	if console != nil {
		_ = console.Close()
	}
}

func (s *Supervisor) terminate(r *run) {
	if !r.alive() {
		return
	}
	if !responsive(r.pid) {
		_ = s.forceKill(r, "unresponsive")
		s.awaitKilled(r)
		return
	}
	if s.spec.StopCommand != "" {
		if _, err := r.stdin.Write([]byte(s.spec.StopCommand + "\n")); err != nil {
			s.log.Debug("stop command not delivered", "pid", r.pid, "error", err)
		}
	}
	if r.waitExited(s.spec.StopGrace) {
		return
	}
	_ = s.forceKill(r, "grace_expired")
	s.awaitKilled(r)
}

func (s *Supervisor) awaitKilled(r *run) {
	if !r.waitExited(killWait) {
		s.log.Error("node did not exit after kill", "pid", r.pid, "waited", killWait.String())
	}
}

func (s *Supervisor) exitCodeOf(r *run) *int {
	select {
	case <-r.exited:
		return history.IntPtr(r.exitCode)
	default:
		return nil
	}
}

// DisposeTimeout is the longest a terminating Dispose can take.
func (s *Supervisor) DisposeTimeout() time.Duration {
	return s.spec.StopGrace + killWait
}
