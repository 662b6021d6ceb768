//go:build !windows

package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/loykin/nodekeeper/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nodeScript = `#!/bin/sh
echo "started $*"
echo "warming up" >&2
while read line; do
  case "$line" in
    quit) echo "bye"; exit 0 ;;
    fail) exit 1 ;;
    partial) printf "no newline"; exit 0 ;;
    *) echo "got $line" ;;
  esac
done
`

func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return false
}

func writeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.sh")
	require.NoError(t, os.WriteFile(path, []byte(nodeScript), 0o755))
	return path
}

// scriptedProbe answers from a list, then repeats the last answer. It also
// records the flag value seen by each probe.
type scriptedProbe struct {
	mu      sync.Mutex
	answers []bool
	calls   int
	flag    func() bool
	seen    []bool
}

func (p *scriptedProbe) Alive() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flag != nil {
		p.seen = append(p.seen, p.flag())
	}
	i := min(p.calls, len(p.answers)-1)
	p.calls++
	return p.answers[i], nil
}

func (p *scriptedProbe) Describe() string { return "scripted" }

func (p *scriptedProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) of(t history.EventType) []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type logRecorder struct {
	mu    sync.Mutex
	lines []LogEvent
}

func (r *logRecorder) add(ev LogEvent) {
	r.mu.Lock()
	r.lines = append(r.lines, ev)
	r.mu.Unlock()
}

func (r *logRecorder) has(stream Stream, line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.lines {
		if ev.Stream == stream && ev.Line == line {
			return true
		}
	}
	return false
}

func (r *logRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func newTestSupervisor(t *testing.T, spec Spec, opts ...Option) *Supervisor {
	t.Helper()
	if spec.PollDueTime == 0 {
		spec.PollDueTime = 5 * time.Millisecond
	}
	if spec.PollPeriod == 0 {
		spec.PollPeriod = 5 * time.Millisecond
	}
	if spec.StopGrace == 0 {
		spec.StopGrace = 2 * time.Second
	}
	s, err := New(spec, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	return s
}

func TestStartBecomesAvailableAfterThirdFailedProbe(t *testing.T) {
	probe := &scriptedProbe{answers: []bool{false, false, false, true}}
	s := newTestSupervisor(t, Spec{Executable: writeScript(t), Probe: probe})
	probe.flag = s.Available

	var changes []bool
	var mu sync.Mutex
	s.SubscribeAvailability(func(v bool) {
		mu.Lock()
		changes = append(changes, v)
		mu.Unlock()
	})
	logs := &logRecorder{}
	s.SubscribeLogs(logs.add)

	require.NoError(t, s.Start([]string{"--testnet"}))
	require.True(t, waitUntil(3*time.Second, 5*time.Millisecond, s.Available))
	require.True(t, waitUntil(time.Second, 5*time.Millisecond, func() bool { return !s.poller.Running() }))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, probe.Calls())
	assert.Equal(t, []bool{false, false, false, false}, probe.seen)
	mu.Lock()
	assert.Equal(t, []bool{true}, changes)
	mu.Unlock()

	require.True(t, waitUntil(time.Second, 5*time.Millisecond, func() bool {
		return logs.has(StreamStdout, "started --testnet") && logs.has(StreamStderr, "warming up")
	}))
	st := s.Status()
	assert.True(t, st.Running)
	assert.True(t, st.Available)
	assert.Equal(t, "--testnet", st.CommandLine)
	assert.NotZero(t, st.PID)
}

func TestSpontaneousExitResetsAvailability(t *testing.T) {
	probe := &scriptedProbe{answers: []bool{true}}
	sink := &memSink{}
	s := newTestSupervisor(t, Spec{Executable: writeScript(t), Probe: probe}, WithHistory(sink))

	exits := make(chan ExitEvent, 1)
	s.SubscribeExit(func(ev ExitEvent) { exits <- ev })

	require.NoError(t, s.Start(nil))
	require.True(t, waitUntil(3*time.Second, 5*time.Millisecond, s.Available))

	s.SendConsoleCommand("fail")
	select {
	case ev := <-exits:
		assert.Equal(t, 1, ev.Code)
	case <-time.After(3 * time.Second):
		t.Fatal("no exit event")
	}
	assert.False(t, s.Available())

	calls := probe.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, probe.Calls(), "poller must not re-arm after exit")
	assert.False(t, s.poller.Running())

	st := s.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 1, *st.ExitCode)
	require.Len(t, sink.of(history.EventExit), 1)
	assert.Equal(t, 1, *sink.of(history.EventExit)[0].ExitCode)
}

func TestRestartAfterExit(t *testing.T) {
	s := newTestSupervisor(t, Spec{Executable: writeScript(t), Probe: &scriptedProbe{answers: []bool{true}}})

	exits := make(chan ExitEvent, 2)
	var restartErr atomic.Value
	s.SubscribeExit(func(ev ExitEvent) {
		exits <- ev
		// restarting from inside a handler is allowed
		if ev.Code == 1 {
			if err := s.Start([]string{"again"}); err != nil {
				restartErr.Store(err)
			}
		}
	})

	require.NoError(t, s.Start(nil))
	assert.ErrorIs(t, s.Start(nil), ErrAlreadyRunning)

	s.SendConsoleCommand("fail")
	<-exits
	require.True(t, waitUntil(2*time.Second, 5*time.Millisecond, func() bool {
		st := s.Status()
		return st.Running && st.CommandLine == "again"
	}))
	assert.Nil(t, restartErr.Load())
	require.True(t, waitUntil(2*time.Second, 5*time.Millisecond, s.Available))
}

func TestStartRacingExitHandling(t *testing.T) {
	sink := &memSink{}
	s := newTestSupervisor(t, Spec{Executable: "/bin/sh", Probe: &scriptedProbe{answers: []bool{true}}}, WithHistory(sink))
	exits := make(chan ExitEvent, 16)
	s.SubscribeExit(func(ev ExitEvent) { exits <- ev })

	args := []string{"-c", "sleep 0.1"}
	require.NoError(t, s.Start(args))
	for i := 0; i < 8; i++ {
		require.True(t, waitUntil(3*time.Second, time.Millisecond, s.Available), "iteration %d", i)

		done := make(chan error, 1)
		go func() {
			for {
				err := s.Start(args)
				if !errors.Is(err, ErrAlreadyRunning) {
					done <- err
					return
				}
				runtime.Gosched()
			}
		}()
		select {
		case err := <-done:
			require.NoError(t, err, "iteration %d", i)
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: Start blocked behind exit handling", i)
		}
		select {
		case <-exits:
		case <-time.After(3 * time.Second):
			t.Fatalf("iteration %d: exit not published", i)
		}
		assert.True(t, s.Status().Running)
	}
	assert.GreaterOrEqual(t, len(sink.of(history.EventExit)), 8)
}

func TestDisposeDeliversFinalUnavailable(t *testing.T) {
	s := newTestSupervisor(t, Spec{Executable: writeScript(t), StopCommand: "quit", Probe: &scriptedProbe{answers: []bool{true}}})
	var mu sync.Mutex
	var changes []bool
	s.SubscribeAvailability(func(v bool) {
		mu.Lock()
		changes = append(changes, v)
		mu.Unlock()
	})

	require.NoError(t, s.Start(nil))
	require.True(t, waitUntil(3*time.Second, 5*time.Millisecond, s.Available))
	s.Dispose()

	assert.False(t, s.Available())
	mu.Lock()
	assert.Equal(t, []bool{true, false}, changes)
	mu.Unlock()
}

func TestResponsive(t *testing.T) {
	assert.True(t, responsive(os.Getpid()))

	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	// reaped: the pid no longer names a process
	assert.False(t, responsive(cmd.Process.Pid))
}

func TestConsoleCommandEchoAndReply(t *testing.T) {
	s := newTestSupervisor(t, Spec{Executable: writeScript(t), Probe: &scriptedProbe{answers: []bool{false}}})
	logs := &logRecorder{}
	s.SubscribeLogs(logs.add)

	// nothing running: silently ignored
	s.SendConsoleCommand("status")
	assert.Zero(t, logs.len())

	require.NoError(t, s.Start(nil))
	s.SendConsoleCommand("status")
	require.True(t, waitUntil(2*time.Second, 5*time.Millisecond, func() bool {
		return logs.has(StreamConsole, "> status") && logs.has(StreamStdout, "got status")
	}))
}

func TestPartialFinalLineIsPublished(t *testing.T) {
	s := newTestSupervisor(t, Spec{Executable: writeScript(t), Probe: &scriptedProbe{answers: []bool{false}}})
	logs := &logRecorder{}
	s.SubscribeLogs(logs.add)
	exited := make(chan struct{})
	s.SubscribeExit(func(ExitEvent) { close(exited) })

	require.NoError(t, s.Start(nil))
	s.SendConsoleCommand("partial")
	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatal("no exit event")
	}
	assert.True(t, logs.has(StreamStdout, "no newline"))
}

func TestLaunchFailureReturnsLaunchError(t *testing.T) {
	sink := &memSink{}
	s := newTestSupervisor(t, Spec{
		Executable: filepath.Join(t.TempDir(), "missing-node"),
		Probe:      &scriptedProbe{answers: []bool{true}},
	}, WithHistory(sink))

	err := s.Start([]string{"--testnet"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)
	var le *LaunchError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.Executable, "missing-node")

	assert.False(t, s.Status().Running)
	assert.False(t, s.poller.Running())
	assert.Len(t, sink.of(history.EventLaunchError), 1)
}

func TestDisposeIsIdempotentAndFinal(t *testing.T) {
	s := newTestSupervisor(t, Spec{
		Executable:  writeScript(t),
		StopCommand: "quit",
		Probe:       &scriptedProbe{answers: []bool{true}},
	})
	var events int32
	s.SubscribeExit(func(ExitEvent) { atomic.AddInt32(&events, 1) })

	require.NoError(t, s.Start(nil))
	require.True(t, waitUntil(2*time.Second, 5*time.Millisecond, s.Available))

	s.SubscribeLogs(func(LogEvent) { atomic.AddInt32(&events, 1) })
	before := atomic.LoadInt32(&events)
	s.Dispose()
	s.Dispose()

	assert.Equal(t, before, atomic.LoadInt32(&events), "no events after dispose")
	assert.False(t, s.Available())
	assert.True(t, s.Status().Disposed)
	assert.ErrorIs(t, s.Start(nil), ErrDisposed)
	s.SendConsoleCommand("anything")
	assert.NoError(t, s.Kill())
}

func TestDisposeStopCommandAvoidsKill(t *testing.T) {
	sink := &memSink{}
	s := newTestSupervisor(t, Spec{
		Executable:  writeScript(t),
		StopCommand: "quit",
		StopGrace:   5 * time.Second,
		Probe:       &scriptedProbe{answers: []bool{false}},
	}, WithHistory(sink))
	require.NoError(t, s.Start(nil))

	start := time.Now()
	s.Dispose()
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Empty(t, sink.of(history.EventKill))
	require.Len(t, sink.of(history.EventDispose), 1)
	require.NotNil(t, sink.of(history.EventDispose)[0].ExitCode)
	assert.Equal(t, 0, *sink.of(history.EventDispose)[0].ExitCode)
}

func TestDisposeKillsAfterGrace(t *testing.T) {
	sink := &memSink{}
	s := newTestSupervisor(t, Spec{
		Executable: "sleep",
		StopGrace:  200 * time.Millisecond,
		Probe:      &scriptedProbe{answers: []bool{false}},
	}, WithHistory(sink))
	require.NoError(t, s.Start([]string{"30"}))
	pid := s.Status().PID

	start := time.Now()
	s.Dispose()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)

	kills := sink.of(history.EventKill)
	require.Len(t, kills, 1)
	assert.Equal(t, "grace_expired", kills[0].Detail)
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH)
}

func TestDisposeKillsUnresponsiveProcessImmediately(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process state inspection test runs on Linux")
	}
	sink := &memSink{}
	s := newTestSupervisor(t, Spec{
		Executable: "sleep",
		StopGrace:  10 * time.Second,
		Probe:      &scriptedProbe{answers: []bool{false}},
	}, WithHistory(sink))
	require.NoError(t, s.Start([]string{"30"}))
	pid := s.Status().PID
	require.NoError(t, syscall.Kill(pid, syscall.SIGSTOP))
	require.True(t, waitUntil(2*time.Second, 5*time.Millisecond, func() bool { return !responsive(pid) }))

	start := time.Now()
	s.Dispose()
	assert.Less(t, time.Since(start), 5*time.Second)

	kills := sink.of(history.EventKill)
	require.Len(t, kills, 1)
	assert.Equal(t, "unresponsive", kills[0].Detail)
}

func TestDisposeWaitPolicyLetsProcessFinish(t *testing.T) {
	sink := &memSink{}
	s := newTestSupervisor(t, Spec{
		Executable: "sh",
		KillPolicy: KillPolicyWait,
		Probe:      &scriptedProbe{answers: []bool{false}},
	}, WithHistory(sink))
	require.NoError(t, s.Start([]string{"-c", "sleep 0.3; exit 3"}))

	start := time.Now()
	s.Dispose()
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Empty(t, sink.of(history.EventKill))
	d := sink.of(history.EventDispose)
	require.Len(t, d, 1)
	require.NotNil(t, d[0].ExitCode)
	assert.Equal(t, 3, *d[0].ExitCode)
}

func TestKillTerminatesWithoutWaiting(t *testing.T) {
	s := newTestSupervisor(t, Spec{Executable: "sleep", Probe: &scriptedProbe{answers: []bool{false}}})
	assert.NoError(t, s.Kill())

	exits := make(chan ExitEvent, 1)
	s.SubscribeExit(func(ev ExitEvent) { exits <- ev })
	require.NoError(t, s.Start([]string{"30"}))
	require.NoError(t, s.Kill())

	select {
	case ev := <-exits:
		assert.Equal(t, -1, ev.Code)
	case <-time.After(3 * time.Second):
		t.Fatal("killed process never reported exit")
	}
}

func TestPIDFileLifecycle(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "node.pid")
	s := newTestSupervisor(t, Spec{
		Executable: writeScript(t),
		PIDFile:    pidFile,
		Probe:      &scriptedProbe{answers: []bool{false}},
	})
	require.NoError(t, s.Start(nil))

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(s.Status().PID), strings.TrimSpace(string(data)))

	s.SendConsoleCommand("quit")
	require.True(t, waitUntil(3*time.Second, 10*time.Millisecond, func() bool {
		_, err := os.Stat(pidFile)
		return errors.Is(err, os.ErrNotExist)
	}))
}

func TestConsoleLogFile(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{Name: "daemon-a", Executable: writeScript(t), Probe: &scriptedProbe{answers: []bool{false}}}
	spec.Log.Dir = dir
	s := newTestSupervisor(t, spec)
	require.NoError(t, s.Start([]string{"x"}))
	s.SendConsoleCommand("quit")
	require.True(t, waitUntil(3*time.Second, 10*time.Millisecond, func() bool { return !s.Status().Running }))
	s.Dispose()

	data, err := os.ReadFile(filepath.Join(dir, "daemon-a.console.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[stdout] started x")
	assert.Contains(t, string(data), "[console] > quit")
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	_, err := New(Spec{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executable is required")
	assert.Contains(t, err.Error(), "rpc_port")
}
