package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/nodekeeper/internal/availability"
	"github.com/loykin/nodekeeper/internal/event"
	"github.com/loykin/nodekeeper/internal/history"
	"github.com/loykin/nodekeeper/internal/metrics"
	"github.com/loykin/nodekeeper/internal/poller"
	"github.com/loykin/nodekeeper/internal/process_group"
)

// Stream tags where a LogEvent line came from.
type Stream string

const (
	StreamStdout  Stream = "stdout"
	StreamStderr  Stream = "stderr"
	StreamConsole Stream = "console" // echoed console command
)

// LogEvent is one captured console line.
type LogEvent struct {
	Line   string    `json:"line"`
	Stream Stream    `json:"stream"`
	Time   time.Time `json:"time"` // UTC
}

// ExitEvent is published when the process exits for a reason other than Dispose.
type ExitEvent struct {
	PID  int       `json:"pid"`
	Code int       `json:"code"` // -1 when terminated by a signal
	Time time.Time `json:"time"`
}

// Registrar tracks launched processes outside the supervisor so they can be
// reaped if this program dies. *process_group.Registry implements it.
type Registrar interface {
	Register(p *os.Process)
	Forget(pid int)
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Name        string    `json:"name"`
	Role        Role      `json:"role"`
	PID         int       `json:"pid,omitempty"`
	Running     bool      `json:"running"`
	Available   bool      `json:"available"`
	Disposed    bool      `json:"disposed"`
	CommandLine string    `json:"command_line,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	StoppedAt   time.Time `json:"stopped_at,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
}

const (
	// outputDrain is how long readers may keep draining after the process exits.
	outputDrain = 250 * time.Millisecond
	// killWait bounds the wait for a killed process to be reaped.
	killWait = 5 * time.Second
	// historyTimeout bounds a single history write.
	historyTimeout = 2 * time.Second
)

// Supervisor owns one node process at a time.
//
// Three asynchronous sources call back into it: the exit waiter, the
// poller's timer and the output readers. They read the disposing latch
// without locking; every publication goes through emitMu, which Dispose also
// takes while setting the latch, so nothing is published once Dispose has
// started. Handlers run on those goroutines and must not call Dispose
// synchronously.
type Supervisor struct {
	spec      Spec
	log       *slog.Logger
	flag      *availability.Flag
	poller    *poller.Poller
	registrar Registrar
	history   history.Sink

	logs  *event.Broker[LogEvent]
	exits *event.Broker[ExitEvent]

	disposing atomic.Bool
	emitMu    sync.Mutex
	console   io.WriteCloser // guarded by emitMu

	mu  sync.Mutex
	cur *run

	lastPID atomic.Int64 // pid of the latest launch, read without mu
}

// Option configures optional collaborators.
type Option func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRegistrar sets the process-group registrar.
func WithRegistrar(r Registrar) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.registrar = r
		}
	}
}

// WithHistory records lifecycle events to sink.
func WithHistory(sink history.Sink) Option {
	return func(s *Supervisor) { s.history = sink }
}

// New validates spec and builds an idle supervisor.
func New(spec Spec, opts ...Option) (*Supervisor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec = spec.WithDefaults()
	s := &Supervisor{
		spec:  spec,
		log:   slog.Default(),
		flag:  availability.NewFlag(),
		logs:  event.NewBroker[LogEvent](),
		exits: event.NewBroker[ExitEvent](),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("node", spec.Name, "role", string(spec.Role))
	if s.registrar == nil {
		s.registrar = process_group.New(s.log)
	}
	s.console = spec.Log.ConsoleWriter(spec.Name)
	s.poller = poller.New(poller.Config{
		Name:    spec.Name,
		DueTime: spec.PollDueTime,
		Period:  spec.PollPeriod,
		Logger:  s.log,
	}, spec.probe(), s.flag)
	s.flag.Subscribe(s.onAvailability)
	return s, nil
}

// Spec returns the immutable configuration.
func (s *Supervisor) Spec() Spec { return s.spec }

// Available reports whether the RPC endpoint was confirmed reachable for
// the current process.
func (s *Supervisor) Available() bool { return s.flag.Available() }

// SubscribeLogs registers h for captured console lines and echoed commands.
func (s *Supervisor) SubscribeLogs(h func(LogEvent)) *event.Subscription {
	return s.logs.Subscribe(h)
}

// SubscribeExit registers h for exits not caused by Dispose.
func (s *Supervisor) SubscribeExit(h func(ExitEvent)) *event.Subscription {
	return s.exits.Subscribe(h)
}

// SubscribeAvailability registers h for availability changes; the argument
// is the new value. Unlike logs and exits, the final change to false made
// by Dispose is still delivered.
func (s *Supervisor) SubscribeAvailability(h func(bool)) *event.Subscription {
	return s.flag.Subscribe(h)
}

// Start launches the executable with args and arms the availability poller.
// A previous, already exited process is released first. Launch failures are
// returned as *LaunchError; nothing is retried.
func (s *Supervisor) Start(args []string) error {
	if s.disposing.Load() {
		return ErrDisposed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		// Dispose moves cur out under mu, so this check cannot go stale.
		if s.disposing.Load() {
			return ErrDisposed
		}
		prev := s.cur
		if prev == nil {
			break
		}
		select {
		case <-prev.exited:
		default:
			return ErrAlreadyRunning
		}
		select {
		case <-prev.settled:
			s.release(prev)
			s.cur = nil
		default:
			// Exit handling publishes through handlers that may need mu.
			s.mu.Unlock()
			<-prev.settled
			s.mu.Lock()
		}
	}

	r, err := s.launch(args)
	metrics.IncLaunch(s.spec.Name, err)
	if err != nil {
		s.log.Error("node launch failed", "executable", s.spec.Executable, "error", err)
		s.record(history.Event{Type: history.EventLaunchError, CommandLine: strings.Join(args, " "), Detail: err.Error()})
		return err
	}
	s.cur = r
	s.lastPID.Store(int64(r.pid))

	s.registrar.Register(r.cmd.Process)
	writePIDFile(s.spec.PIDFile, r.pid)
	s.log.Info("node started", "pid", r.pid, "command_line", r.cmdline)
	s.record(history.Event{Type: history.EventLaunch, PID: r.pid, CommandLine: r.cmdline})

	r.readers.Add(2)
	go s.readLines(r, r.stdout, StreamStdout)
	go s.readLines(r, r.stderr, StreamStderr)
	go s.wait(r)

	s.poller.Arm()
	return nil
}

// SendConsoleCommand echoes "> text" as a log event and writes text to the
// process's stdin. It does nothing when no process is alive. A concurrent
// exit between the liveness check and the write is tolerated; the write
// error is dropped.
func (s *Supervisor) SendConsoleCommand(text string) {
	r := s.current()
	if r == nil || !r.alive() {
		return
	}
	s.publishLog(LogEvent{Line: "> " + text, Stream: StreamConsole, Time: time.Now().UTC()})
	if !r.alive() {
		return
	}
	if _, err := io.WriteString(r.stdin, text+"\n"); err != nil {
		s.log.Debug("console write dropped", "pid", r.pid, "error", err)
	}
}

// Kill force-terminates the live process without waiting for it to exit.
// It is a no-op when nothing is running.
func (s *Supervisor) Kill() error {
	r := s.current()
	if r == nil || !r.alive() {
		return nil
	}
	return s.forceKill(r, "request")
}

// Status returns a snapshot of the current process and availability.
func (s *Supervisor) Status() Status {
	st := Status{
		Name:      s.spec.Name,
		Role:      s.spec.Role,
		Available: s.flag.Available(),
		Disposed:  s.disposing.Load(),
	}
	r := s.current()
	if r == nil {
		return st
	}
	st.PID = r.pid
	st.CommandLine = r.cmdline
	st.StartedAt = r.startedAt
	select {
	case <-r.exited:
		st.StoppedAt = r.stoppedAt
		st.ExitCode = history.IntPtr(r.exitCode)
	default:
		st.Running = true
	}
	return st
}

func (s *Supervisor) current() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// launch builds and starts the command. stdout/stderr go to pipes owned by
// the supervisor so reads are not cut short by cmd.Wait.
func (s *Supervisor) launch(args []string) (*run, error) {
	fail := func(err error) (*run, error) {
		return nil, &LaunchError{Executable: s.spec.Executable, Err: err}
	}
	// #nosec G204 -- executable comes from operator configuration
	cmd := exec.Command(s.spec.Executable, args...)
	cmd.Dir = s.spec.WorkDir
	if len(s.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), s.spec.Env...)
	}
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return fail(err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeFiles(outR, outW)
		return fail(err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeFiles(outR, outW, errR, errW)
		return fail(err)
	}
	// the child holds its own copies of the write ends
	closeFiles(outW, errW)

	return &run{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		cmdline:   strings.Join(args, " "),
		stdin:     stdin,
		stdout:    outR,
		stderr:    errR,
		startedAt: time.Now().UTC(),
		exited:    make(chan struct{}),
		settled:   make(chan struct{}),
	}, nil
}

// wait is the single cmd.Wait caller for r.
func (s *Supervisor) wait(r *run) {
	err := r.cmd.Wait()
	r.exitCode = exitCode(r.cmd, err)
	r.stoppedAt = time.Now().UTC()
	close(r.exited)

	if s.disposing.Load() {
		close(r.settled)
		return
	}
	s.handleExit(r)
}

// handleExit runs on the waiter goroutine after a spontaneous exit.
func (s *Supervisor) handleExit(r *run) {
	// A dead endpoint is never polled again until the next Start. Stopping
	// first keeps an in-flight probe from flipping the flag back on.
	s.poller.Stop()
	s.flag.Set(false)
	r.drainOutput(outputDrain)

	metrics.IncExit(s.spec.Name, r.exitCode)
	s.registrar.Forget(r.pid)
	removePIDFile(s.spec.PIDFile)
	s.log.Info("node exited", "pid", r.pid, "exit_code", r.exitCode)
	s.record(history.Event{Type: history.EventExit, PID: r.pid, ExitCode: history.IntPtr(r.exitCode)})
	close(r.settled)

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.disposing.Load() {
		return
	}
	s.exits.Publish(ExitEvent{PID: r.pid, Code: r.exitCode, Time: r.stoppedAt})
}

func (s *Supervisor) onAvailability(v bool) {
	metrics.SetAvailable(s.spec.Name, v)
	typ := history.EventUnavailable
	if v {
		typ = history.EventAvailable
	}
	s.record(history.Event{Type: typ, PID: int(s.lastPID.Load())})
}

// publishLog delivers ev unless Dispose has begun.
func (s *Supervisor) publishLog(ev LogEvent) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.disposing.Load() {
		return
	}
	if s.console != nil {
		_, _ = fmt.Fprintf(s.console, "%s [%s] %s\n", ev.Time.Format(time.RFC3339Nano), ev.Stream, ev.Line)
	}
	metrics.IncConsoleLine(s.spec.Name, string(ev.Stream))
	s.logs.Publish(ev)
}

func (s *Supervisor) forceKill(r *run, reason string) error {
	err := process_group.KillTree(r.cmd.Process)
	if err != nil && !isProcessGone(err) {
		s.log.Warn("kill failed", "pid", r.pid, "reason", reason, "error", err)
		return err
	}
	metrics.IncKill(s.spec.Name, reason)
	s.log.Warn("node killed", "pid", r.pid, "reason", reason)
	s.record(history.Event{Type: history.EventKill, PID: r.pid, Detail: reason})
	return nil
}

func (s *Supervisor) record(e history.Event) {
	if s.history == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	e.Name = s.spec.Name
	e.Role = string(s.spec.Role)
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.history.Send(ctx, e); err != nil {
		s.log.Warn("history write failed", "event", e.Type, "error", err)
	}
}

// release drops everything tied to an exited run.
func (s *Supervisor) release(r *run) {
	_ = r.stdin.Close()
	closeFiles(r.stdout, r.stderr)
	s.registrar.Forget(r.pid)
	removePIDFile(s.spec.PIDFile)
}

func closeFiles(fs ...*os.File) {
	for _, f := range fs {
		if f != nil {
			_ = f.Close()
		}
	}
}
