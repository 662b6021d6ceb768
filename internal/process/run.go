package process

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// run is one launched process and the resources tied to it.
type run struct {
	cmd     *exec.Cmd
	pid     int
	cmdline string

	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	readers sync.WaitGroup

	startedAt time.Time
	// written by the waiter before exited is closed
	stoppedAt time.Time
	exitCode  int

	// exited closes right after cmd.Wait returns.
	exited chan struct{}
	// settled closes once exit bookkeeping is done, before the exit event
	// is published.
	settled chan struct{}
}

func (r *run) alive() bool {
	select {
	case <-r.exited:
		return false
	default:
		return true
	}
}

// waitExited reports whether the process was reaped within d.
func (r *run) waitExited(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.exited:
		return true
	case <-t.C:
		return false
	}
}

// drainOutput lets readers consume what is still buffered for up to d and
// then closes the read ends. A grandchild holding the write end open would
// otherwise keep the readers blocked forever.
func (r *run) drainOutput(d time.Duration) {
	deadline := time.Now().Add(d)
	_ = r.stdout.SetReadDeadline(deadline)
	_ = r.stderr.SetReadDeadline(deadline)

	done := make(chan struct{})
	go func() {
		r.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d + 50*time.Millisecond):
	}
	closeFiles(r.stdout, r.stderr)
}

// readLines publishes each line from f. A trailing line without a newline is
// published when the stream ends.
func (s *Supervisor) readLines(r *run, f *os.File, stream Stream) {
	defer r.readers.Done()
	br := bufio.NewReader(f)
	for {
		line, err := br.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" || err == nil {
			s.publishLog(LogEvent{Line: line, Stream: stream, Time: time.Now().UTC()})
		}
		if err != nil {
			return
		}
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

func writePIDFile(path string, pid int) {
	if path == "" {
		return
	}
	_ = os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func removePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
