package process

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunch matches every *LaunchError via errors.Is.
	ErrLaunch = errors.New("launch failed")
	// ErrDisposed is returned by Start after Dispose.
	ErrDisposed = errors.New("supervisor disposed")
	// ErrAlreadyRunning is returned by Start while the previous process is alive.
	ErrAlreadyRunning = errors.New("process already running")
)

// LaunchError wraps the OS error returned when the executable cannot start.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{ErrLaunch, e.Err} }
