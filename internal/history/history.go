package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunch      EventType = "launch"
	EventLaunchError EventType = "launch_error"
	EventExit        EventType = "exit"
	EventKill        EventType = "kill"
	EventAvailable   EventType = "available"
	EventUnavailable EventType = "unavailable"
	EventDispose     EventType = "dispose"
)

// Event is one lifecycle transition of a supervised node.
type Event struct {
	Type        EventType `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	PID         int       `json:"pid,omitempty"`
	CommandLine string    `json:"command_line,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader returns stored events, newest first.
type Reader interface {
	Recent(ctx context.Context, name string, limit int) ([]Event, error)
}

// IntPtr is a helper for ExitCode.
func IntPtr(v int) *int { return &v }
