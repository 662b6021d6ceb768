package availability

import (
	"sync/atomic"

	"github.com/loykin/nodekeeper/internal/event"
)

// Flag reports whether the supervised RPC endpoint is reachable.
// Reads and writes are atomic; observers are notified only when the value
// actually changes.
type Flag struct {
	v       atomic.Bool
	changed *event.Broker[bool]
}

// NewFlag returns a flag that starts unavailable.
func NewFlag() *Flag {
	return &Flag{changed: event.NewBroker[bool]()}
}

// Available returns the current value.
func (f *Flag) Available() bool { return f.v.Load() }

// Set stores v and reports whether it differed from the previous value.
// Concurrent setters race on Swap, so each real transition publishes once.
func (f *Flag) Set(v bool) bool {
	if f.v.Swap(v) == v {
		return false
	}
	f.changed.Publish(v)
	return true
}

// Subscribe registers h for change notifications. The argument is the new value.
func (f *Flag) Subscribe(h func(bool)) *event.Subscription {
	return f.changed.Subscribe(h)
}
