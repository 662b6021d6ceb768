package server

import (
	"sync"

	"github.com/loykin/nodekeeper/internal/process"
)

// Tail keeps the most recent console lines of one node.
type Tail struct {
	mu    sync.RWMutex
	lines []process.LogEvent
	max   int
}

// NewTail returns a ring holding up to size lines (default 500).
func NewTail(size int) *Tail {
	if size <= 0 {
		size = 500
	}
	return &Tail{lines: make([]process.LogEvent, 0, size), max: size}
}

// Add appends ev, dropping the oldest line when full.
func (t *Tail) Add(ev process.LogEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) >= t.max {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:len(t.lines)-1]
	}
	t.lines = append(t.lines, ev)
}

// Last returns up to n of the newest lines, oldest first. n <= 0 means all.
func (t *Tail) Last(n int) []process.LogEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := 0
	if n > 0 && n < len(t.lines) {
		start = len(t.lines) - n
	}
	out := make([]process.LogEvent, len(t.lines)-start)
	copy(out, t.lines[start:])
	return out
}
