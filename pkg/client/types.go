package client

import (
	"encoding/json"
	"time"
)

// NodeStatus is the status of one supervised node.
type NodeStatus struct {
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	PID         int       `json:"pid,omitempty"`
	Running     bool      `json:"running"`
	Available   bool      `json:"available"`
	Disposed    bool      `json:"disposed"`
	CommandLine string    `json:"command_line,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	StoppedAt   time.Time `json:"stopped_at,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
}

// LogLine is one captured console line.
type LogLine struct {
	Line   string    `json:"line"`
	Stream string    `json:"stream"`
	Time   time.Time `json:"time"`
}

// HistoryEvent is one stored lifecycle event.
type HistoryEvent struct {
	Type        string    `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	PID         int       `json:"pid,omitempty"`
	CommandLine string    `json:"command_line,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCResponse is the envelope returned by POST /rpc. It is also returned,
// with Success false, when the node is not yet available.
type RPCResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
