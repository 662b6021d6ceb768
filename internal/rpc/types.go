package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CodeUnavailable is the error code of the envelope returned while the
// endpoint has not been confirmed reachable. It sits in the JSON-RPC
// implementation-defined server error range.
const CodeUnavailable = -32099

// ErrUnavailable is returned with UnavailableResponse when a call is gated.
var ErrUnavailable = errors.New("rpc endpoint not available")

// Request is a JSON-RPC method call.
type Request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Response is the structured reply of a typed call. Callers check Success
// and never need to nil-check the envelope itself.
type Response struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// RawResponse is the reply of a raw command.
type RawResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body,omitempty"`
}

// UnavailableResponse is the well-formed failure returned while gated.
func UnavailableResponse() Response {
	return Response{Error: &Error{Code: CodeUnavailable, Message: ErrUnavailable.Error()}}
}

// Decode unmarshals Result into v.
func (r Response) Decode(v any) error {
	if !r.Success {
		if r.Error != nil {
			return r.Error
		}
		return errors.New("rpc call failed")
	}
	if len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
