package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultJSONRPCPath is where typed calls are posted.
const DefaultJSONRPCPath = "/json_rpc"

// maxBody caps how much of a reply is read.
const maxBody = 8 << 20

// HTTPTransport speaks JSON-RPC 2.0 over HTTP POST. Raw commands are posted
// to "/<command>" with an empty JSON object body.
type HTTPTransport struct {
	Client *http.Client
	Path   string // typed call path, DefaultJSONRPCPath when empty

	id atomic.Uint64
}

// NewHTTPTransport returns a transport with the given request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

type envelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type reply struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

func (t *HTTPTransport) PostTyped(ctx context.Context, host string, port int, req Request) (Response, error) {
	path := t.Path
	if path == "" {
		path = DefaultJSONRPCPath
	}
	body, err := json.Marshal(envelope{JSONRPC: "2.0", ID: t.id.Add(1), Method: req.Method, Params: req.Params})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	status, data, err := t.post(ctx, endpoint(host, port, path), body)
	if err != nil {
		return Response{}, err
	}
	var rep reply
	if err := json.Unmarshal(data, &rep); err != nil {
		return Response{}, fmt.Errorf("decode reply (status %d): %w", status, err)
	}
	if rep.Error != nil {
		return Response{Error: rep.Error}, nil
	}
	if status/100 != 2 {
		return Response{Error: &Error{Code: status, Message: http.StatusText(status)}}, nil
	}
	return Response{Success: true, Result: rep.Result}, nil
}

func (t *HTTPTransport) PostRaw(ctx context.Context, host string, port int, command string) (RawResponse, error) {
	status, data, err := t.post(ctx, endpoint(host, port, "/"+strings.TrimPrefix(command, "/")), []byte("{}"))
	if err != nil {
		return RawResponse{}, err
	}
	if status/100 != 2 {
		return RawResponse{Status: status, Body: data}, fmt.Errorf("%s: unexpected status %d", command, status)
	}
	return RawResponse{Status: status, Body: data}, nil
}

func (t *HTTPTransport) post(ctx context.Context, url string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read reply: %w", err)
	}
	return resp.StatusCode, data, nil
}

func endpoint(host string, port int, path string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
}
