package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrUnavailable is returned when the node's RPC endpoint is not yet reachable.
var ErrUnavailable = errors.New("node rpc not available")

// Client talks to the nodekeeper HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the supervisor API is up.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("supervisor unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns every node, or just name when set.
func (c *Client) Status(ctx context.Context, name string) ([]NodeStatus, error) {
	if name == "" {
		var out []NodeStatus
		return out, c.do(ctx, http.MethodGet, c.url("/status", nil), nil, &out)
	}
	var st NodeStatus
	if err := c.do(ctx, http.MethodGet, c.url("/status", url.Values{"name": {name}}), nil, &st); err != nil {
		return nil, err
	}
	return []NodeStatus{st}, nil
}

// Start launches the node; nil args use the configured defaults.
func (c *Client) Start(ctx context.Context, name string, args []string) (NodeStatus, error) {
	var st NodeStatus
	body := map[string][]string{"args": args}
	return st, c.do(ctx, http.MethodPost, c.url("/start", named(name)), body, &st)
}

// Console writes a command line to the node's console.
func (c *Client) Console(ctx context.Context, name, command string) error {
	return c.do(ctx, http.MethodPost, c.url("/console", named(name)), map[string]string{"command": command}, nil)
}

// Kill force-terminates the node.
func (c *Client) Kill(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, c.url("/kill", named(name)), nil, nil)
}

// Logs returns up to n recent console lines.
func (c *Client) Logs(ctx context.Context, name string, n int) ([]LogLine, error) {
	q := named(name)
	q.Set("n", strconv.Itoa(n))
	var out []LogLine
	return out, c.do(ctx, http.MethodGet, c.url("/logs", q), nil, &out)
}

// History returns up to limit lifecycle events, newest first.
func (c *Client) History(ctx context.Context, name string, limit int) ([]HistoryEvent, error) {
	q := named(name)
	q.Set("limit", strconv.Itoa(limit))
	var out []HistoryEvent
	return out, c.do(ctx, http.MethodGet, c.url("/history", q), nil, &out)
}

// Call performs a typed RPC call through the supervisor. When the node is
// not yet available the returned envelope is populated and the error is
// ErrUnavailable.
func (c *Client) Call(ctx context.Context, name, method string, params json.RawMessage) (RPCResponse, error) {
	body := map[string]any{"method": method}
	if len(params) > 0 {
		body["params"] = params
	}
	var out RPCResponse
	err := c.do(ctx, http.MethodPost, c.url("/rpc", named(name)), body, &out)
	return out, err
}

// Send issues a raw RPC command and discards the reply.
func (c *Client) Send(ctx context.Context, name, command string) error {
	return c.do(ctx, http.MethodPost, c.url("/rpc/raw", named(name)), map[string]string{"command": command}, nil)
}

func named(name string) url.Values {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	return q
}

func (c *Client) url(path string, q url.Values) string {
	if len(q) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + q.Encode()
}

// do sends body as JSON and decodes a 200 reply into out. A 503 reply is
// decoded too and reported as ErrUnavailable.
func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case http.StatusServiceUnavailable:
		if out != nil {
			_ = json.NewDecoder(resp.Body).Decode(out)
		}
		return ErrUnavailable
	default:
		return c.handleErrorResponse(resp)
	}
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error (%d): %s", resp.StatusCode, errorResp.Error)
}
