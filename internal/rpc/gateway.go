package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/nodekeeper/internal/metrics"
)

// Transport performs the actual request/response exchange. Implementations
// own the wire format; the gateway only looks at errors.
type Transport interface {
	PostTyped(ctx context.Context, host string, port int, req Request) (Response, error)
	PostRaw(ctx context.Context, host string, port int, command string) (RawResponse, error)
}

// Availability reports whether the endpoint is reachable.
// *availability.Flag and *process.Supervisor satisfy it.
type Availability interface {
	Available() bool
}

// Config identifies the endpoint behind a gateway.
type Config struct {
	Name   string // metrics label
	Host   string
	Port   int
	Logger *slog.Logger
}

// Gateway forwards calls to a Transport only while the endpoint is available.
type Gateway struct {
	name      string
	host      string
	port      int
	avail     Availability
	transport Transport
	log       *slog.Logger
}

// NewGateway builds a gateway for cfg.Host:cfg.Port.
func NewGateway(cfg Config, avail Availability, t Transport) *Gateway {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{name: cfg.Name, host: cfg.Host, port: cfg.Port, avail: avail, transport: t, log: log}
}

// Available reports the current gate state.
func (g *Gateway) Available() bool { return g.avail.Available() }

// Call sends a typed request. While unavailable it returns
// UnavailableResponse and ErrUnavailable without touching the transport.
// Otherwise the transport's response and error come back unchanged.
func (g *Gateway) Call(ctx context.Context, req Request) (Response, error) {
	if !g.avail.Available() {
		metrics.IncRPCCall(g.name, "typed", "unavailable")
		return UnavailableResponse(), ErrUnavailable
	}
	start := time.Now()
	resp, err := g.transport.PostTyped(ctx, g.host, g.port, req)
	g.observe("typed", start, err)
	if err != nil {
		g.log.Debug("rpc call failed", "method", req.Method, "error", err)
	}
	return resp, err
}

// Send issues a raw command and discards the reply.
func (g *Gateway) Send(ctx context.Context, command string) error {
	if !g.avail.Available() {
		metrics.IncRPCCall(g.name, "raw", "unavailable")
		return ErrUnavailable
	}
	start := time.Now()
	_, err := g.transport.PostRaw(ctx, g.host, g.port, command)
	g.observe("raw", start, err)
	if err != nil {
		g.log.Debug("rpc command failed", "command", command, "error", err)
	}
	return err
}

// CallInto performs Call and decodes a successful result into T.
func CallInto[T any](ctx context.Context, g *Gateway, req Request) (T, Response, error) {
	var out T
	resp, err := g.Call(ctx, req)
	if err != nil {
		return out, resp, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, resp, err
	}
	return out, resp, nil
}

func (g *Gateway) observe(shape string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.IncRPCCall(g.name, shape, result)
	metrics.ObserveRPCDuration(g.name, shape, time.Since(start).Seconds())
}
