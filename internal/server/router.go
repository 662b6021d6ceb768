package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/nodekeeper/internal/event"
	"github.com/loykin/nodekeeper/internal/history"
	"github.com/loykin/nodekeeper/internal/metrics"
	"github.com/loykin/nodekeeper/internal/process"
	"github.com/loykin/nodekeeper/internal/rpc"
)

// Router provides embeddable HTTP handlers for supervised nodes.
// Endpoints (every node-scoped one takes ?name=...; it may be omitted when
// exactly one node is mounted):
//
//	GET  {basePath}/status          all nodes, or one with name
//	GET  {basePath}/logs            query: n=100 (recent console lines)
//	POST {basePath}/start           body: {"args": [...]} (optional)
//	POST {basePath}/console         body: {"command": "..."}
//	POST {basePath}/kill
//	POST {basePath}/rpc             body: rpc.Request
//	POST {basePath}/rpc/raw         body: {"command": "..."}
//	GET  {basePath}/history         query: limit=100
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	nodes       map[string]*node
	basePath    string
	metricsPath string
	history     history.Reader
}

// Supervisor is the part of *process.Supervisor the router drives.
type Supervisor interface {
	Status() process.Status
	Start(args []string) error
	SendConsoleCommand(text string)
	Kill() error
	SubscribeLogs(h func(process.LogEvent)) *event.Subscription
}

// Gateway is the part of *rpc.Gateway the router drives.
type Gateway interface {
	Call(ctx context.Context, req rpc.Request) (rpc.Response, error)
	Send(ctx context.Context, command string) error
}

// Node is one supervised process exposed by the router.
type Node struct {
	Name        string
	Supervisor  Supervisor
	Gateway     Gateway // nil disables the rpc endpoints
	DefaultArgs []string
}

type node struct {
	Node
	tail *Tail
	sub  *event.Subscription
}

// Options configures optional router features.
type Options struct {
	BasePath    string
	MetricsPath string         // mounts the Prometheus handler when set
	LogTail     int            // lines kept per node
	History     history.Reader // enables GET /history
}

// NewRouter subscribes to each node's console output and returns a router.
// Close releases the subscriptions.
func NewRouter(nodes []Node, opts Options) *Router {
	r := &Router{
		nodes:       make(map[string]*node, len(nodes)),
		basePath:    sanitizeBase(opts.BasePath),
		metricsPath: opts.MetricsPath,
		history:     opts.History,
	}
	for _, n := range nodes {
		nn := &node{Node: n, tail: NewTail(opts.LogTail)}
		nn.sub = n.Supervisor.SubscribeLogs(nn.tail.Add)
		r.nodes[n.Name] = nn
	}
	return r
}

// Close stops collecting console lines.
func (r *Router) Close() {
	for _, n := range r.nodes {
		n.sub.Unsubscribe()
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metricsPath != "" {
		g.GET(r.metricsPath, gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/logs", r.handleLogs)
	group.POST("/start", r.handleStart)
	group.POST("/console", r.handleConsole)
	group.POST("/kill", r.handleKill)
	group.POST("/rpc", r.handleRPC)
	group.POST("/rpc/raw", r.handleRPCRaw)
	group.GET("/history", r.handleHistory)
	return g
}

// NewServer builds an http.Server for this router; the caller runs it.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// StartRequest is the body of POST /start.
type StartRequest struct {
	Args []string `json:"args"`
}

// ConsoleRequest is the body of POST /console.
type ConsoleRequest struct {
	Command string `json:"command"`
}

// RawRequest is the body of POST /rpc/raw.
type RawRequest struct {
	Command string `json:"command"`
}

// pick resolves ?name=, defaulting to the only node. It writes the error
// response itself and returns nil on failure.
func (r *Router) pick(c *gin.Context) *node {
	name := c.Query("name")
	if name == "" {
		if len(r.nodes) == 1 {
			for _, n := range r.nodes {
				return n
			}
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return nil
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return nil
	}
	n, ok := r.nodes[name]
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown node " + name})
		return nil
	}
	return n
}

func (r *Router) handleStatus(c *gin.Context) {
	if c.Query("name") != "" {
		n := r.pick(c)
		if n == nil {
			return
		}
		writeJSON(c, http.StatusOK, n.Supervisor.Status())
		return
	}
	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]process.Status, 0, len(names))
	for _, name := range names {
		out = append(out, r.nodes[name].Supervisor.Status())
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleLogs(c *gin.Context) {
	n := r.pick(c)
	if n == nil {
		return
	}
	limit := 100
	if s := c.Query("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "n must be a non-negative integer"})
			return
		}
		limit = v
	}
	writeJSON(c, http.StatusOK, n.tail.Last(limit))
}

func (r *Router) handleStart(c *gin.Context) {
	n := r.pick(c)
	if n == nil {
		return
	}
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	args := req.Args
	if args == nil {
		args = n.DefaultArgs
	}
	if err := n.Supervisor.Start(args); err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, process.ErrAlreadyRunning):
			code = http.StatusConflict
		case errors.Is(err, process.ErrDisposed):
			code = http.StatusGone
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, n.Supervisor.Status())
}

func (r *Router) handleConsole(c *gin.Context) {
	n := r.pick(c)
	if n == nil {
		return
	}
	var req ConsoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	n.Supervisor.SendConsoleCommand(req.Command)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleKill(c *gin.Context) {
	n := r.pick(c)
	if n == nil {
		return
	}
	if err := n.Supervisor.Kill(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRPC(c *gin.Context) {
	n := r.pick(c)
	if n == nil {
		return
	}
	if n.Gateway == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "rpc not configured for " + n.Name})
		return
	}
	var req rpc.Request
	if err := c.ShouldBindJSON(&req); err != nil || req.Method == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "body must be {\"method\": ..., \"params\": ...}"})
		return
	}
	resp, err := n.Gateway.Call(c.Request.Context(), req)
	switch {
	case errors.Is(err, rpc.ErrUnavailable):
		writeJSON(c, http.StatusServiceUnavailable, resp)
	case err != nil:
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusOK, resp)
	}
}

func (r *Router) handleRPCRaw(c *gin.Context) {
	n := r.pick(c)
	if n == nil {
		return
	}
	if n.Gateway == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "rpc not configured for " + n.Name})
		return
	}
	var req RawRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "body must be {\"command\": ...}"})
		return
	}
	err := n.Gateway.Send(c.Request.Context(), req.Command)
	switch {
	case errors.Is(err, rpc.ErrUnavailable):
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "history disabled"})
		return
	}
	n := r.pick(c)
	if n == nil {
		return
	}
	limit := 100
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = v
	}
	events, err := r.history.Recent(c.Request.Context(), n.Name, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}
