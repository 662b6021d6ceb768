package nodekeeper

import (
	"log/slog"
	"net/http"
	"time"

	cfg "github.com/loykin/nodekeeper/internal/config"
	"github.com/loykin/nodekeeper/internal/history"
	hsqlite "github.com/loykin/nodekeeper/internal/history/sqlite"
	"github.com/loykin/nodekeeper/internal/metrics"
	"github.com/loykin/nodekeeper/internal/process"
	pg "github.com/loykin/nodekeeper/internal/process_group"
	"github.com/loykin/nodekeeper/internal/rpc"
	iapi "github.com/loykin/nodekeeper/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Supervisor = process.Supervisor

type LogEvent = process.LogEvent

type ExitEvent = process.ExitEvent

type Option = process.Option

type Gateway = rpc.Gateway

type Request = rpc.Request

type Response = rpc.Response

type Config = cfg.Config

type HistorySink = history.Sink

type Registry = pg.Registry

const (
	RoleDaemon         = process.RoleDaemon
	RoleAccountManager = process.RoleAccountManager
)

var (
	ErrLaunch         = process.ErrLaunch
	ErrDisposed       = process.ErrDisposed
	ErrAlreadyRunning = process.ErrAlreadyRunning
	ErrUnavailable    = rpc.ErrUnavailable
)

var (
	WithLogger    = process.WithLogger
	WithRegistrar = process.WithRegistrar
	WithHistory   = process.WithHistory
)

// New builds an idle supervisor for spec.
func New(spec Spec, opts ...Option) (*Supervisor, error) { return process.New(spec, opts...) }

// Node pairs a supervisor with the gateway gated on its availability.
type Node struct {
	Supervisor *Supervisor
	Gateway    *Gateway
}

// NodeOptions configures NewNode.
type NodeOptions struct {
	Logger     *slog.Logger
	Registrar  process.Registrar
	History    HistorySink
	RPCTimeout time.Duration
	RPCPath    string // JSON-RPC path, rpc.DefaultJSONRPCPath when empty
}

// NewNode builds a supervisor and an HTTP JSON-RPC gateway for spec.
func NewNode(spec Spec, o NodeOptions) (*Node, error) {
	opts := []Option{process.WithLogger(o.Logger), process.WithRegistrar(o.Registrar)}
	if o.History != nil {
		opts = append(opts, process.WithHistory(o.History))
	}
	sup, err := process.New(spec, opts...)
	if err != nil {
		return nil, err
	}
	s := sup.Spec()
	tr := rpc.NewHTTPTransport(o.RPCTimeout)
	tr.Path = o.RPCPath
	gw := rpc.NewGateway(rpc.Config{Name: s.Name, Host: s.RPCHost, Port: s.RPCPort, Logger: o.Logger}, sup, tr)
	return &Node{Supervisor: sup, Gateway: gw}, nil
}

// NewRegistry returns a process-group registry for orphan cleanup.
func NewRegistry(log *slog.Logger) *Registry { return pg.New(log) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// OpenHistory opens the SQLite history store at dsn.
func OpenHistory(dsn string) (*hsqlite.Sink, error) { return hsqlite.New(dsn) }

// NewHTTPServer exposes nodes over the HTTP API on addr. The caller runs it.
func NewHTTPServer(addr, basePath string, nodes ...*Node) *http.Server {
	ns := make([]iapi.Node, 0, len(nodes))
	for _, n := range nodes {
		ns = append(ns, iapi.Node{Name: n.Supervisor.Spec().Name, Supervisor: n.Supervisor, Gateway: n.Gateway, DefaultArgs: n.Supervisor.Spec().Args})
	}
	return iapi.NewServer(addr, iapi.NewRouter(ns, iapi.Options{BasePath: basePath}))
}

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
