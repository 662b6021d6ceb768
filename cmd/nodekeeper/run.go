package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/nodekeeper/internal/config"
	hsqlite "github.com/loykin/nodekeeper/internal/history/sqlite"
	"github.com/loykin/nodekeeper/internal/logger"
	"github.com/loykin/nodekeeper/internal/metrics"
	"github.com/loykin/nodekeeper/internal/process"
	pg "github.com/loykin/nodekeeper/internal/process_group"
	"github.com/loykin/nodekeeper/internal/rpc"
	"github.com/loykin/nodekeeper/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// RunFlags holds flags for the run command.
type RunFlags struct {
	Roles      []string
	ExitOnExit bool
}

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [-- node args...]",
		Short: "Supervise nodes in the foreground",
		Long: `Launch the configured nodes and serve the HTTP API until interrupted.
Arguments after -- replace the configured args of every started node.

Examples:
  nodekeeper run --config nodekeeper.toml
  nodekeeper run --role daemon --role account_manager
  nodekeeper run --role daemon -- --testnet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			var override []string
			if cmd.ArgsLenAtDash() >= 0 {
				override = args[cmd.ArgsLenAtDash():]
			}
			return runNodes(ctx, global.ConfigPath, *flags, override, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringSliceVar(&flags.Roles, "role", []string{string(process.RoleDaemon)}, "roles to supervise: daemon, account_manager")
	cmd.Flags().BoolVar(&flags.ExitOnExit, "exit-on-node-exit", false, "stop supervising when any node exits by itself")
	return cmd
}

// supervised is one running node inside runNodes.
type supervised struct {
	sup *process.Supervisor
	gw  *rpc.Gateway
}

func runNodes(ctx context.Context, cfgPath string, flags RunFlags, override []string, stderr io.Writer) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	fileCfg := &logger.Config{
		Dir:        cfg.Log.Dir,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
	if cfg.Log.Dir == "" {
		fileCfg = nil
	}
	log, logCloser, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: stderr, File: fileCfg})
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	var hist *hsqlite.Sink
	if cfg.History.Enabled {
		if hist, err = hsqlite.New(cfg.History.DSN); err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer func() { _ = hist.Close() }()
	}

	registry := pg.New(log)
	defer func() {
		if err := registry.TerminateAll(); err != nil {
			log.Warn("orphan cleanup failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var nodes []supervised
	defer func() { disposeAll(log, nodes) }()
	for _, r := range flags.Roles {
		role, err := process.ParseRole(r)
		if err != nil {
			return err
		}
		spec, err := cfg.Spec(role)
		if err != nil {
			return err
		}
		opts := []process.Option{process.WithLogger(log), process.WithRegistrar(registry)}
		if hist != nil {
			opts = append(opts, process.WithHistory(hist))
		}
		sup, err := process.New(spec, opts...)
		if err != nil {
			return err
		}
		tr := rpc.NewHTTPTransport(cfg.RPC.Timeout)
		tr.Path = cfg.RPC.Path
		gw := rpc.NewGateway(rpc.Config{Name: spec.Name, Host: spec.RPCHost, Port: spec.RPCPort, Logger: log}, sup, tr)
		nodes = append(nodes, supervised{sup: sup, gw: gw})

		sup.SubscribeExit(func(ev process.ExitEvent) {
			log.Warn("node exited on its own", "node", spec.Name, "exit_code", ev.Code)
			if flags.ExitOnExit {
				cancel()
			}
		})
		sup.SubscribeAvailability(func(up bool) {
			log.Info("node availability changed", "node", spec.Name, "available", up)
		})

		args := spec.Args
		if override != nil {
			args = override
		}
		if err := sup.Start(args); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Enabled {
		apiNodes := make([]server.Node, 0, len(nodes))
		for _, n := range nodes {
			spec := n.sup.Spec()
			apiNodes = append(apiNodes, server.Node{Name: spec.Name, Supervisor: n.sup, Gateway: n.gw, DefaultArgs: spec.Args})
		}
		opts := server.Options{BasePath: cfg.Server.BasePath, LogTail: cfg.Server.LogTail}
		if cfg.Metrics.Enabled {
			opts.MetricsPath = cfg.Metrics.Path
		}
		if hist != nil {
			opts.History = hist
		}
		router := server.NewRouter(apiNodes, opts)
		defer router.Close()
		srv := server.NewServer(cfg.Server.Listen, router)

		g.Go(func() error {
			log.Info("api listening", "addr", cfg.Server.Listen, "base", cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	err = g.Wait()
	log.Info("shutting down")
	return err
}

// disposeAll disposes every node concurrently.
func disposeAll(log *slog.Logger, nodes []supervised) {
	var g errgroup.Group
	for _, n := range nodes {
		g.Go(func() error {
			spec := n.sup.Spec()
			if spec.KillPolicy == process.KillPolicyTerminate {
				log.Info("disposing node", "node", spec.Name, "up_to", n.sup.DisposeTimeout().String())
			}
			n.sup.Dispose()
			log.Info("node disposed", "node", n.sup.Spec().Name)
			return nil
		})
	}
	_ = g.Wait()
}
