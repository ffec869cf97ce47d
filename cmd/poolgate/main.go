// Package main runs the poolgate gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/poolgate/internal/backend"
	"github.com/user/poolgate/internal/config"
	"github.com/user/poolgate/internal/listener"
	"github.com/user/poolgate/internal/metrics"
	"github.com/user/poolgate/internal/proxy"
	"github.com/user/poolgate/internal/sqlconn"
	"github.com/user/poolgate/internal/topology"
)

// Options holds the command-line flags.
type Options struct {
	ConfigPath string
	LogLevel   string
	JSON       bool
	Query      string
	Timeout    time.Duration
}

const (
	exitCheckFailed = 1
	exitError       = 2
)

// Set via ldflags during build.
var version = "dev"

var opts Options

func main() {
	rootCmd := &cobra.Command{
		Use:               "poolgate",
		Short:             "Connection pooling, routing and failover gateway",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           version,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "Path to the yaml config")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "Log in JSON format")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the listeners and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Build the topology and open one handle per route",
		Example: `  poolgate check -c config.yaml
  poolgate check -c config.yaml --query "SELECT 1"`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
	checkCmd.Flags().StringVar(&opts.Query, "query", "", "Probe query to run on SQL routes")
	checkCmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Overall timeout")

	rootCmd.AddCommand(serveCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// current lets SIGHUP swap the topology under live listeners.
type current struct {
	topo atomic.Pointer[topology.Topology]
}

func (c *current) Open(ctx context.Context, route string) (backend.Conn, error) {
	return c.topo.Load().Open(ctx, route)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	topo, err := topology.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}
	var cur current
	cur.topo.Store(topo)
	defer func() {
		if err := cur.topo.Load().Close(); err != nil {
			logger.Warn("close topology", "error", err)
		}
	}()

	if cfg.Metrics.Address != "" {
		srv := metrics.NewServer(cfg.Metrics.Address)
		go func() {
			logger.Info("metrics server listening", "address", cfg.Metrics.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	p := proxy.NewProxy(&cur, logger)
	servers := make([]*listener.Server, 0, len(cfg.Listeners))
	defer func() {
		for _, s := range servers {
			s.Stop()
		}
	}()
	for _, lc := range cfg.Listeners {
		s := listener.NewServer(listener.ListenerConfig{
			Address:        lc.Address,
			Route:          lc.Route,
			ReadOnly:       lc.ReadOnly,
			MaxConnections: lc.MaxConnections,
			ReadTimeout:    lc.ReadTimeout,
			WriteTimeout:   lc.WriteTimeout,
		}, p, logger)
		if err := s.Listen(); err != nil {
			return fmt.Errorf("listen on %s: %w", lc.Address, err)
		}
		servers = append(servers, s)
		go func() {
			if err := s.Serve(); err != nil {
				logger.Error("listener failed", "address", lc.Address, "error", err)
			}
		}()
	}
	logger.Info("poolgate started", "listeners", len(servers), "version", version)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-hup:
			reload(ctx, &cur, logger)
		}
	}
}

// reload rebuilds the topology from the config file and swaps it in. Listener
// changes need a restart.
func reload(ctx context.Context, cur *current, logger *slog.Logger) {
	logger.Info("reloading configuration", "path", opts.ConfigPath)
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.Error("reload failed", "error", err)
		return
	}
	topo, err := topology.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("reload failed", "error", err)
		return
	}
	old := cur.topo.Swap(topo)
	if err := old.Close(); err != nil {
		logger.Warn("close previous topology", "error", err)
	}
	logger.Info("configuration reloaded")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return errWithCode(fmt.Errorf("load config: %w", err), exitError)
	}
	topo, err := topology.Build(ctx, cfg, slog.Default())
	if err != nil {
		return errWithCode(fmt.Errorf("build topology: %w", err), exitCheckFailed)
	}
	defer topo.Close()

	routes := slices.Sorted(maps.Keys(cfg.Routes.Table))
	failed := 0
	for _, route := range routes {
		if err := checkRoute(ctx, topo, route); err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", route, err)
			continue
		}
		fmt.Printf("ok   %s\n", route)
	}
	if failed > 0 {
		return errWithCode(fmt.Errorf("%d of %d routes failed", failed, len(routes)), exitCheckFailed)
	}
	return nil
}

func checkRoute(ctx context.Context, topo *topology.Topology, route string) error {
	c, err := topo.Open(ctx, route)
	if err != nil {
		return err
	}
	if opts.Query == "" {
		return c.Close()
	}

	if sw, ok := c.(sqlconn.Switcher); ok {
		s := sqlconn.NewSession(sw)
		rows, err := s.QueryContext(ctx, opts.Query)
		if err != nil {
			_ = s.Close()
			return fmt.Errorf("probe: %w", err)
		}
		_ = rows.Close()
		return s.Close()
	}

	sc, ok := sqlconn.SQLConn(c)
	if !ok {
		_ = c.Close()
		return fmt.Errorf("probe: %w", sqlconn.ErrNotSQL)
	}
	rows, err := sc.QueryContext(ctx, opts.Query)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("probe: %w", err)
	}
	_ = rows.Close()
	return c.Close()
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error { return e.err }
