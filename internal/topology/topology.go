// Package topology turns a config.Config into a running graph of providers:
// drivers at the leaves, pools above them, then clusters, balancers and rings,
// and a keyed router on top that listeners acquire handles from.
package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/user/poolgate/internal/backend"
	"github.com/user/poolgate/internal/balance"
	"github.com/user/poolgate/internal/cluster"
	"github.com/user/poolgate/internal/config"
	"github.com/user/poolgate/internal/failover"
	"github.com/user/poolgate/internal/metrics"
	"github.com/user/poolgate/internal/pool"
	"github.com/user/poolgate/internal/redisconn"
	"github.com/user/poolgate/internal/router"
	"github.com/user/poolgate/internal/sqlconn"
	"github.com/user/poolgate/internal/tcpconn"
)

type Topology struct {
	root       *slog.Logger
	logger     *slog.Logger
	router     *router.Keyed[string]
	components map[string]backend.Provider
	closers    []func() error
}

// Build opens every configured pool and wires the graph. On error whatever
// was already opened is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Topology, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Topology{
		root:       logger,
		logger:     logger.With("component", "topology"),
		components: make(map[string]backend.Provider),
	}
	defer func() {
		if err != nil {
			_ = t.Close()
		}
	}()

	for _, b := range cfg.Backends {
		p, err := t.buildBackend(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", b.Name, err)
		}
		t.components[b.Name] = p
	}

	for _, c := range cfg.Clusters {
		slaves := make([]backend.Provider, len(c.Slaves))
		for i, s := range c.Slaves {
			slaves[i] = t.components[s]
		}
		ms, err := cluster.NewMasterSlave(t.components[c.Master], slaves, t.failoverOptions(c.Name, c.Failover)...)
		if err != nil {
			return nil, fmt.Errorf("cluster %q: %w", c.Name, err)
		}
		t.components[c.Name] = ms
	}

	for _, g := range cfg.Balancers {
		lb, err := balance.New(t.members(g.Members), nil)
		if err != nil {
			return nil, fmt.Errorf("balancer %q: %w", g.Name, err)
		}
		t.components[g.Name] = lb
	}

	for _, r := range cfg.Rings {
		ring, err := failover.NewRing(t.members(r.Members), t.failoverOptions(r.Name, r.Failover)...)
		if err != nil {
			return nil, fmt.Errorf("ring %q: %w", r.Name, err)
		}
		t.components[r.Name] = ring
	}

	table := make(map[string]backend.Provider, len(cfg.Routes.Table))
	for key, target := range cfg.Routes.Table {
		table[key] = t.components[target]
	}
	var def backend.Provider
	if cfg.Routes.Default != "" {
		def = t.components[cfg.Routes.Default]
	}
	t.router = router.NewKeyed(table, def, nil,
		router.WithFallbackHook(func(key string, cause error) {
			metrics.IncRoutingFallbacks()
			t.logger.Debug("route fell back to default", "key", key, "cause", cause)
		}))

	t.logger.Info("topology built",
		"backends", len(cfg.Backends),
		"clusters", len(cfg.Clusters),
		"balancers", len(cfg.Balancers),
		"rings", len(cfg.Rings),
		"routes", len(table))
	return t, nil
}

func (t *Topology) members(names []string) []backend.Provider {
	ps := make([]backend.Provider, len(names))
	for i, n := range names {
		ps[i] = t.components[n]
	}
	return ps
}

func (t *Topology) failoverOptions(name string, f config.FailoverConfig) []failover.Option {
	logger := t.logger.With("ring", name)
	opts := []failover.Option{
		failover.WithLoopDetection(f.Enabled()),
		failover.WithFailoverHook(func(from, to int, err error) {
			metrics.IncFailovers()
			logger.Warn("failing over", "from", from, "to", to, "error", err)
		}),
	}
	if f.LogSuppressed {
		opts = append(opts, failover.WithSuppressedLogging(t.root.With("ring", name)))
	}
	return opts
}

func (t *Topology) buildBackend(ctx context.Context, b config.BackendConfig) (backend.Provider, error) {
	defaults, err := b.Defaults.Settings()
	if err != nil {
		return nil, err
	}

	var base backend.Provider
	switch b.Driver {
	case config.DriverTCP:
		base = tcpconn.NewProvider(b.DSN, b.DialTimeout)
	case config.DriverMySQL, config.DriverPostgres:
		p, err := sqlconn.Connect(b.Driver, b.DSN)
		if err != nil {
			return nil, err
		}
		t.closers = append(t.closers, p.Close)
		base = p
	case config.DriverRedis:
		p, err := redisconn.Connect(b.DSN)
		if err != nil {
			return nil, err
		}
		t.closers = append(t.closers, p.Close)
		base = p
	default:
		return nil, fmt.Errorf("unknown driver %q", b.Driver)
	}
	if defaults != backend.DefaultSettings {
		base = withDefaults(base, defaults)
	}

	opts := []pool.Option{
		pool.WithName(b.Name),
		pool.WithDefaults(defaults),
		pool.WithLogger(t.root),
		pool.WithIdleTimeout(b.Pool.IdleTimeout),
		pool.WithBorrowTimeout(b.Pool.BorrowTimeout),
	}
	var p pool.Pool
	switch b.Pool.Kind {
	case config.PoolNone:
		return base, nil
	case config.PoolFixed:
		p, err = pool.NewFixed(ctx, base, b.Pool.Size, opts...)
	case config.PoolElastic:
		p, err = pool.NewElastic(ctx, base, b.Pool.InitialSize, b.Pool.MaxSize, opts...)
	default:
		return nil, fmt.Errorf("unknown pool kind %q", b.Pool.Kind)
	}
	if err != nil {
		return nil, err
	}

	unregister := metrics.RegisterPool(b.Name, p.Stats)
	t.closers = append(t.closers, func() error {
		unregister()
		return p.Close()
	})
	return pool.NewRouter(p), nil
}

// withDefaults applies s to every connection p opens, so pooled connections
// start out the way Return leaves them.
func withDefaults(p backend.Provider, s backend.Settings) backend.Provider {
	return backend.ProviderFunc(func(ctx context.Context) (backend.Conn, error) {
		c, err := p.Open(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Apply(s); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("apply session defaults: %w", err)
		}
		return c, nil
	})
}

// Open acquires a handle from whatever the route key resolves to.
func (t *Topology) Open(ctx context.Context, route string) (backend.Conn, error) {
	c, err := t.router.Open(router.WithKey(ctx, route))
	if err != nil {
		metrics.IncAcquireErrors()
		return nil, err
	}
	metrics.IncAcquires()
	return c, nil
}

// Provider returns the named backend, cluster, balancer or ring.
func (t *Topology) Provider(name string) (backend.Provider, bool) {
	p, ok := t.components[name]
	return p, ok
}

// Names lists every component name in sorted order.
func (t *Topology) Names() []string {
	names := make([]string, 0, len(t.components))
	for n := range t.components {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Close closes pools before the drivers beneath them.
func (t *Topology) Close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	t.closers = nil
	return errors.Join(errs...)
}
