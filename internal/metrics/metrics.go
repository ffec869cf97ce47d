package metrics

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/user/poolgate/internal/pool"
)

type Metrics struct {
	ActiveClientConnections int64
	Acquires                int64
	AcquireErrors           int64
	Failovers               int64
	RoutingFallbacks        int64
}

var (
	GlobalMetrics = &Metrics{}
	pools         = xsync.NewMap[string, *poolEntry]()
)

type poolEntry struct {
	stats func() pool.Stats
}

func IncActiveConnections() {
	atomic.AddInt64(&GlobalMetrics.ActiveClientConnections, 1)
}

func DecActiveConnections() {
	atomic.AddInt64(&GlobalMetrics.ActiveClientConnections, -1)
}

func IncAcquires() {
	atomic.AddInt64(&GlobalMetrics.Acquires, 1)
}

func IncAcquireErrors() {
	atomic.AddInt64(&GlobalMetrics.AcquireErrors, 1)
}

func IncFailovers() {
	atomic.AddInt64(&GlobalMetrics.Failovers, 1)
}

func IncRoutingFallbacks() {
	atomic.AddInt64(&GlobalMetrics.RoutingFallbacks, 1)
}

// RegisterPool exposes a pool's Stats under name, replacing any earlier
// registration with the same name. The returned func removes the series only
// while this registration still owns the name.
func RegisterPool(name string, stats func() pool.Stats) (unregister func()) {
	e := &poolEntry{stats: stats}
	pools.Store(name, e)
	return func() {
		pools.Compute(name, func(old *poolEntry, loaded bool) (*poolEntry, xsync.ComputeOp) {
			if !loaded || old != e {
				return old, xsync.CancelOp
			}
			return nil, xsync.DeleteOp
		})
	}
}

func counter(w io.Writer, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}

func gauge(w io.Writer, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}

// WriteText writes every metric in the Prometheus text format.
func WriteText(w io.Writer) {
	gauge(w, "poolgate_active_client_connections", "Current number of active client connections",
		atomic.LoadInt64(&GlobalMetrics.ActiveClientConnections))
	counter(w, "poolgate_acquires_total", "Total number of backend handles acquired",
		atomic.LoadInt64(&GlobalMetrics.Acquires))
	counter(w, "poolgate_acquire_errors_total", "Total number of failed handle acquisitions",
		atomic.LoadInt64(&GlobalMetrics.AcquireErrors))
	counter(w, "poolgate_failovers_total", "Total number of times a ring moved past a failed node",
		atomic.LoadInt64(&GlobalMetrics.Failovers))
	counter(w, "poolgate_routing_fallbacks_total", "Total number of requests sent to the default route",
		atomic.LoadInt64(&GlobalMetrics.RoutingFallbacks))

	var names []string
	pools.Range(func(name string, _ *poolEntry) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)

	series := []struct {
		name, help, kind string
		value            func(pool.Stats) int64
	}{
		{"poolgate_pool_idle", "Idle connections held by the pool", "gauge",
			func(s pool.Stats) int64 { return int64(s.Idle) }},
		{"poolgate_pool_in_use", "Connections currently borrowed from the pool", "gauge",
			func(s pool.Stats) int64 { return int64(s.InUse) }},
		{"poolgate_pool_opened_total", "Connections opened by the pool", "counter",
			func(s pool.Stats) int64 { return s.Opened }},
		{"poolgate_pool_closed_total", "Connections closed by the pool", "counter",
			func(s pool.Stats) int64 { return s.Closed }},
	}
	stats := make(map[string]pool.Stats, len(names))
	for _, name := range names {
		if e, ok := pools.Load(name); ok {
			stats[name] = e.stats()
		}
	}
	for _, m := range series {
		fmt.Fprintf(w, "# HELP %s %s\n", m.name, m.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", m.name, m.kind)
		for _, name := range names {
			s, ok := stats[name]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s{pool=%q} %d\n", m.name, name, m.value(s))
		}
	}
}

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		WriteText(w)
	})
}

// NewServer returns an http.Server serving /metrics on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
