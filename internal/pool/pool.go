// Package pool keeps idle backend connections for reuse. Fixed pools hold an
// exact number of connections and block borrowers when all are in use;
// elastic pools open on demand and cap only what they keep idle.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/user/poolgate/internal/backend"
)

// Pool is a set of idle connections drawn from one backend.Provider.
type Pool interface {
	Borrow(ctx context.Context) (backend.Conn, error)
	Return(c backend.Conn) error
	Close() error
	Stats() Stats
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Idle   int
	InUse  int
	Opened int64
	Closed int64
}

type options struct {
	name          string
	defaults      backend.Settings
	logger        *slog.Logger
	idleTimeout   time.Duration
	borrowTimeout time.Duration
}

// Option configures a pool.
type Option func(*options)

// WithName labels the pool in logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDefaults sets the session defaults restored on Return.
func WithDefaults(s backend.Settings) Option {
	return func(o *options) { o.defaults = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIdleTimeout closes idle connections unused for longer than d.
// Only elastic pools reap.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithBorrowTimeout bounds how long a fixed pool Borrow waits. Zero waits
// until the caller's context is done.
func WithBorrowTimeout(d time.Duration) Option {
	return func(o *options) { o.borrowTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{
		name:     "pool",
		defaults: backend.DefaultSettings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "pool", "pool", o.name)
	return o
}

// openErr classifies a provider failure: a done context is a cancellation,
// anything else means the backend could not be reached.
func openErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return backend.Wrap(backend.Cancelled, op, err)
	}
	return backend.Wrap(backend.BackendUnavailable, op, err)
}

// waitErr maps an abandoned wait on a fixed pool to an error kind.
func waitErr(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return backend.Wrap(backend.PoolExhausted, "pool: borrow", err)
	}
	return backend.Wrap(backend.Cancelled, "pool: borrow", err)
}

// prefill opens n connections, closing them all again if any open fails.
func prefill(ctx context.Context, p backend.Provider, n int) ([]backend.Conn, error) {
	conns := make([]backend.Conn, 0, n)
	for i := 0; i < n; i++ {
		c, err := p.Open(ctx)
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			return nil, openErr(ctx, "pool: prefill", err)
		}
		conns = append(conns, c)
	}
	return conns, nil
}

var errPoolClosed = errors.New("pool is closed")
