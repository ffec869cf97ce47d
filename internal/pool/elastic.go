package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/poolgate/internal/backend"
)

type idleConn struct {
	conn     backend.Conn
	lastUsed time.Time
}

// Elastic never blocks a borrower: it hands out an idle connection if it has
// one and opens a new one otherwise. At most max connections are kept idle;
// surplus returns are closed.
type Elastic struct {
	provider backend.Provider
	opts     options
	max      int

	mu     sync.Mutex
	idle   []idleConn
	closed bool

	opened atomic.Int64
	freed  atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// minReapInterval bounds how often the idle reaper wakes up.
const minReapInterval = time.Millisecond

// NewElastic opens initial connections up front and keeps at most maxIdle
// of them idle.
func NewElastic(ctx context.Context, provider backend.Provider, initial, maxIdle int, opts ...Option) (*Elastic, error) {
	if initial < 0 || maxIdle <= 0 || initial > maxIdle {
		return nil, fmt.Errorf("invalid pool size config: initial=%d, max=%d", initial, maxIdle)
	}
	if provider == nil {
		return nil, errors.New("provider must not be nil")
	}

	p := &Elastic{
		provider: provider,
		opts:     buildOptions(opts),
		max:      maxIdle,
		idle:     make([]idleConn, 0, maxIdle),
		stop:     make(chan struct{}),
	}

	conns, err := prefill(ctx, provider, initial)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, c := range conns {
		p.idle = append(p.idle, idleConn{conn: c, lastUsed: now})
	}
	p.opened.Add(int64(len(conns)))

	if p.opts.idleTimeout > 0 {
		p.wg.Add(1)
		go p.cleanupIdleConnections()
	}
	return p, nil
}

func (p *Elastic) Borrow(ctx context.Context) (backend.Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, backend.Wrap(backend.InvalidState, "pool: borrow", errPoolClosed)
		}
		if len(p.idle) == 0 {
			p.mu.Unlock()
			break
		}
		ic := p.idle[0]
		copy(p.idle, p.idle[1:])
		p.idle[len(p.idle)-1] = idleConn{}
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()

		if !p.isConnAlive(ctx, ic.conn) {
			p.discard(ic.conn)
			continue
		}
		return ic.conn, nil
	}

	c, err := p.provider.Open(ctx)
	if err != nil {
		return nil, openErr(ctx, "pool: open", err)
	}
	p.opened.Add(1)
	p.opts.logger.Debug("opened connection", "idle", p.Stats().Idle)
	return c, nil
}

// Return resets c and keeps it idle, or closes it when the pool already holds
// max idle connections. Returning a connection that is already closed is a
// no-op.
func (p *Elastic) Return(c backend.Conn) error {
	if c == nil {
		return backend.Errorf(backend.InvalidState, "pool: return", "nil connection")
	}
	if c.Closed() {
		p.freed.Add(1)
		return nil
	}
	if err := backend.Reset(c, p.opts.defaults); err != nil {
		p.discard(c)
		return backend.Wrap(backend.BackendUnavailable, "pool: reset", err)
	}

	p.mu.Lock()
	if p.closed || len(p.idle) >= p.max {
		p.mu.Unlock()
		p.discard(c)
		return nil
	}
	p.idle = append(p.idle, idleConn{conn: c, lastUsed: time.Now()})
	p.mu.Unlock()
	return nil
}

// Close closes every idle connection. Connections still borrowed are closed
// when they come back.
func (p *Elastic) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()

	var errs []error
	for _, ic := range idle {
		if err := ic.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		p.freed.Add(1)
	}
	return errors.Join(errs...)
}

func (p *Elastic) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	opened, freed := p.opened.Load(), p.freed.Load()
	return Stats{
		Idle:   idle,
		InUse:  max(int(opened-freed)-idle, 0),
		Opened: opened,
		Closed: freed,
	}
}

func (p *Elastic) discard(c backend.Conn) {
	if err := c.Close(); err != nil {
		p.opts.logger.Debug("close failed", "error", err)
	}
	p.freed.Add(1)
}

func (p *Elastic) isConnAlive(ctx context.Context, c backend.Conn) bool {
	if c.Closed() {
		return false
	}
	pinger, ok := c.(backend.Pinger)
	if !ok {
		return true
	}
	if err := pinger.Ping(ctx); err != nil {
		p.opts.logger.Debug("dropping dead idle connection", "error", err)
		return false
	}
	return true
}

func (p *Elastic) cleanupIdleConnections() {
	defer p.wg.Done()

	ticker := time.NewTicker(max(p.opts.idleTimeout/2, minReapInterval))
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.reap(now)
		}
	}
}

func (p *Elastic) reap(now time.Time) {
	var expired []backend.Conn

	p.mu.Lock()
	kept := p.idle[:0]
	for _, ic := range p.idle {
		if now.Sub(ic.lastUsed) > p.opts.idleTimeout {
			expired = append(expired, ic.conn)
			continue
		}
		kept = append(kept, ic)
	}
	for i := len(kept); i < len(p.idle); i++ {
		p.idle[i] = idleConn{}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, c := range expired {
		p.discard(c)
	}
	if len(expired) > 0 {
		p.opts.logger.Debug("closed idle connections", "count", len(expired))
	}
}
