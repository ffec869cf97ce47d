package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/user/poolgate/internal/backend"
)

// Fixed holds exactly size connections, opened at construction. Borrow waits
// in FIFO order until one is idle.
//
// A connection that comes back closed, or cannot be reset, leaves a gap; the
// pool reopens it from the provider so it keeps serving size borrowers.
type Fixed struct {
	provider backend.Provider
	opts     options
	size     int

	idle chan backend.Conn

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	lost   atomic.Int64
	opened atomic.Int64
	freed  atomic.Int64
}

// NewFixed opens size connections; it fails if any of them cannot be opened.
func NewFixed(ctx context.Context, provider backend.Provider, size int, opts ...Option) (*Fixed, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size config: size=%d", size)
	}
	if provider == nil {
		return nil, errors.New("provider must not be nil")
	}

	conns, err := prefill(ctx, provider, size)
	if err != nil {
		return nil, err
	}

	p := &Fixed{
		provider: provider,
		opts:     buildOptions(opts),
		size:     size,
		idle:     make(chan backend.Conn, size),
		done:     make(chan struct{}),
	}
	for _, c := range conns {
		p.idle <- c
	}
	p.opened.Add(int64(size))
	return p, nil
}

// Borrow blocks until a connection is idle or ctx is done. An expired
// deadline reports PoolExhausted, a cancelled context Cancelled.
func (p *Fixed) Borrow(ctx context.Context) (backend.Conn, error) {
	if p.opts.borrowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.borrowTimeout)
		defer cancel()
	}

	if p.lost.Load() > 0 {
		p.refill(ctx)
	}

	select {
	case c := <-p.idle:
		p.mu.RLock()
		closed := p.closed
		p.mu.RUnlock()
		if closed {
			p.discard(c)
			return nil, backend.Wrap(backend.InvalidState, "pool: borrow", errPoolClosed)
		}
		return c, nil
	case <-p.done:
		return nil, backend.Wrap(backend.InvalidState, "pool: borrow", errPoolClosed)
	case <-ctx.Done():
		return nil, waitErr(ctx)
	}
}

// Return resets c and makes it available to the next borrower. Returning a
// closed connection is an InvalidState error.
func (p *Fixed) Return(c backend.Conn) error {
	if c == nil {
		return backend.Errorf(backend.InvalidState, "pool: return", "nil connection")
	}
	if c.Closed() {
		p.freed.Add(1)
		p.lost.Add(1)
		p.refill(context.Background())
		return backend.Wrap(backend.InvalidState, "pool: return", backend.ErrClosed)
	}
	if err := backend.Reset(c, p.opts.defaults); err != nil {
		p.discard(c)
		p.lost.Add(1)
		p.refill(context.Background())
		return backend.Wrap(backend.BackendUnavailable, "pool: reset", err)
	}
	p.offer(c)
	return nil
}

// Close closes the idle connections and wakes every waiting borrower.
func (p *Fixed) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case c := <-p.idle:
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
			p.freed.Add(1)
		default:
			return errors.Join(errs...)
		}
	}
}

func (p *Fixed) Stats() Stats {
	idle := len(p.idle)
	opened, freed := p.opened.Load(), p.freed.Load()
	return Stats{
		Idle:   idle,
		InUse:  max(int(opened-freed)-idle, 0),
		Opened: opened,
		Closed: freed,
	}
}

// offer enqueues c unless the pool is closed or already holds size idle
// connections, in which case c is closed.
func (p *Fixed) offer(c backend.Conn) {
	p.mu.RLock()
	if !p.closed {
		select {
		case p.idle <- c:
			p.mu.RUnlock()
			return
		default:
		}
	}
	p.mu.RUnlock()
	p.discard(c)
}

// refill reopens one lost slot, if any.
func (p *Fixed) refill(ctx context.Context) {
	for {
		n := p.lost.Load()
		if n <= 0 {
			return
		}
		if p.lost.CompareAndSwap(n, n-1) {
			break
		}
	}

	c, err := p.provider.Open(ctx)
	if err != nil {
		p.lost.Add(1)
		p.opts.logger.Warn("could not reopen pool slot", "error", err, "lost", p.lost.Load())
		return
	}
	p.opened.Add(1)
	p.offer(c)
}

func (p *Fixed) discard(c backend.Conn) {
	if err := c.Close(); err != nil {
		p.opts.logger.Debug("close failed", "error", err)
	}
	p.freed.Add(1)
}
