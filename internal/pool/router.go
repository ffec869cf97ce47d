package pool

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/user/poolgate/internal/backend"
)

// Router is a backend.Provider backed by a Pool. The connections it opens are
// Handles: closing one returns the underlying connection to the pool.
type Router struct {
	pool Pool
}

func NewRouter(p Pool) *Router {
	return &Router{pool: p}
}

// Open borrows a connection and wraps it in a Handle.
func (r *Router) Open(ctx context.Context) (backend.Conn, error) {
	c, err := r.pool.Borrow(ctx)
	if err != nil {
		return nil, backend.Wrap(backend.BackendUnavailable, "pool router: acquire", err)
	}
	return &Handle{id: uuid.NewString(), pool: r.pool, conn: c}, nil
}

func (r *Router) Pool() Pool { return r.pool }

// Close drains the pool.
func (r *Router) Close() error { return r.pool.Close() }

// Handle is a borrowed connection. It forwards to the pooled connection until
// Close hands it back; after that every operation fails with InvalidState.
type Handle struct {
	id   string
	pool Pool

	mu   sync.Mutex
	conn backend.Conn
}

// ID identifies this borrow in logs.
func (h *Handle) ID() string { return h.id }

func (h *Handle) current() (backend.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil, backend.Errorf(backend.InvalidState, "pool handle", "handle %s already returned", h.id)
	}
	return h.conn, nil
}

func (h *Handle) Settings() backend.Settings {
	c, err := h.current()
	if err != nil {
		return backend.Settings{}
	}
	return c.Settings()
}

func (h *Handle) Apply(s backend.Settings) error {
	c, err := h.current()
	if err != nil {
		return err
	}
	return c.Apply(s)
}

func (h *Handle) Rollback() error {
	c, err := h.current()
	if err != nil {
		return err
	}
	return c.Rollback()
}

func (h *Handle) Ping(ctx context.Context) error {
	c, err := h.current()
	if err != nil {
		return err
	}
	if p, ok := c.(backend.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close returns the connection to the pool.
func (h *Handle) Close() error {
	h.mu.Lock()
	c := h.conn
	h.conn = nil
	h.mu.Unlock()

	if c == nil {
		return backend.Errorf(backend.InvalidState, "pool handle: close", "handle %s already returned", h.id)
	}
	return h.pool.Return(c)
}

func (h *Handle) Closed() bool {
	c, err := h.current()
	return err != nil || c.Closed()
}

func (h *Handle) Raw() any {
	c, err := h.current()
	if err != nil {
		return nil
	}
	return c.Raw()
}
