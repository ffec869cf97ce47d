// Package replica puts a write connection and a read connection behind one
// handle that switches sides when the session goes read-only.
package replica

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/user/poolgate/internal/backend"
)

// CloseError is returned when closing a handle fails on one or both sides.
type CloseError struct {
	Errs []error
}

func (e *CloseError) Error() string {
	es := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		es[i] = err.Error()
	}
	return fmt.Sprintf("replica: failed to close %d connections: %s", len(e.Errs), strings.Join(es, ", "))
}

func (e *CloseError) Unwrap() []error { return e.Errs }

// Splitter opens handles over a write provider and a read provider.
type Splitter struct {
	write backend.Provider
	read  backend.Provider
}

func New(write, read backend.Provider) *Splitter {
	return &Splitter{write: write, read: read}
}

// Shared opens handles whose two sides are one connection from p. Going
// read-only only marks that connection's session read-only.
func Shared(p backend.Provider) *Splitter {
	return &Splitter{write: p}
}

// Acquire opens both sides. If the read side cannot be opened the write side
// is closed again and the read error returned.
func (s *Splitter) Acquire(ctx context.Context) (*Handle, error) {
	w, err := s.write.Open(ctx)
	if err != nil {
		return nil, err
	}
	if s.read == nil {
		return &Handle{write: w, read: w, active: w}, nil
	}
	r, err := s.read.Open(ctx)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Handle{write: w, read: r, active: w}, nil
}

// Open implements backend.Provider.
func (s *Splitter) Open(ctx context.Context) (backend.Conn, error) {
	h, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Handle forwards every operation to whichever side is active. It starts on
// the write side.
type Handle struct {
	write backend.Conn
	read  backend.Conn

	mu       sync.Mutex
	active   backend.Conn
	readOnly bool
	closed   bool
}

// SetReadOnly switches to the read side (true) or the write side (false).
// The commit mode, isolation level and catalog of the side being left are
// carried over to the side taking over.
func (h *Handle) SetReadOnly(readOnly bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return backend.Errorf(backend.InvalidState, "replica: set read-only", "handle is closed")
	}

	if h.readOnly == readOnly {
		return nil
	}
	target := h.write
	if readOnly {
		target = h.read
	}

	s := h.active.Settings()
	s.ReadOnly = readOnly
	if err := target.Apply(s); err != nil {
		return fmt.Errorf("replica: switch read-only=%t: %w", readOnly, err)
	}
	h.active = target
	h.readOnly = readOnly
	return nil
}

// ReadOnly reports whether the handle is on its read side.
func (h *Handle) ReadOnly() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readOnly
}

// Active returns the connection operations currently go to.
func (h *Handle) Active() backend.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *Handle) Settings() backend.Settings {
	return h.Active().Settings()
}

func (h *Handle) Apply(s backend.Settings) error {
	return h.Active().Apply(s)
}

func (h *Handle) Rollback() error {
	return h.Active().Rollback()
}

func (h *Handle) Raw() any {
	return h.Active().Raw()
}

// Close closes both sides, whichever one is active. A shared connection is
// closed once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return backend.Errorf(backend.InvalidState, "replica: close", "handle already closed")
	}
	h.closed = true
	h.mu.Unlock()

	var errs []error
	if err := h.write.Close(); err != nil {
		errs = append(errs, err)
	}
	if h.read != h.write {
		if err := h.read.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &CloseError{Errs: errs}
	}
	return nil
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
