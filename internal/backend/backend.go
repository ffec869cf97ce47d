// Package backend defines the capability every pool, router and failover
// component in poolgate is built on: a Provider that opens live connections,
// and the Conn it hands out.
package backend

import (
	"context"
	"fmt"
)

// Isolation is a transaction isolation level.
type Isolation int

const (
	IsolationDefault Isolation = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

var isolationNames = map[Isolation]string{
	IsolationDefault:         "default",
	IsolationReadUncommitted: "read uncommitted",
	IsolationReadCommitted:   "read committed",
	IsolationRepeatableRead:  "repeatable read",
	IsolationSerializable:    "serializable",
}

func (i Isolation) String() string {
	if s, ok := isolationNames[i]; ok {
		return s
	}
	return fmt.Sprintf("isolation(%d)", int(i))
}

// ParseIsolation maps a config string such as "read committed" or
// "repeatable_read" to an Isolation.
func ParseIsolation(s string) (Isolation, error) {
	norm := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || c == '-':
			c = ' '
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		}
		norm = append(norm, c)
	}
	if len(norm) == 0 {
		return IsolationDefault, nil
	}
	for iso, name := range isolationNames {
		if name == string(norm) {
			return iso, nil
		}
	}
	return IsolationDefault, fmt.Errorf("unknown isolation level %q", s)
}

// Settings are the session defaults a pool restores before a connection
// re-enters its idle set.
type Settings struct {
	AutoCommit bool
	Isolation  Isolation
	ReadOnly   bool
	Catalog    string
}

// DefaultSettings is what a fresh connection is assumed to start with.
var DefaultSettings = Settings{AutoCommit: true}

// Conn is a live backend connection, or a handle wrapping one.
type Conn interface {
	// Settings reports the session state last applied to the connection.
	Settings() Settings

	// Apply sets commit mode, isolation level, read-only flag and catalog.
	Apply(Settings) error

	// Rollback aborts any pending work.
	Rollback() error

	// Close releases the connection. For pooled handles this returns the
	// connection to its pool instead of closing it.
	Close() error

	Closed() bool

	// Raw exposes the driver-level connection (net.Conn, *sql.Conn, ...).
	Raw() any
}

// Pinger is implemented by connections that can probe their own liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Provider opens connections to one backend.
type Provider interface {
	Open(ctx context.Context) (Conn, error)
}

// ProviderFunc adapts a plain function to a Provider.
type ProviderFunc func(ctx context.Context) (Conn, error)

func (f ProviderFunc) Open(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Reset rolls back pending work on c and restores the given defaults.
func Reset(c Conn, defaults Settings) error {
	if c.Closed() {
		return newError(InvalidState, "reset", ErrClosed)
	}
	if err := c.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	if err := c.Apply(defaults); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	return nil
}
