// Package sqlconn provides backend connections over database/sql. Each Conn
// pins one *sql.Conn; session defaults are applied with dialect statements.
package sqlconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/user/poolgate/internal/backend"
)

// Provider opens connections from a *sql.DB.
type Provider struct {
	db      *sql.DB
	dialect Dialect
}

// NewProvider wraps db. The DB's own idle pool is disabled so that closing a
// Conn really closes it; reuse is the job of package pool.
func NewProvider(db *sql.DB, d Dialect) *Provider {
	db.SetMaxIdleConns(0)
	return &Provider{db: db, dialect: d}
}

// Connect builds a Provider for a "mysql" or "postgres" DSN.
func Connect(dialect, dsn string) (*Provider, error) {
	var (
		connector driver.Connector
		d         Dialect
	)
	switch dialect {
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		c, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("mysql connector: %w", err)
		}
		connector, d = c, MySQL
	case "postgres":
		c, err := pq.NewConnector(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres connector: %w", err)
		}
		connector, d = c, Postgres
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", dialect)
	}
	return NewProvider(sql.OpenDB(connector), d), nil
}

func (p *Provider) Dialect() Dialect { return p.dialect }

func (p *Provider) Open(ctx context.Context) (backend.Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c, dialect: p.dialect, settings: backend.DefaultSettings}, nil
}

// Close closes the underlying *sql.DB.
func (p *Provider) Close() error { return p.db.Close() }

// Conn is one pinned database connection.
type Conn struct {
	conn    *sql.Conn
	dialect Dialect

	mu       sync.Mutex
	settings backend.Settings
	closed   bool
}

func (c *Conn) Settings() backend.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Apply runs only the statements needed to get from the current settings to
// s, one setting at a time. It stops at the first failing statement; the
// settings that were changed before it stay recorded, so Settings matches
// the server.
func (c *Conn) Apply(s backend.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return backend.ErrClosed
	}
	steps := []func(*backend.Settings){
		func(t *backend.Settings) { t.AutoCommit = s.AutoCommit },
		func(t *backend.Settings) { t.Isolation = s.Isolation },
		func(t *backend.Settings) { t.ReadOnly = s.ReadOnly },
		func(t *backend.Settings) { t.Catalog = s.Catalog },
	}
	for _, set := range steps {
		next := c.settings
		set(&next)
		for _, stmt := range c.dialect.Statements(c.settings, next) {
			if _, err := c.conn.ExecContext(context.Background(), stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		c.settings = next
	}
	return nil
}

func (c *Conn) Rollback() error {
	if c.Closed() {
		return backend.ErrClosed
	}
	_, err := c.conn.ExecContext(context.Background(), c.dialect.Rollback())
	return err
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Raw returns the *sql.Conn.
func (c *Conn) Raw() any { return c.conn }

// SQLConn unwraps the *sql.Conn behind c, looking through pooled and replica
// handles.
func SQLConn(c backend.Conn) (*sql.Conn, bool) {
	sc, ok := c.Raw().(*sql.Conn)
	return sc, ok
}
