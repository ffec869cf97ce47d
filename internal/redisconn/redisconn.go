// Package redisconn provides backend connections to Redis. The catalog
// setting selects the logical database; the other session settings have no
// Redis counterpart and are only tracked.
package redisconn

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/user/poolgate/internal/backend"
)

type Provider struct {
	client *redis.Client
	db     int
}

// Connect builds a Provider from a redis:// URL.
func Connect(url string) (*Provider, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewProvider(redis.NewClient(opts)), nil
}

func NewProvider(client *redis.Client) *Provider {
	return &Provider{client: client, db: client.Options().DB}
}

// Open takes a dedicated connection out of the client and checks it.
func (p *Provider) Open(ctx context.Context) (backend.Conn, error) {
	c := p.client.Conn()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &Conn{conn: c, db: p.db, settings: backend.DefaultSettings}, nil
}

func (p *Provider) Close() error { return p.client.Close() }

// ParseCatalog maps a catalog name to a database index. Empty means def.
func ParseCatalog(catalog string, def int) (int, error) {
	if catalog == "" {
		return def, nil
	}
	n, err := strconv.Atoi(catalog)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("redis catalog %q is not a database index", catalog)
	}
	return n, nil
}

type Conn struct {
	conn *redis.Conn
	db   int

	mu       sync.Mutex
	settings backend.Settings
	closed   bool
}

func (c *Conn) Settings() backend.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Conn) Apply(s backend.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return backend.ErrClosed
	}
	if s.Catalog != c.settings.Catalog {
		n, err := ParseCatalog(s.Catalog, c.db)
		if err != nil {
			return err
		}
		if err := c.conn.Select(context.Background(), n).Err(); err != nil {
			return fmt.Errorf("select %d: %w", n, err)
		}
	}
	c.settings = s
	return nil
}

// Rollback drops any WATCHed keys left by the previous borrower.
func (c *Conn) Rollback() error {
	if c.Closed() {
		return backend.ErrClosed
	}
	ctx := context.Background()
	cmd := redis.NewStatusCmd(ctx, "unwatch")
	if err := c.conn.Process(ctx, cmd); err != nil {
		return err
	}
	return cmd.Err()
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx).Err()
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

// Raw returns the *redis.Conn.
func (c *Conn) Raw() any { return c.conn }

// RedisConn unwraps the *redis.Conn behind c.
func RedisConn(c backend.Conn) (*redis.Conn, bool) {
	rc, ok := c.Raw().(*redis.Conn)
	return rc, ok
}
