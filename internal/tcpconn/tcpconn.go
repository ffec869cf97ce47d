// Package tcpconn opens plain TCP connections to a backend address. Session
// settings are tracked locally: a byte stream has no server-side session to
// reset, so Apply and Rollback only record state.
package tcpconn

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/poolgate/internal/backend"
)

// Provider dials one backend address.
type Provider struct {
	address string
	dialer  net.Dialer
}

func NewProvider(address string, dialTimeout time.Duration) *Provider {
	return &Provider{
		address: address,
		dialer:  net.Dialer{Timeout: dialTimeout},
	}
}

func (p *Provider) Address() string { return p.address }

func (p *Provider) Open(ctx context.Context) (backend.Conn, error) {
	nc, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return nil, err
	}
	return &Conn{id: uuid.NewString(), nc: nc, settings: backend.DefaultSettings}, nil
}

// Conn is a dialed TCP connection.
type Conn struct {
	id string
	nc net.Conn

	mu       sync.Mutex
	settings backend.Settings
	closed   bool
}

func (c *Conn) ID() string { return c.id }

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
	c.settings = s
	return nil
}

// Rollback has no transaction to undo on a raw stream; it checks instead that
// the last user left the connection quiet, so a pool can discard it if not.
func (c *Conn) Rollback() error {
	return c.Ping(context.Background())
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.nc.Close()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Raw returns the net.Conn.
func (c *Conn) Raw() any { return c.nc }

// Ping reads under a very short deadline. An idle backend connection has
// nothing to say, so only a timeout means alive; EOF, a reset or unsolicited
// bytes all mean the connection cannot be reused.
func (c *Conn) Ping(context.Context) error {
	if c.Closed() {
		return backend.ErrClosed
	}
	_ = c.nc.SetReadDeadline(time.Now().Add(time.Millisecond))
	var b [1]byte
	n, err := c.nc.Read(b[:])
	_ = c.nc.SetReadDeadline(time.Time{})

	var ne net.Error
	switch {
	case n > 0:
		return errUnsolicited
	case err != nil && errors.As(err, &ne) && ne.Timeout():
		return nil
	case err == nil:
		return errUnsolicited
	}
	return err
}

var errUnsolicited = errors.New("tcpconn: unsolicited data on idle connection")

// NetConn unwraps the net.Conn behind c, looking through pooled and replica
// handles.
func NetConn(c backend.Conn) (net.Conn, bool) {
	nc, ok := c.Raw().(net.Conn)
	return nc, ok
}
