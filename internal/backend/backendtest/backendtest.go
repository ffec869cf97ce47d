// Package backendtest provides an in-memory backend.Provider whose behaviour
// tests can script: it counts opens and closes and fails on demand.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/poolgate/internal/backend"
)

// Provider is a scripted backend.Provider. The zero value is ready to use and
// opens connections named "<Name>#<n>".
type Provider struct {
	Name string

	// Initial is applied to every freshly opened connection.
	Initial backend.Settings

	mu       sync.Mutex
	opened   int
	closed   int
	failures int
	err      error
	conns    []*Conn
}

// New returns a provider whose connections start with backend.DefaultSettings.
func New(name string) *Provider {
	return &Provider{Name: name, Initial: backend.DefaultSettings}
}

// Fail makes every following Open return err. A nil err restores success.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Provider) Open(ctx context.Context) (backend.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		p.failures++
		return nil, p.err
	}
	p.opened++
	c := &Conn{
		ID:       fmt.Sprintf("%s#%d", p.Name, p.opened),
		provider: p,
		settings: p.Initial,
	}
	p.conns = append(p.conns, c)
	return c, nil
}

// Opens reports how many connections were opened successfully.
func (p *Provider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

// Failures reports how many Open calls failed.
func (p *Provider) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Closes reports how many connections were really closed.
func (p *Provider) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Conns returns every connection opened so far, in order.
func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Conn(nil), p.conns...)
}

// Conn is a connection opened by Provider.
type Conn struct {
	ID string

	provider *Provider

	mu        sync.Mutex
	settings  backend.Settings
	closed    bool
	rollbacks int
	applyErr  error
	pingErr   error
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
	if c.applyErr != nil {
		return c.applyErr
	}
	c.settings = s
	return nil
}

func (c *Conn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return backend.ErrClosed
	}
	c.rollbacks++
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("backendtest: close of closed connection " + c.ID)
	}
	c.closed = true
	c.mu.Unlock()

	c.provider.mu.Lock()
	c.provider.closed++
	c.provider.mu.Unlock()
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Raw() any { return c }

func (c *Conn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

// Rollbacks reports how many times Rollback ran.
func (c *Conn) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

// FailApply makes Apply return err until cleared with nil.
func (c *Conn) FailApply(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyErr = err
}

// FailPing makes Ping return err until cleared with nil.
func (c *Conn) FailPing(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

// Set overwrites the session state without going through Apply, the way a
// client statement would.
func (c *Conn) Set(s backend.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}
