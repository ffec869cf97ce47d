// Package proxy pipes bytes between a client and a backend connection
// acquired from the topology for the client's route.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/poolgate/internal/backend"
	"github.com/user/poolgate/internal/listener"
	"github.com/user/poolgate/internal/tcpconn"
)

// Acquirer hands out a backend handle for a route key.
type Acquirer interface {
	Open(ctx context.Context, route string) (backend.Conn, error)
}

// Switcher is a handle that can move to its read side.
type Switcher interface {
	SetReadOnly(bool) error
}

type Proxy struct {
	acquirer Acquirer
	logger   *slog.Logger
}

func NewProxy(a Acquirer, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		acquirer: a,
		logger:   logger.With("component", "proxy"),
	}
}

var _ listener.Handler = (*Proxy)(nil)

// ErrNotStream is returned when a route leads to a backend with no byte
// stream to pipe, such as a database/sql pool.
var ErrNotStream = errors.New("route does not lead to a stream backend")

func (p *Proxy) HandleClient(ctx context.Context, clientConn net.Conn, t listener.Target) {
	logger := p.logger.With("route", t.Route, "remote", clientConn.RemoteAddr())
	if err := p.serve(ctx, clientConn, t); err != nil {
		logger.Warn("session ended with error", "error", err)
		return
	}
	logger.Debug("session ended")
}

func (p *Proxy) serve(ctx context.Context, clientConn net.Conn, t listener.Target) error {
	c, err := p.acquirer.Open(ctx, t.Route)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			p.logger.Warn("release backend", "route", t.Route, "error", err)
		}
	}()

	if t.ReadOnly {
		sw, ok := c.(Switcher)
		if !ok {
			return fmt.Errorf("read-only listener: route %q has no read side", t.Route)
		}
		if err := sw.SetReadOnly(true); err != nil {
			return fmt.Errorf("switch to read side: %w", err)
		}
	}

	backendConn, ok := tcpconn.NetConn(c)
	if !ok {
		return ErrNotStream
	}
	return Pipe(ctx, clientConn, backendConn)
}

// Pipe copies in both directions until the client hangs up, the backend
// stops answering, or ctx is done. The client is closed on return; the
// backend is left open with its deadlines cleared so it can go back to its
// pool.
func Pipe(ctx context.Context, client, backendConn net.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = client.Close()
		_ = backendConn.SetReadDeadline(time.Now())
	})
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(backendConn, client)
		_ = backendConn.SetReadDeadline(time.Now())
		return quiet(err)
	})
	g.Go(func() error {
		_, err := io.Copy(client, backendConn)
		_ = client.Close()
		return quiet(err)
	})
	err := g.Wait()
	_ = backendConn.SetDeadline(time.Time{})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// quiet drops the errors that only mean the other direction ended first.
func quiet(err error) error {
	if err == nil || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
