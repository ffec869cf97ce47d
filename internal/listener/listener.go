package listener

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/poolgate/internal/metrics"
)

type ListenerConfig struct {
	Address        string
	Route          string
	ReadOnly       bool
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Target is what an accepted client is bound to.
type Target struct {
	Route    string
	ReadOnly bool
}

type Handler interface {
	HandleClient(ctx context.Context, clientConn net.Conn, t Target)
}

type Server struct {
	cfg      ListenerConfig
	listener net.Listener
	handler  Handler
	logger   *slog.Logger

	sem      chan struct{}  // connection limiter
	wg       sync.WaitGroup // graceful shutdown
	ctx      context.Context
	cancel   context.CancelFunc
	serving  atomic.Bool
	loopDone chan struct{}
}

func NewServer(cfg ListenerConfig, h Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		handler:  h,
		logger:   logger.With("component", "listener", "address", cfg.Address, "route", cfg.Route),
		sem:      make(chan struct{}, cfg.MaxConnections),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
}

// Listen binds the address without accepting yet.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts until Stop is called.
func (s *Server) Serve() error {
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("listener: already serving")
	}
	defer close(s.loopDone)
	s.logger.Info("listener started", "read_only", s.cfg.ReadOnly)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			_ = conn.Close()
			return nil
		}
		if s.ctx.Err() != nil {
			<-s.sem
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)

		go s.handleConnection(conn)
	}
}

// Stop closes the listener, cancels every client session and waits for them.
func (s *Server) Stop() {
	s.cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.serving.Load() {
		<-s.loopDone
	}

	s.wg.Wait()
	s.logger.Info("listener stopped")
}

func (s *Server) handleConnection(conn net.Conn) {
	metrics.IncActiveConnections()
	defer s.wg.Done()
	defer func() {
		metrics.DecActiveConnections()
		<-s.sem
		_ = conn.Close()
	}()

	s.logger.Debug("accepted connection", "remote", conn.RemoteAddr())

	s.handler.HandleClient(s.ctx, &timeoutConn{
		Conn:         conn,
		readTimeout:  s.cfg.ReadTimeout,
		writeTimeout: s.cfg.WriteTimeout,
	}, Target{Route: s.cfg.Route, ReadOnly: s.cfg.ReadOnly})
}

// timeoutConn pushes the deadline forward on every read and write, so the
// timeouts bound idleness rather than the whole session.
type timeoutConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *timeoutConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return c.Conn.Read(b)
}

func (c *timeoutConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.Write(b)
}
