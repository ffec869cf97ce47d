package listener

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/poolgate/internal/metrics"
)

type handlerFunc func(ctx context.Context, c net.Conn, t Target)

func (f handlerFunc) HandleClient(ctx context.Context, c net.Conn, t Target) { f(ctx, c, t) }

func start(t *testing.T, cfg ListenerConfig, h Handler) *Server {
	t.Helper()
	cfg.Address = "127.0.0.1:0"
	s := NewServer(cfg, h, nil)
	require.NoError(t, s.Listen())
	go s.Serve()
	return s
}

func TestServer_PassesTarget(t *testing.T) {
	targets := make(chan Target, 1)
	s := start(t, ListenerConfig{Route: "orders", ReadOnly: true}, handlerFunc(func(_ context.Context, c net.Conn, tg Target) {
		targets <- tg
		c.Write([]byte("hi"))
	}))
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
	assert.Equal(t, Target{Route: "orders", ReadOnly: true}, <-targets)
}

func TestServer_LimitsConnections(t *testing.T) {
	var active, peak atomic.Int64
	release := make(chan struct{})
	s := start(t, ListenerConfig{MaxConnections: 1}, handlerFunc(func(_ context.Context, c net.Conn, _ Target) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
	}))

	var conns []net.Conn
	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", s.Addr().String())
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	assert.Eventually(t, func() bool { return active.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	close(release)
	s.Stop()
	for _, c := range conns {
		c.Close()
	}
	assert.Equal(t, int64(1), peak.Load())
}

func TestServer_StopCancelsSessions(t *testing.T) {
	before := atomic.LoadInt64(&metrics.GlobalMetrics.ActiveClientConnections)
	started := make(chan struct{})
	s := start(t, ListenerConfig{}, handlerFunc(func(ctx context.Context, _ net.Conn, _ Target) {
		close(started)
		<-ctx.Done()
	}))

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	<-started
	assert.Equal(t, before+1, atomic.LoadInt64(&metrics.GlobalMetrics.ActiveClientConnections))

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, before, atomic.LoadInt64(&metrics.GlobalMetrics.ActiveClientConnections))
}

func TestServer_ReadTimeout(t *testing.T) {
	errs := make(chan error, 1)
	s := start(t, ListenerConfig{ReadTimeout: 50 * time.Millisecond}, handlerFunc(func(_ context.Context, c net.Conn, _ Target) {
		_, err := c.Read(make([]byte, 1))
		errs <- err
	}))
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-errs:
		var ne net.Error
		require.ErrorAs(t, err, &ne)
		assert.True(t, ne.Timeout())
	case <-time.After(2 * time.Second):
		t.Fatal("read did not time out")
	}
}
