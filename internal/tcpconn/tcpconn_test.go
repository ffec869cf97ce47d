package tcpconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/poolgate/internal/backend"
	"github.com/user/poolgate/internal/pool"
)

// mockBackend accepts connections and hands them to handle.
func mockBackend(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().String()
}

func TestProvider_OpenAndEcho(t *testing.T) {
	addr := mockBackend(t, func(c net.Conn) {
		defer c.Close()
		buf := make([]byte, 5)
		if _, err := c.Read(buf); err == nil {
			c.Write(buf)
		}
	})

	p := NewProvider(addr, time.Second)
	c, err := p.Open(context.Background())
	require.NoError(t, err)
	defer c.Close()

	nc, ok := NetConn(c)
	require.True(t, ok)
	_, err = nc.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = nc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	assert.NotEmpty(t, c.(*Conn).ID())
}

func TestProvider_Unreachable(t *testing.T) {
	// Point to a port nobody listens on.
	p := NewProvider("127.0.0.1:1", 100*time.Millisecond)
	_, err := p.Open(context.Background())
	assert.Error(t, err)
}

func TestConn_PingDetectsHangup(t *testing.T) {
	hungUp := make(chan struct{})
	addr := mockBackend(t, func(c net.Conn) {
		c.Close()
		close(hungUp)
	})

	c, err := NewProvider(addr, time.Second).Open(context.Background())
	require.NoError(t, err)
	defer c.Close()

	<-hungUp
	assert.Eventually(t, func() bool {
		return c.(*Conn).Ping(context.Background()) != nil
	}, time.Second, 10*time.Millisecond)
}

func TestConn_PingIdleIsAlive(t *testing.T) {
	addr := mockBackend(t, func(c net.Conn) {
		time.Sleep(time.Second)
		c.Close()
	})

	c, err := NewProvider(addr, time.Second).Open(context.Background())
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.(*Conn).Ping(context.Background()))
}

func TestConn_SessionTracking(t *testing.T) {
	addr := mockBackend(t, func(c net.Conn) {
		time.Sleep(time.Second)
		c.Close()
	})

	c, err := NewProvider(addr, time.Second).Open(context.Background())
	require.NoError(t, err)

	s := backend.Settings{Isolation: backend.IsolationSerializable, Catalog: "orders"}
	require.NoError(t, c.Apply(s))
	assert.Equal(t, s, c.Settings())

	require.NoError(t, c.Close())
	assert.True(t, c.Closed())
	assert.ErrorIs(t, c.Apply(s), backend.ErrClosed)
	assert.NoError(t, c.Close())
}

func TestPool_GetPut(t *testing.T) {
	addr := mockBackend(t, func(c net.Conn) {
		time.Sleep(time.Second)
		c.Close()
	})

	p, err := pool.NewElastic(context.Background(), NewProvider(addr, time.Second), 2, 5)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.NoError(t, p.Return(conn))

	conn2, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn2)
	require.NoError(t, p.Return(conn2))
	assert.Equal(t, int64(2), p.Stats().Opened)
}

func TestConn_RollbackRejectsDirtyConnection(t *testing.T) {
	addr := mockBackend(t, func(c net.Conn) {
		c.Write([]byte("leftover"))
		time.Sleep(time.Second)
		c.Close()
	})

	c, err := NewProvider(addr, time.Second).Open(context.Background())
	require.NoError(t, err)
	defer c.Close()

	assert.Eventually(t, func() bool {
		return c.Rollback() != nil
	}, time.Second, 10*time.Millisecond)
}
