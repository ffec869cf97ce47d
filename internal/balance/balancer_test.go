package balance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/poolgate/internal/backend"
	"github.com/user/poolgate/internal/backend/backendtest"
)

func TestRoundRobin_Sequence(t *testing.T) {
	rr := NewRoundRobin(3)
	var got []int
	for i := 0; i < 6; i++ {
		got = append(got, rr.Next())
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, got)
}

func TestRoundRobin_ConcurrentFairness(t *testing.T) {
	const n, rounds = 4, 250
	rr := NewRoundRobin(n)

	var mu sync.Mutex
	counts := make([]int, n)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n*rounds/10; i++ {
				idx := rr.Next()
				mu.Lock()
				counts[idx]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for i, c := range counts {
		assert.Equal(t, rounds, c, "index %d", i)
	}
}

func TestRoundRobin_PanicsOnEmpty(t *testing.T) {
	assert.Panics(t, func() { NewRoundRobin(0) })
}

func TestBalancer_Open(t *testing.T) {
	ps := []*backendtest.Provider{backendtest.New("a"), backendtest.New("b"), backendtest.New("c")}
	providers := []backend.Provider{ps[0], ps[1], ps[2]}

	b, err := New(providers, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Len())

	for i := 0; i < 6; i++ {
		c, err := b.Open(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ps[i%3].Name, c.(*backendtest.Conn).ID[:1])
	}
	for _, p := range ps {
		assert.Equal(t, 2, p.Opens())
	}
}

func TestBalancer_PropagatesErrors(t *testing.T) {
	p := backendtest.New("down")
	cause := errors.New("connection refused")
	p.Fail(cause)

	b, err := New([]backend.Provider{p}, nil)
	require.NoError(t, err)
	_, err = b.Open(context.Background())
	assert.Same(t, cause, err)
}

type fixedStrategy int

func (f fixedStrategy) Next() int { return int(f) }

func TestBalancer_Invalid(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	b, err := New([]backend.Provider{backendtest.New("a")}, fixedStrategy(5))
	require.NoError(t, err)
	_, err = b.Open(context.Background())
	assert.True(t, errors.Is(err, backend.RoutingFailed))
}
