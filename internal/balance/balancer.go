// Package balance spreads opens across a fixed list of providers.
package balance

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/poolgate/internal/backend"
)

// Strategy picks the index of the next provider. Implementations must be
// safe for concurrent use.
type Strategy interface {
	Next() int
}

// Balancer is a backend.Provider that delegates each Open to the provider
// its Strategy selects.
type Balancer struct {
	providers []backend.Provider
	strategy  Strategy
}

// New returns a Balancer over a copy of providers. A nil strategy means
// round robin.
func New(providers []backend.Provider, strategy Strategy) (*Balancer, error) {
	if len(providers) == 0 {
		return nil, errors.New("balance: no providers")
	}
	if strategy == nil {
		strategy = NewRoundRobin(len(providers))
	}
	return &Balancer{
		providers: append([]backend.Provider(nil), providers...),
		strategy:  strategy,
	}, nil
}

// Open opens a connection on the selected provider. Provider errors are
// returned unchanged.
func (b *Balancer) Open(ctx context.Context) (backend.Conn, error) {
	i := b.strategy.Next()
	if i < 0 || i >= len(b.providers) {
		return nil, backend.Errorf(backend.RoutingFailed, "balance", "strategy picked %d of %d providers", i, len(b.providers))
	}
	return b.providers[i].Open(ctx)
}

func (b *Balancer) Len() int { return len(b.providers) }

func (b *Balancer) String() string {
	return fmt.Sprintf("balancer(%d providers)", len(b.providers))
}
