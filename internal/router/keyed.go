// Package router picks a backend for a request: by key from a fixed routing
// table, or by classifying a SQL statement as a read or a write.
package router

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/user/poolgate/internal/backend"
)

// KeyFunc selects the routing key for one request.
type KeyFunc[K comparable] func(ctx context.Context) (K, error)

// Keyed routes each Open to the provider registered under the current key,
// or to the default provider when there is no match.
type Keyed[K comparable] struct {
	table map[K]backend.Provider
	def   backend.Provider
	key   KeyFunc[K]

	onFallback func(key K, cause error)
}

// KeyedOption configures a Keyed router.
type KeyedOption[K comparable] func(*Keyed[K])

// WithFallbackHook is called whenever a request falls through to the default
// provider.
func WithFallbackHook[K comparable](fn func(key K, cause error)) KeyedOption[K] {
	return func(k *Keyed[K]) { k.onFallback = fn }
}

// NewKeyed copies table; later changes to it are not seen. def may be nil. A
// nil key func reads the key stored by WithKey.
func NewKeyed[K comparable](table map[K]backend.Provider, def backend.Provider, key KeyFunc[K], opts ...KeyedOption[K]) *Keyed[K] {
	if key == nil {
		key = KeyFrom[K]
	}
	k := &Keyed[K]{
		table: maps.Clone(table),
		def:   def,
		key:   key,
	}
	if k.table == nil {
		k.table = map[K]backend.Provider{}
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// ErrNoRoute is the cause recorded when a key has no table entry.
var ErrNoRoute = errors.New("no route for key")

// Resolve returns the provider for the request in ctx.
func (k *Keyed[K]) Resolve(ctx context.Context) (backend.Provider, error) {
	key, err := k.key(ctx)
	if err == nil {
		if p, ok := k.table[key]; ok {
			return p, nil
		}
		err = fmt.Errorf("%w %v", ErrNoRoute, key)
	}

	if k.def != nil {
		if k.onFallback != nil {
			k.onFallback(key, err)
		}
		return k.def, nil
	}
	return nil, &backend.Error{Kind: backend.RoutingFailed, Op: "router: resolve", Err: err}
}

// Open resolves the provider and opens a connection on it.
func (k *Keyed[K]) Open(ctx context.Context) (backend.Conn, error) {
	p, err := k.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return p.Open(ctx)
}

type keyCtx struct{}

// WithKey stores a routing key in ctx.
func WithKey[K comparable](ctx context.Context, key K) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

// ErrNoKey is returned by KeyFrom when ctx carries no key of the wanted type.
var ErrNoKey = errors.New("no routing key in context")

// KeyFrom reads the key stored by WithKey.
func KeyFrom[K comparable](ctx context.Context) (K, error) {
	k, ok := ctx.Value(keyCtx{}).(K)
	if !ok {
		var zero K
		return zero, ErrNoKey
	}
	return k, nil
}
