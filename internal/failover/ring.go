// Package failover chains providers into a ring: a node that cannot open a
// connection hands the request to the next node, until one succeeds or the
// walk comes back around to a node that already failed.
package failover

import (
	"context"
	"errors"
	"log/slog"

	"github.com/user/poolgate/internal/backend"
)

type node struct {
	provider backend.Provider
	next     int
}

// Ring is an immutable cycle of providers; node i falls back to node
// (i+1) mod N. A walk that comes back around to a node that already failed
// stops there and returns the first error, without opening the entry node a
// second time.
type Ring struct {
	nodes      []node
	substitute bool
	logger     *slog.Logger
	onFailover func(from, to int, err error)
}

// Option configures a Ring.
type Option func(*Ring)

// WithLoopDetection toggles substitution. With it off every node surfaces its
// own error and never hands over, since an unguarded cycle could walk forever.
func WithLoopDetection(enabled bool) Option {
	return func(r *Ring) { r.substitute = enabled }
}

// WithSuppressedLogging logs each intermediate error the ring swallows while
// walking. A nil logger keeps them silent.
func WithSuppressedLogging(l *slog.Logger) Option {
	return func(r *Ring) {
		if l != nil {
			l = l.With("component", "failover")
		}
		r.logger = l
	}
}

// WithFailoverHook is called every time a node hands over to the next one.
func WithFailoverHook(fn func(from, to int, err error)) Option {
	return func(r *Ring) { r.onFailover = fn }
}

// NewRing builds a ring over providers in order. At least two are required.
func NewRing(providers []backend.Provider, opts ...Option) (*Ring, error) {
	if len(providers) < 2 {
		return nil, errors.New("failover: ring needs at least two providers")
	}
	r := &Ring{
		nodes:      make([]node, len(providers)),
		substitute: true,
	}
	for i, p := range providers {
		r.nodes[i] = node{provider: p, next: (i + 1) % len(providers)}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Ring) Len() int { return len(r.nodes) }

// Node returns node i as a provider that fails over along the ring.
func (r *Ring) Node(i int) *Node {
	return &Node{ring: r, index: i}
}

// Nodes returns every node in ring order.
func (r *Ring) Nodes() []backend.Provider {
	ps := make([]backend.Provider, len(r.nodes))
	for i := range r.nodes {
		ps[i] = r.Node(i)
	}
	return ps
}

// Open enters the ring at its first node.
func (r *Ring) Open(ctx context.Context) (backend.Conn, error) {
	return r.open(ctx, 0)
}

// Node is one position in a Ring.
type Node struct {
	ring  *Ring
	index int
}

func (n *Node) Index() int { return n.index }

func (n *Node) Open(ctx context.Context) (backend.Conn, error) {
	return n.ring.open(ctx, n.index)
}

// walk is the loop-detection state of one failover chain. It travels in the
// context of a single Open call, so concurrent callers never share it.
type walk struct {
	ring   *Ring
	failed []bool
	first  error
}

type walkKey struct{}

// walkFor returns the walk this ring is already on in ctx, or starts one.
func (r *Ring) walkFor(ctx context.Context) (context.Context, *walk) {
	if w, ok := ctx.Value(walkKey{}).(*walk); ok && w.ring == r {
		return ctx, w
	}
	w := &walk{ring: r, failed: make([]bool, len(r.nodes))}
	return context.WithValue(ctx, walkKey{}, w), w
}

func (r *Ring) open(ctx context.Context, i int) (backend.Conn, error) {
	ctx, w := r.walkFor(ctx)
	for {
		if w.failed[i] {
			return nil, w.first
		}

		c, err := r.nodes[i].provider.Open(ctx)
		if err == nil {
			return c, nil
		}
		if !r.substitute {
			return nil, err
		}

		w.failed[i] = true
		if w.first == nil {
			w.first = err
		}
		if ctx.Err() != nil {
			return nil, w.first
		}

		next := r.nodes[i].next
		if w.failed[next] {
			return nil, w.first
		}
		if r.logger != nil {
			r.logger.Warn("node failed, trying next", "node", i, "next", next, "error", err)
		}
		if r.onFailover != nil {
			r.onFailover(i, next, err)
		}
		i = next
	}
}
