package balance

import "sync/atomic"

// RoundRobin cycles through 0..n-1 without locking.
type RoundRobin struct {
	n       uint64
	counter atomic.Uint64
}

// NewRoundRobin panics if n is not positive.
func NewRoundRobin(n int) *RoundRobin {
	if n <= 0 {
		panic("balance: round robin over no providers")
	}
	return &RoundRobin{n: uint64(n)}
}

// Next returns the current index and advances the counter, retrying the
// compare-and-swap until it wins. No index is skipped or handed out twice
// within a cycle.
func (r *RoundRobin) Next() int {
	for {
		cur := r.counter.Load()
		if r.counter.CompareAndSwap(cur, (cur+1)%r.n) {
			return int(cur)
		}
	}
}
