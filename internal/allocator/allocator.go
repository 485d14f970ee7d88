// Package allocator hands out vector IDs from a monotonic counter.
package allocator

import (
	"fmt"
	"math"
	"sync"

	"github.com/roojs/semantic-code-search/internal/models"
)

// DefaultLimit is the first ID that can never be allocated. ANN backends store labels as
// signed 64-bit integers, so the usable space stops at MaxInt64.
const DefaultLimit = uint64(math.MaxInt64)

// Range is a contiguous block of IDs [Start, Start+Count).
type Range struct {
	Start uint64
	Count int
}

// IDs expands the range.
func (r Range) IDs() []uint64 {
	ids := make([]uint64, r.Count)
	for i := range ids {
		ids[i] = r.Start + uint64(i)
	}
	return ids
}

// Allocator is safe for concurrent use. IDs are never reused, even when the vectors
// they were given to are later removed.
type Allocator struct {
	mu    sync.Mutex
	next  uint64
	limit uint64
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLimit lowers the exclusive upper bound of the ID space.
func WithLimit(limit uint64) Option {
	return func(a *Allocator) {
		a.limit = limit
	}
}

// New returns an allocator whose first ID is next.
func New(next uint64, opts ...Option) *Allocator {
	a := &Allocator{next: next, limit: DefaultLimit}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate reserves n consecutive IDs and advances the counter by n.
// It fails with ErrIDSpaceExhausted rather than wrapping.
func (a *Allocator) Allocate(n int) (Range, error) {
	if n < 0 {
		return Range{}, fmt.Errorf("allocate %d ids: negative count", n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if n == 0 {
		return Range{Start: a.next}, nil
	}
	if a.next > a.limit || uint64(n) > a.limit-a.next {
		return Range{}, fmt.Errorf("%w: %d ids requested at %d (limit %d)", models.ErrIDSpaceExhausted, n, a.next, a.limit)
	}
	r := Range{Start: a.next, Count: n}
	a.next += uint64(n)
	return r, nil
}

// Next returns the next ID that would be allocated.
func (a *Allocator) Next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
