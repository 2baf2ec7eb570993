// Package vcpupool implements the bounded LIFO cache of relinquished VCPUs
// (spec.md 4.4), grounded on the original kernel's vcpu pool used by
// acquire/relinquish to avoid allocator pressure on the VCPU hot path.
package vcpupool

import (
	"sync"

	"github.com/dplanitzer/apollo-sched/vcpu"
)

// DefaultCapacity is the default pool capacity (spec.md 3, "VCPU pool",
// "default capacity 32").
const DefaultCapacity = 32

// Pool is a bounded LIFO of relinquished VCPUs, safe for concurrent use by
// multiple VCPUs calling Checkin/Checkout (pool access is one of the few
// places outside the dispatcher layer where genuine concurrency occurs
// here: relinquish may race acquire).
type Pool struct {
	mu       sync.Mutex
	stack    []*vcpu.VCPU
	capacity int
}

// New returns an empty pool with the given capacity. A non-positive
// capacity is replaced with DefaultCapacity.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{capacity: capacity}
}

// Checkout pops the most recently checked-in VCPU, or returns nil if the
// pool is empty (spec.md 4.4, "checkout").
func (p *Pool) Checkout() *vcpu.VCPU {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.stack)
	if n == 0 {
		return nil
	}
	vp := p.stack[n-1]
	p.stack[n-1] = nil
	p.stack = p.stack[:n-1]
	return vp
}

// Checkin pushes vp if capacity allows and reports whether it did so. The
// caller must terminate vp instead of caching it when Checkin returns
// false (spec.md 4.4, "checkin").
func (p *Pool) Checkin(vp *vcpu.VCPU) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stack) >= p.capacity {
		return false
	}
	p.stack = append(p.stack, vp)
	return true
}

// Len reports how many VCPUs are currently cached.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}
