// Package kdispatch implements the dispatch-queue layer built on top of
// package sched: a dispatcher multiplexes user- and kernel-submitted work
// items, timers and signal monitors over a pool of worker VCPUs with
// elastic concurrency, QoS-based scheduling, suspension, cancellation and
// orderly termination (spec.md 3-4.8).
//
// Unlike package sched (a single cooperative virtual CPU, serialized by
// Park/Unpark handoff), a Dispatcher's workers contend for real state --
// the work queues, timer queue and signal-trap table -- the way the
// original kernel's dispatch workers contend for the dispatcher's mutex
// plus condvar. That real contention is why this layer reaches for package
// klock (the Mu/CV pair) rather than sched's preemption-disable model.
package kdispatch

import (
	"time"

	"github.com/dplanitzer/apollo-sched/ksignal"
)

// ItemType distinguishes the five kinds of dispatch item (spec.md 3).
type ItemType int

const (
	TypeUserItem ItemType = iota
	TypeUserSignal
	TypeUserTimer
	TypeCachedConvItem
	TypeCachedConvTimer
)

// ItemFlags are the per-item bits named in spec.md 3.
type ItemFlags uint8

const (
	FlagCancelled ItemFlags = 1 << iota
	FlagAwaitable
	FlagCacheable
	FlagRepeating
)

// ItemState is a dispatch item's lifecycle state (spec.md 3).
type ItemState int

const (
	StateIdle ItemState = iota
	StateScheduled
	StateExecuting
	StateFinished
	StateCancelled
)

// Func is the user function an Item invokes.
type Func func(it *Item) (any, error)

// RetireFunc is an optional callback run after Func completes or the item
// is cancelled before executing.
type RetireFunc func(it *Item, result any, err error)

// Item is the value-semantic descriptor of one invocation (spec.md 3).
// Exactly one of {worker queue, timer queue, signal-trap list, zombie
// list, cache, idle/owned-by-user} holds a given Item at any time; which
// container currently holds it is tracked by the unexported list-linkage
// fields below, never by more than one simultaneously.
type Item struct {
	Func   Func
	Retire RetireFunc
	Type   ItemType
	Flags  ItemFlags
	State  ItemState

	Result any
	Err    error

	// Signal monitor linkage.
	MonitorSignal ksignal.Signal

	// Timer linkage, set when Type is TypeUserTimer/TypeCachedConvTimer.
	timer *Timer

	// set by whichever container currently holds this item.
	inWorker  *Worker
	inTrap    bool
	inZombie  bool
	inCache   bool
}

// Cancelled reports whether the item has been marked cancelled
// (current_item_cancelled).
func (it *Item) Cancelled() bool {
	return it.Flags&FlagCancelled != 0
}

// NewItem returns an idle item wrapping fn.
func NewItem(fn Func) *Item {
	return &Item{Func: fn, State: StateIdle}
}

// Timer pairs a dispatch item with an absolute deadline and repeat
// interval (spec.md 3, "Timer"). Interval == 0 means one-shot; a positive
// Interval means repeating (the "interval (∞ for one-shot)" of the
// original reworked as "zero means no repeat", since Go has no infinite
// duration sentinel worth the confusion).
type Timer struct {
	Item     *Item
	Deadline time.Time
	Interval time.Duration
}

// Repeating reports whether t should be rearmed after it fires.
func (t *Timer) Repeating() bool {
	return t.Interval > 0
}
