package klock

import (
	"math"
	"sync/atomic"
	"time"
)

// A dll is a doubly-linked list of waiters.
type dll struct {
	next *dll
	prev *dll
	elem *waiter // the waiter struct this dll struct is embedded in, or nil.
}

// MakeEmpty makes list *l empty.
// Requires that *l is currently not part of a non-empty list.
func (l *dll) MakeEmpty() {
	l.next = l
	l.prev = l
}

// IsEmpty returns whether list *l is empty.
func (l *dll) IsEmpty() bool {
	return l.next == l
}

// InsertAfter inserts element *e into the list after position *p.
func (e *dll) InsertAfter(p *dll) {
	e.next = p.next
	e.prev = p
	e.next.prev = e
	e.prev.next = e
}

// Remove removes *e from the list it is currently in.
func (e *dll) Remove() {
	e.next.prev = e.prev
	e.prev.next = e.next
}

// IsInList returns whether element e can be found in list l.
func (e *dll) IsInList(l *dll) bool {
	p := l.next
	for p != e && p != l {
		p = p.next
	}
	return p == e
}

// A waiter represents a single waiter on a CV or a Mu.
//
// To wait: allocate a waiter struct *w with newWaiter(), set w.waiting=1 and
// w.cvMu=nil or to the associated Mu, queue w.dll on some queue, then wait
// using:
//
//	for atomic.LoadUint32(&w.waiting) != 0 { w.sem.P() }
//
// Return *w to the freepool by calling freeWaiter(w).
//
// To wake up: remove *w from the relevant queue then:
//
//	atomic.StoreUint32(&w.waiting, 0)
//	w.sem.V()
type waiter struct {
	q             dll
	sem           binarySemaphore
	deadlineTimer *time.Timer

	// cvMu is non-nil if this waiter is waiting on a CV associated with a Mu.
	cvMu *Mu

	// waiting is non-zero iff the waiter is waiting (read/written atomically).
	waiting uint32
}

var freeWaiters dll
var freeWaitersMu uint32

// newWaiter returns a pointer to an unused waiter struct. The enclosed timer
// is guaranteed stopped and its channel drained.
func newWaiter() (w *waiter) {
	spinTestAndSet(&freeWaitersMu, 1, 1)
	if freeWaiters.next == nil {
		freeWaiters.MakeEmpty()
	}
	if !freeWaiters.IsEmpty() {
		q := freeWaiters.next
		q.Remove()
		w = q.elem
	}
	atomic.StoreUint32(&freeWaitersMu, 0)
	if w == nil {
		w = new(waiter)
		w.sem.Init()
		w.deadlineTimer = time.NewTimer(time.Duration(math.MaxInt64))
		w.deadlineTimer.Stop()
		w.q.elem = w
	}
	return w
}

// freeWaiter returns an unused waiter struct *w to the free pool.
func freeWaiter(w *waiter) {
	spinTestAndSet(&freeWaitersMu, 1, 1)
	w.q.InsertAfter(&freeWaiters)
	atomic.StoreUint32(&freeWaitersMu, 0)
}
