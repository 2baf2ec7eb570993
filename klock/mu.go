package klock

import "sync/atomic"

// Implementation notes
//
// Mu and CV both protect their waiter queues with spinlocks built from
// atomic operations plus the delay loop in common.go, rather than with an
// independent lock, so klock has no dependency on the scheduler.
//
// Mu and CV use the same doubly-linked waiter list (waiter.go). This lets a
// waiter be transferred from the CV queue directly to the Mu queue when a
// worker is logically woken from the CV but would immediately block on the
// Mu again (see wakeWaiters in cv.go) -- the common case when a dispatch
// worker's get_next_work loop re-takes the dispatcher lock after a
// Broadcast.
//
// In Mu, the "designated waker" is a thread that was woken but has neither
// acquired the lock nor gone back to sleep yet. Its presence, recorded by
// the muDesigWaker bit, lets Unlock avoid waking a second waiter when one is
// already on its way to take over.

// A Mu is a mutex. Its zero value is valid and unlocked.
type Mu struct {
	word    uint32
	waiters dll
}

// Bits in Mu.word.
const (
	muLock       = 1 << iota // lock is held.
	muSpinlock               // spinlock is held (protects waiters).
	muWaiting                // waiter list is non-empty.
	muDesigWaker              // a former waiter has woken and not yet acquired or re-slept.
)

// TryLock attempts to acquire *mu without blocking, and returns whether it succeeded.
func (mu *Mu) TryLock() bool {
	if atomic.CompareAndSwapUint32(&mu.word, 0, muLock) {
		return true
	}
	oldWord := atomic.LoadUint32(&mu.word)
	return (oldWord&muLock) == 0 && atomic.CompareAndSwapUint32(&mu.word, oldWord, oldWord|muLock)
}

// Lock blocks until *mu is free and then acquires it.
func (mu *Mu) Lock() {
	if !atomic.CompareAndSwapUint32(&mu.word, 0, muLock) {
		oldWord := atomic.LoadUint32(&mu.word)
		if (oldWord&muLock) != 0 || !atomic.CompareAndSwapUint32(&mu.word, oldWord, oldWord|muLock) {
			mu.lockSlow(newWaiter(), 0)
		}
	}
}

// lockSlow locks *mu, waiting on *w if necessary. clear is zero if the
// caller has not previously slept on *mu, or muDesigWaker if it has.
func (mu *Mu) lockSlow(w *waiter, clear uint32) {
	var attempts uint
	w.cvMu = nil
	for {
		oldWord := atomic.LoadUint32(&mu.word)
		if (oldWord & muLock) == 0 {
			if atomic.CompareAndSwapUint32(&mu.word, oldWord, (oldWord|muLock)&^clear) {
				freeWaiter(w)
				return
			}
		} else if (oldWord&muSpinlock) == 0 &&
			atomic.CompareAndSwapUint32(&mu.word, oldWord, (oldWord|muSpinlock|muWaiting)&^clear) {

			atomic.StoreUint32(&w.waiting, 1)
			if (oldWord & muWaiting) == 0 {
				mu.waiters.MakeEmpty()
			}
			w.q.InsertAfter(&mu.waiters)

			oldWord = atomic.LoadUint32(&mu.word)
			for !atomic.CompareAndSwapUint32(&mu.word, oldWord, oldWord&^muSpinlock) {
				oldWord = atomic.LoadUint32(&mu.word)
			}

			for atomic.LoadUint32(&w.waiting) != 0 {
				w.sem.P()
			}

			attempts = 0
			clear = muDesigWaker
		}
		attempts = spinDelay(attempts)
	}
}

// Unlock unlocks *mu and wakes a waiter if there is one.
func (mu *Mu) Unlock() {
	newWord := atomic.AddUint32(&mu.word, ^uint32(muLock-1))
	if (newWord&(muLock|muWaiting)) == 0 || (newWord&(muLock|muDesigWaker)) == muDesigWaker {
		return
	}

	if (newWord & muLock) != 0 {
		fatalf("klock: Unlock of a free Mu")
	}

	var attempts uint
	for {
		oldWord := atomic.LoadUint32(&mu.word)
		if (oldWord&muWaiting) == 0 || (oldWord&muDesigWaker) == muDesigWaker {
			return
		} else if (oldWord&muSpinlock) == 0 &&
			atomic.CompareAndSwapUint32(&mu.word, oldWord, oldWord|muSpinlock|muDesigWaker) {

			if mu.waiters.elem != nil {
				fatalf("klock: non-nil Mu.waiters.elem")
			}

			wake := mu.waiters.prev.elem
			var clearOnRelease uint32 = muSpinlock
			if wake != nil {
				wake.q.Remove()
			} else {
				clearOnRelease |= muDesigWaker
			}
			if mu.waiters.IsEmpty() {
				clearOnRelease |= muWaiting
			}
			oldWord = atomic.LoadUint32(&mu.word)
			for !atomic.CompareAndSwapUint32(&mu.word, oldWord, (oldWord|muDesigWaker)&^clearOnRelease) {
				oldWord = atomic.LoadUint32(&mu.word)
			}
			if wake != nil {
				atomic.StoreUint32(&wake.waiting, 0)
				wake.sem.V()
			}
			return
		}
		attempts = spinDelay(attempts)
	}
}

// AssertHeld panics if *mu is not held. It is meant for use in assertions
// guarding invariants documented as "requires the dispatcher lock held".
func (mu *Mu) AssertHeld() {
	if (atomic.LoadUint32(&mu.word) & muLock) == 0 {
		fatalf("klock: Mu not held")
	}
}
