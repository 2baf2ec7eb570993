package klock

import (
	"sync"
	"sync/atomic"
	"time"
)

// A CV is a Mesa-style condition variable, as used by a kdispatch.Dispatcher
// to block a worker inside get_next_work until a new item, timer or signal
// is available. The zero CV is valid and has no enqueued waiters, so a
// Dispatcher needs no explicit CV constructor.
//
// Usage, with cv.Broadcast() called whenever the predicate becomes true:
//
//	mu.Lock()
//	for !predicate {
//	        cv.Wait(&mu)
//	}
//	mu.Unlock()
//
// Or with a deadline, mirroring waitq's timedwait:
//
//	mu.Lock()
//	for !predicate && cv.WaitWithDeadline(&mu, deadline, cancel) == klock.OK {
//	}
//	mu.Unlock()
type CV struct {
	word    uint32
	waiters dll
}

// Bits in CV.word.
const (
	cvSpinlock = 1 << iota // protects waiters
	cvNonEmpty             // waiters list is non-empty
)

// Outcomes of CV.WaitWithDeadline.
const (
	OK        = iota // neither expired nor cancelled
	Expired           // absDeadline expired
	Cancelled         // cancelChan was closed
)

// WaitWithDeadline atomically releases mu and blocks the caller on *cv. It
// returns once woken by Signal/Broadcast (or a spurious wakeup), once
// absDeadline passes, or once cancelChan is closed, reacquiring mu in every
// case. Use klock.NoDeadline for no deadline and a nil cancelChan for no
// cancellation. Must be called in a loop, as with any Mesa-style CV.
func (cv *CV) WaitWithDeadline(mu sync.Locker, absDeadline time.Time, cancelChan <-chan struct{}) (outcome int) {
	w := newWaiter()
	atomic.StoreUint32(&w.waiting, 1)
	cvMu, _ := mu.(*Mu)
	w.cvMu = cvMu

	oldWord := spinTestAndSet(&cv.word, cvSpinlock, cvSpinlock|cvNonEmpty)
	if (oldWord & cvNonEmpty) == 0 {
		cv.waiters.MakeEmpty()
	}
	w.q.InsertAfter(&cv.waiters)
	atomic.StoreUint32(&cv.word, oldWord|cvNonEmpty)

	mu.Unlock()

	var deadlineTimer *time.Timer
	if absDeadline != NoDeadline {
		deadlineTimer = w.deadlineTimer
		if deadlineTimer.Reset(time.Until(absDeadline)) {
			fatalf("klock: deadlineTimer was active")
		}
	}

	semOutcome := OK
	var attempts uint
	for atomic.LoadUint32(&w.waiting) != 0 {
		if semOutcome == OK {
			semOutcome = w.sem.PWithDeadline(deadlineTimer, cancelChan)
		}
		if semOutcome != OK && atomic.LoadUint32(&w.waiting) != 0 {
			oldWord = spinTestAndSet(&cv.word, cvSpinlock, cvSpinlock)
			if atomic.LoadUint32(&w.waiting) != 0 && w.q.IsInList(&cv.waiters) {
				outcome = semOutcome
				w.q.Remove()
				atomic.StoreUint32(&w.waiting, 0)
				if cv.waiters.IsEmpty() {
					oldWord &^= cvNonEmpty
				}
			}
			atomic.StoreUint32(&cv.word, oldWord)
			if atomic.LoadUint32(&w.waiting) != 0 {
				attempts = spinDelay(attempts)
			}
		}
	}

	if deadlineTimer != nil && semOutcome != Expired && !deadlineTimer.Stop() {
		<-deadlineTimer.C
	}

	if cvMu != nil && w.cvMu == nil {
		cvMu.lockSlow(w, muDesigWaker)
	} else {
		freeWaiter(w)
		mu.Lock()
	}
	return outcome
}

// Signal wakes at least one thread currently enqueued on *cv.
func (cv *CV) Signal() {
	if (atomic.LoadUint32(&cv.word) & cvNonEmpty) != 0 {
		var toWakeList *waiter
		oldWord := spinTestAndSet(&cv.word, cvSpinlock, cvSpinlock)
		if !cv.waiters.IsEmpty() {
			toWakeList = cv.waiters.prev.elem
			toWakeList.q.Remove()
			toWakeList.q.MakeEmpty()
			if cv.waiters.IsEmpty() {
				oldWord &^= cvNonEmpty
			}
		}
		atomic.StoreUint32(&cv.word, oldWord)
		if toWakeList != nil {
			wakeWaiters(toWakeList)
		}
	}
}

// Broadcast wakes every thread currently enqueued on *cv.
func (cv *CV) Broadcast() {
	if (atomic.LoadUint32(&cv.word) & cvNonEmpty) != 0 {
		var toWakeList *waiter
		spinTestAndSet(&cv.word, cvSpinlock, cvSpinlock)
		if !cv.waiters.IsEmpty() {
			toWakeList = cv.waiters.next.elem
			cv.waiters.Remove()
			cv.waiters.MakeEmpty()
		}
		atomic.StoreUint32(&cv.word, 0)
		if toWakeList != nil {
			wakeWaiters(toWakeList)
		}
	}
}

// Wait releases mu, blocks on *cv until Signal/Broadcast (or a spurious
// wakeup), then reacquires mu. Equivalent to WaitWithDeadline with
// klock.NoDeadline and a nil cancelChan.
func (cv *CV) Wait(mu sync.Locker) {
	cv.WaitWithDeadline(mu, NoDeadline, nil)
}

// wakeWaiters wakes the CV waiters in the circular list toWakeList, which
// must not be nil. A waiter associated with a klock.Mu may instead be
// transferred straight to that Mu's queue -- the common case for a
// dispatcher worker re-blocking on the dispatcher lock immediately after
// being woken from the dispatcher condvar.
func wakeWaiters(toWakeList *waiter) {
	firstWaiter := toWakeList.q.prev.elem
	mu := firstWaiter.cvMu
	if mu != nil {
		oldMuWord := atomic.LoadUint32(&mu.word)
		locked := (oldMuWord & muLock) != 0
		var setDesigWaker uint32
		if !locked {
			setDesigWaker = muDesigWaker
		}
		if (oldMuWord&muSpinlock) == 0 &&
			(locked || firstWaiter != toWakeList) &&
			atomic.CompareAndSwapUint32(&mu.word, oldMuWord, oldMuWord|muSpinlock|muWaiting|setDesigWaker) {

			toTransferList := toWakeList
			if locked {
				toWakeList = nil
			} else {
				toWakeList = firstWaiter
				toWakeList.q.Remove()
				toWakeList.q.MakeEmpty()
			}

			for toTransferList != nil {
				toTransfer := toTransferList.q.prev.elem
				if toTransfer == toTransferList {
					toTransferList = nil
				} else {
					toTransfer.q.Remove()
				}
				if toTransfer.cvMu != mu {
					fatalf("klock: multiple mutexes used with one condition variable")
				}
				toTransfer.cvMu = nil
				if (oldMuWord & muWaiting) == 0 {
					mu.waiters.MakeEmpty()
					oldMuWord |= muWaiting
				}
				toTransfer.q.InsertAfter(&mu.waiters)
			}

			oldMuWord = atomic.LoadUint32(&mu.word)
			for !atomic.CompareAndSwapUint32(&mu.word, oldMuWord, oldMuWord&^muSpinlock) {
				oldMuWord = atomic.LoadUint32(&mu.word)
			}
		} else if (oldMuWord & (muSpinlock | muLock | muDesigWaker)) == 0 {
			atomic.CompareAndSwapUint32(&mu.word, oldMuWord, oldMuWord|muDesigWaker)
		}
	}

	for toWakeList != nil {
		toWake := toWakeList.q.prev.elem
		if toWake == toWakeList {
			toWakeList = nil
		} else {
			toWake.q.Remove()
		}
		atomic.StoreUint32(&toWake.waiting, 0)
		toWake.sem.V()
	}
}
