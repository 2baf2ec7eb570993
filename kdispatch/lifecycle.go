package kdispatch

import (
	"context"

	"github.com/dplanitzer/apollo-sched/vlog"
)

// Suspend implements spec.md 4.8.9: increments the suspension counter and,
// on the 0→1 edge, moves the dispatcher to Suspending and wakes every
// worker so each parks itself in getNextWork's suspend sub-loop; returns
// once every worker has reported IsSuspended.
func (d *Dispatcher) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state >= StateTerminating {
		return ErrTerminated
	}

	d.suspensionCount++
	if d.suspensionCount > 1 {
		return nil
	}

	d.state = StateSuspending
	d.wakeupAllWorkers()
	d.cv.Broadcast()

	for !d.allWorkersSuspendedLocked() {
		d.cv.Wait(&d.mu)
	}
	d.state = StateSuspended

	d.mu.Unlock()
	_ = d.hooks.Emit(context.Background(), EventSuspended, Event{Kind: EventSuspended})
	d.mu.Lock()
	return nil
}

func (d *Dispatcher) allWorkersSuspendedLocked() bool {
	for _, w := range d.workers {
		if !w.IsSuspended {
			return false
		}
	}
	return true
}

// Resume implements spec.md 4.8.9: decrements the suspension counter and,
// once it reaches zero, moves the dispatcher back to Active and wakes every
// worker out of its suspend sub-loop.
func (d *Dispatcher) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.suspensionCount == 0 {
		return nil
	}
	d.suspensionCount--
	if d.suspensionCount > 0 {
		return nil
	}

	d.state = StateActive
	d.cv.Broadcast()

	d.mu.Unlock()
	_ = d.hooks.Emit(context.Background(), EventResumed, Event{Kind: EventResumed})
	d.mu.Lock()
	return nil
}

// TerminateFlags selects Terminate's draining behavior (spec.md 4.8.10).
type TerminateFlags uint8

const (
	// TerminateCancelAll cancels every item still queued (not yet
	// executing) instead of letting workers drain their queues normally.
	TerminateCancelAll TerminateFlags = 1 << iota
	// TerminateAwaitAll blocks the caller until every worker has
	// relinquished and the dispatcher has reached Terminated.
	TerminateAwaitAll
)

// Terminate implements spec.md 4.8.10: moves the dispatcher to Terminating,
// optionally cancels everything still queued, wakes every worker so each
// observes the terminating state in getNextWork and relinquishes, and
// optionally blocks until the last worker is gone.
func (d *Dispatcher) Terminate(flags TerminateFlags) error {
	d.mu.Lock()
	if d.state >= StateTerminating {
		d.mu.Unlock()
		return nil
	}
	d.state = StateTerminating
	vlog.Infof("kdispatch[%s]: terminating, flags=%v", d.attr.Name, flags)

	if flags&TerminateCancelAll != 0 {
		d.cancelAllQueuedLocked()
	}

	d.wakeupAllWorkers()
	d.cv.Broadcast()
	d.mu.Unlock()

	if flags&TerminateAwaitAll != 0 {
		d.awaitTermination()
	}
	return nil
}

func (d *Dispatcher) cancelAllQueuedLocked() {
	for e := d.timerQueue.Front(); e != nil; {
		next := e.Next()
		tm := e.Value.(*Timer)
		tm.Item.Flags |= FlagCancelled
		d.timerQueue.Remove(e)
		d.retireLocked(tm.Item, nil, nil)
		e = next
	}
	for _, w := range d.workers {
		for e := w.queue.Front(); e != nil; {
			next := e.Next()
			it := e.Value.(*Item)
			it.Flags |= FlagCancelled
			w.queue.Remove(e)
			w.WorkCount--
			it.inWorker = nil
			d.retireLocked(it, nil, nil)
			e = next
		}
	}
}

// awaitTermination blocks until every worker has relinquished, then marks
// the dispatcher Terminated and emits the corresponding hook.
func (d *Dispatcher) awaitTermination() {
	d.mu.Lock()
	for len(d.workers) > 0 {
		d.cv.Wait(&d.mu)
	}
	d.state = StateTerminated
	d.mu.Unlock()

	_ = d.hooks.Emit(context.Background(), EventTerminated, Event{Kind: EventTerminated})
}
