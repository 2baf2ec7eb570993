package kdispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/dplanitzer/apollo-sched/klock"
)

// getNextWork implements spec.md 4.8.4's get_next_work: check the shared
// timer queue's head, then the worker's own FIFO, then steal from the
// busiest sibling, then (if nothing is ready) block on the dispatcher's
// condvar with a deadline set to the next timer's firing time, handling
// suspension and signal traps along the way. Must be called with d.mu held;
// returns with d.mu held.
func (d *Dispatcher) getNextWork(w *Worker) (item *Item, tm *Timer, relinquish bool) {
	for {
		now := d.clock.Now()

		if e := d.timerQueue.Front(); e != nil {
			head := e.Value.(*Timer)
			if !head.Deadline.After(now) {
				d.timerQueue.Remove(e)
				head.Item.State = StateExecuting
				head.Item.inWorker = nil
				return head.Item, head, false
			}
		}

		if it := w.popFront(); it != nil {
			it.State = StateExecuting
			return it, nil, false
		}

		if it := d.stealWorkItem(w); it != nil {
			it.State = StateExecuting
			it.inWorker = nil
			return it, nil, false
		}

		if sig, ok := w.VP.ConsumePending(w.HotSignals); ok {
			if trap, ok := d.signalTraps[sig]; ok && trap.monitors.Len() > 0 {
				for e := trap.monitors.Front(); e != nil; e = trap.monitors.Front() {
					it := e.Value.(*Item)
					trap.monitors.Remove(e)
					trap.count--
					it.inTrap = false
					it.State = StateScheduled
					w.pushBack(it)
				}
				delete(d.signalTraps, sig)
				for _, ww := range d.workers {
					ww.HotSignals = ww.HotSignals.Remove(sig)
				}
				continue
			}
		}

		if d.state == StateSuspending || d.state == StateSuspended {
			w.IsSuspended = true
			d.cv.Broadcast()
			for d.state == StateSuspending || d.state == StateSuspended {
				d.cv.Wait(&d.mu)
			}
			w.IsSuspended = false
			continue
		}

		if d.state >= StateTerminating {
			return nil, nil, true
		}

		if w.AllowRelinquish && len(d.workers) > d.attr.MinConcurrency {
			return nil, nil, true
		}

		deadline := klock.NoDeadline
		if e := d.timerQueue.Front(); e != nil {
			deadline = e.Value.(*Timer).Deadline
		}
		d.cv.WaitWithDeadline(&d.mu, deadline, nil)
	}
}

// workerLoop is the outer loop run on a worker's VCPU (spec.md 4.8.4): fetch
// the next unit of work, execute it with the dispatcher lock dropped, then
// retire it. Returns (letting the VCPU relinquish itself back to sched) once
// getNextWork signals there is nothing left to do and this worker is
// allowed to shrink away.
func (d *Dispatcher) workerLoop(w *Worker) {
	d.mu.Lock()
	for {
		item, tm, relinquish := d.getNextWork(w)
		if relinquish {
			d.relinquishWorker(w)
			return
		}

		w.CurrentItem = item
		w.CurrentTimer = tm
		d.mu.Unlock()

		ctx, span := d.tracer.StartSpan(context.Background(), SpanItemExecute)
		span.SetTag(TagItemType, itemTypeName(item.Type))
		span.SetTag(TagItemQoS, strconv.Itoa(int(d.attr.QoS)))
		var result any
		var err error
		if !item.Cancelled() {
			result, err = item.Func(item)
		}
		span.SetTag(TagItemCancelled, boolTag(item.Cancelled()))
		span.Finish()
		_ = ctx

		d.mu.Lock()
		w.CurrentItem = nil
		w.CurrentTimer = nil
		d.retireLocked(item, result, err)
	}
}

// retireLocked implements spec.md 4.8.4's retire: a plain item runs its
// optional Retire callback and, if awaitable, moves to the zombie list for
// Await to collect, else is simply dropped (or returned to the conv-item
// cache if cacheable); a signal-monitor item is re-armed into its trap
// unless cancelled; a timer item is rearmed unless one-shot or cancelled.
// Must be called with d.mu held.
func (d *Dispatcher) retireLocked(item *Item, result any, err error) {
	d.metrics.Counter(MetricItemsRetired).Inc()

	switch item.Type {
	case TypeUserTimer, TypeCachedConvTimer:
		tm := item.timer
		if tm != nil && tm.Repeating() && !item.Cancelled() {
			d.rearmTimerLocked(tm)
			return
		}
		item.timer = nil
		if item.Cancelled() {
			item.State = StateCancelled
		} else {
			item.State = StateFinished
		}
		d.finishPlainItemLocked(item, result, err)
		return

	case TypeUserSignal:
		// spec.md 4.8.4 phrases retire as "if repeating and not cancelled,
		// re-insert, else fully retire"; a signal monitor has no interval to
		// be repeating or not, it is simply re-armed on every delivery until
		// on_signal's caller cancels it (api.go's OnSignal never sets a
		// repeat count), so the condition collapses to just !Cancelled().
		if !item.Cancelled() {
			trap, ok := d.signalTraps[item.MonitorSignal]
			if !ok {
				trap = &signalTrap{}
				d.signalTraps[item.MonitorSignal] = trap
			}
			item.State = StateIdle
			item.inTrap = true
			trap.monitors.PushBack(item)
			trap.count++
			if trap.count == 1 {
				for _, w := range d.workers {
					w.HotSignals = w.HotSignals.Insert(item.MonitorSignal)
				}
			}
			return
		}
		item.State = StateCancelled
		d.finishPlainItemLocked(item, result, err)
		return

	default:
		if item.Cancelled() {
			item.State = StateCancelled
		} else {
			item.State = StateFinished
		}
		d.finishPlainItemLocked(item, result, err)
	}
}

func (d *Dispatcher) finishPlainItemLocked(item *Item, result any, err error) {
	item.Result = result
	item.Err = err

	if item.Retire != nil {
		item.Retire(item, result, err)
	}

	if item.Flags&FlagAwaitable != 0 {
		item.inZombie = true
		d.zombies.PushBack(item)
		d.cv.Broadcast()
		return
	}

	if item.Flags&FlagCacheable != 0 && len(d.convItemCache) < convItemCacheCap {
		*item = Item{State: StateIdle, inCache: true}
		d.convItemCache = append(d.convItemCache, item)
	}
}

func itemTypeName(t ItemType) string {
	switch t {
	case TypeUserItem:
		return "user_item"
	case TypeUserSignal:
		return "user_signal"
	case TypeUserTimer:
		return "user_timer"
	case TypeCachedConvItem:
		return "cached_conv_item"
	case TypeCachedConvTimer:
		return "cached_conv_timer"
	default:
		return "unknown"
	}
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
