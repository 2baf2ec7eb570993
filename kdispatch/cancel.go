package kdispatch

// CancelItem implements spec.md 4.8.6: if Scheduled, mark cancelled and
// remove from whichever container holds it, then retire; if Executing,
// only set the cancelled flag (the running function must observe it via
// Item.Cancelled); otherwise a no-op.
func (d *Dispatcher) CancelItem(item *Item) {
	d.mu.Lock()
	switch item.State {
	case StateScheduled:
		item.Flags |= FlagCancelled
		d.removeScheduledLocked(item)
		d.metrics.Counter(MetricItemsCancelled).Inc()
		d.retireLocked(item, nil, nil)
		d.mu.Unlock()
	case StateExecuting:
		item.Flags |= FlagCancelled
		d.mu.Unlock()
	default:
		d.mu.Unlock()
	}
}

func (d *Dispatcher) removeScheduledLocked(item *Item) {
	if item.inWorker != nil {
		item.inWorker.remove(item)
		return
	}
	if item.timer != nil {
		for e := d.timerQueue.Front(); e != nil; e = e.Next() {
			if e.Value.(*Timer) == item.timer {
				d.timerQueue.Remove(e)
				break
			}
		}
		return
	}
	if item.inTrap {
		d.removeFromSignalTrapLocked(item)
	}
}

// Cancel implements spec.md 4.8.6's cancel(func, arg): checks the
// currently executing item of every worker first, then the timer queue,
// then worker queues, cancelling the first item for which the caller's
// match predicate returns true (Go functions are not comparable, so the
// caller decides what counts as a match).
func (d *Dispatcher) Cancel(match func(*Item) bool) bool {
	d.mu.Lock()
	for _, w := range d.workers {
		if w.CurrentItem != nil && match(w.CurrentItem) {
			it := w.CurrentItem
			d.mu.Unlock()
			d.CancelItem(it)
			return true
		}
	}
	for e := d.timerQueue.Front(); e != nil; e = e.Next() {
		tm := e.Value.(*Timer)
		if match(tm.Item) {
			it := tm.Item
			d.mu.Unlock()
			d.CancelItem(it)
			return true
		}
	}
	for _, w := range d.workers {
		for e := w.queue.Front(); e != nil; e = e.Next() {
			it := e.Value.(*Item)
			if match(it) {
				d.mu.Unlock()
				d.CancelItem(it)
				return true
			}
		}
	}
	d.mu.Unlock()
	return false
}
