package kdispatch

import "time"

// ArmTimer implements spec.md 4.8.7: takes an absolute deadline (callers
// such as After and Repeating add their delay to the dispatcher's clock
// first), inserts into the shared timer queue at the correct sorted
// position (FIFO on equal deadlines), and wakes all workers so one of them
// picks it up.
func (d *Dispatcher) ArmTimer(deadline time.Time, interval time.Duration, item *Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state >= StateTerminating {
		return ErrTerminated
	}
	if item.State == StateScheduled || item.State == StateExecuting {
		return ErrBusy
	}

	tm := &Timer{Item: item, Deadline: deadline, Interval: interval}
	item.timer = tm
	item.Type = TypeUserTimer
	item.State = StateScheduled
	item.Flags &^= FlagCancelled
	if interval > 0 {
		item.Flags |= FlagRepeating
	}

	d.insertTimerLocked(tm)
	d.metrics.Counter(MetricTimersArmed).Inc()
	d.wakeupAllWorkers()
	d.cv.Broadcast()
	return nil
}

func (d *Dispatcher) insertTimerLocked(tm *Timer) {
	for e := d.timerQueue.Front(); e != nil; e = e.Next() {
		if e.Value.(*Timer).Deadline.After(tm.Deadline) {
			d.timerQueue.InsertBefore(tm, e)
			return
		}
	}
	d.timerQueue.PushBack(tm)
}

// rearmTimerLocked implements spec.md 4.8.7's rearm_timer: advances Deadline by
// Interval until strictly after now, then re-queues. Must be called with
// d.mu held.
func (d *Dispatcher) rearmTimerLocked(tm *Timer) {
	now := d.clock.Now()
	if tm.Interval <= 0 {
		return
	}
	for !tm.Deadline.After(now) {
		tm.Deadline = tm.Deadline.Add(tm.Interval)
	}
	tm.Item.State = StateScheduled
	d.insertTimerLocked(tm)
}
