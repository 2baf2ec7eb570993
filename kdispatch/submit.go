package kdispatch

import "github.com/dplanitzer/apollo-sched/ksignal"

// Submit implements spec.md 4.8.3: rejects items already scheduled or
// executing, ensures worker capacity, then appends item to the worker with
// the lowest WorkCount and wakes that worker.
func (d *Dispatcher) Submit(item *Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitLocked(item)
}

func (d *Dispatcher) submitLocked(item *Item) error {
	if d.state >= StateTerminating {
		return ErrTerminated
	}
	if item.State == StateScheduled || item.State == StateExecuting {
		return ErrBusy
	}

	if err := d.ensureCapacity(ensureReasonNewItem); err != nil {
		return err
	}

	w := d.leastLoadedWorker()
	if w == nil {
		return ErrCapacity
	}

	item.Flags &^= FlagCancelled
	item.State = StateScheduled
	w.pushBack(item)
	d.metrics.Counter(MetricItemsSubmitted).Inc()

	d.kernel.Send(w.VP, ksignal.SIGDISP)
	d.cv.Broadcast()
	return nil
}

func (d *Dispatcher) leastLoadedWorker() *Worker {
	var best *Worker
	for _, w := range d.workers {
		if best == nil || w.WorkCount < best.WorkCount {
			best = w
		}
	}
	return best
}
