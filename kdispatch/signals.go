package kdispatch

import (
	"context"

	"github.com/dplanitzer/apollo-sched/ksignal"
)

// reservedSignals may never be monitored via ItemOnSignal (spec.md 4.8.8).
var reservedSignals = ksignal.Of(ksignal.SIGDISP, ksignal.SIGKILL, ksignal.SIGVPRQ, ksignal.SIGVPDS, ksignal.SIGSTOP)

// ItemOnSignal implements spec.md 4.8.8: rejects reserved signals, ensures
// worker capacity, lazily allocates the signal-trap table, appends item to
// the trap's monitor list, and on the 0→1 edge adds the bit to every
// worker's hot-signal mask and wakes them.
func (d *Dispatcher) ItemOnSignal(sig ksignal.Signal, item *Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if reservedSignals.Has(sig) {
		return ErrInvalidArgument
	}
	if err := d.ensureCapacity(ensureReasonNewItem); err != nil {
		return err
	}
	if d.signalTraps == nil {
		d.signalTraps = make(map[ksignal.Signal]*signalTrap)
	}
	trap, ok := d.signalTraps[sig]
	if !ok {
		trap = &signalTrap{}
		d.signalTraps[sig] = trap
	}

	item.MonitorSignal = sig
	item.Type = TypeUserSignal
	item.State = StateIdle
	item.inTrap = true
	trap.monitors.PushBack(item)
	trap.count++

	if trap.count == 1 {
		for _, w := range d.workers {
			w.HotSignals = w.HotSignals.Insert(sig)
		}
		_ = d.hooks.Emit(context.Background(), EventSignalTrapAdded, Event{Kind: EventSignalTrapAdded, Detail: sig.String()})
		d.wakeupAllWorkers()
	}
	return nil
}

func (d *Dispatcher) removeFromSignalTrapLocked(item *Item) {
	trap, ok := d.signalTraps[item.MonitorSignal]
	if !ok {
		return
	}
	for e := trap.monitors.Front(); e != nil; e = e.Next() {
		if e.Value.(*Item) == item {
			trap.monitors.Remove(e)
			trap.count--
			item.inTrap = false
			break
		}
	}
	if trap.count == 0 {
		delete(d.signalTraps, item.MonitorSignal)
		for _, w := range d.workers {
			w.HotSignals = w.HotSignals.Remove(item.MonitorSignal)
		}
	}
}

// AllocSignal implements spec.md 4.8.8: allocates a user signal from the
// SIGUSR range; if signo <= 0, picks the highest-numbered free one.
func (d *Dispatcher) AllocSignal(signo ksignal.Signal) (ksignal.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if signo > 0 {
		if signo < ksignal.SIGUSRMIN || signo > ksignal.SIGUSRMAX || d.allocatedUserSignals.Has(signo) {
			return 0, ErrInvalidArgument
		}
		d.allocatedUserSignals = d.allocatedUserSignals.Insert(signo)
		return signo, nil
	}
	for s := ksignal.SIGUSRMAX; s >= ksignal.SIGUSRMIN; s-- {
		if !d.allocatedUserSignals.Has(s) {
			d.allocatedUserSignals = d.allocatedUserSignals.Insert(s)
			return s, nil
		}
	}
	return 0, ErrCapacity
}

// FreeSignal releases a previously allocated user signal.
func (d *Dispatcher) FreeSignal(sig ksignal.Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocatedUserSignals = d.allocatedUserSignals.Remove(sig)
}

// SendSignal implements spec.md 4.8.8: if MaxConcurrency == 1, send only
// to the first worker; else send to every worker so any may wake and
// handle it.
func (d *Dispatcher) SendSignal(sig ksignal.Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.workers) == 0 {
		return
	}
	if d.attr.MaxConcurrency == 1 {
		d.kernel.Send(d.workers[0].VP, sig)
	} else {
		for _, w := range d.workers {
			d.kernel.Send(w.VP, sig)
		}
	}
	d.cv.Broadcast()
}
