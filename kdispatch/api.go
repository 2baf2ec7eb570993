package kdispatch

import (
	"time"

	"github.com/dplanitzer/apollo-sched/ksignal"
)

// Async implements spec.md 4.8.10's async(): submits fn for execution and
// returns immediately without a way to observe its result.
func (d *Dispatcher) Async(fn Func) error {
	return d.Submit(d.newConvItem(fn, 0))
}

// Sync implements spec.md 4.8.10's sync(): submits fn and blocks until it
// has run, returning its result.
func (d *Dispatcher) Sync(fn Func) (any, error) {
	item := d.newConvItem(fn, FlagAwaitable)
	if err := d.Submit(item); err != nil {
		return nil, err
	}
	return d.Await(item)
}

// After implements spec.md 4.8.10's after(): arms fn to run once, wtp after
// now.
func (d *Dispatcher) After(wtp time.Duration, fn Func) error {
	item := d.newConvItem(fn, 0)
	return d.ArmTimer(d.clock.Now().Add(wtp), 0, item)
}

// Repeating implements spec.md 4.8.10's repeating(): arms fn to run first
// wtp after now, then every itp thereafter until cancelled.
func (d *Dispatcher) Repeating(wtp, itp time.Duration, fn Func) (*Item, error) {
	item := d.newConvItem(fn, 0)
	if err := d.ArmTimer(d.clock.Now().Add(wtp), itp, item); err != nil {
		return nil, err
	}
	return item, nil
}

// OnSignal implements spec.md 4.8.10's on_signal(): registers fn to run
// every time sig is delivered to this dispatcher.
func (d *Dispatcher) OnSignal(sig ksignal.Signal, fn Func) (*Item, error) {
	item := d.newConvItem(fn, 0)
	if err := d.ItemOnSignal(sig, item); err != nil {
		return nil, err
	}
	return item, nil
}

// newConvItem borrows a recycled convenience item from the cache if one is
// available, otherwise allocates a fresh one (spec.md 4.8.10's "small
// cache of convenience items" reused by async/sync/after/repeating).
func (d *Dispatcher) newConvItem(fn Func, flags ItemFlags) *Item {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.convItemCache); n > 0 {
		it := d.convItemCache[n-1]
		d.convItemCache = d.convItemCache[:n-1]
		it.inCache = false
		it.Func = fn
		it.Flags = flags
		it.Type = TypeCachedConvItem
		return it
	}

	return &Item{Func: fn, Flags: flags, Type: TypeCachedConvItem, State: StateIdle}
}
