package kdispatch

// Await implements spec.md 4.8.5: blocks until item reaches a terminal
// state (Finished or Cancelled), then removes it from the zombie list and
// returns the result captured at retirement. Calling Await on an item
// without FlagAwaitable returns ErrInvalidArgument immediately; an
// awaitable item that reached a terminal state without being placed on the
// zombie list (for example one already collected) yields ErrNotFound. An
// awaitable item that was never submitted blocks until it reaches a
// terminal state.
func (d *Dispatcher) Await(item *Item) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if item.Flags&FlagAwaitable == 0 {
		return nil, ErrInvalidArgument
	}

	for item.State != StateFinished && item.State != StateCancelled {
		d.cv.Wait(&d.mu)
	}

	if !item.inZombie {
		return nil, ErrNotFound
	}

	for e := d.zombies.Front(); e != nil; e = e.Next() {
		if e.Value.(*Item) == item {
			d.zombies.Remove(e)
			break
		}
	}
	item.inZombie = false

	return item.Result, item.Err
}
