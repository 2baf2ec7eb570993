package kdispatch

import (
	"container/list"

	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/vcpu"
)

// Worker is a VCPU together with a local FIFO work queue (spec.md 3,
// "Dispatch worker"). Workers are owned by exactly one Dispatcher.
type Worker struct {
	VP *vcpu.VCPU

	queue     list.List // elements are *Item
	WorkCount int

	CurrentItem  *Item
	CurrentTimer *Timer

	HotSignals      ksignal.Set
	AllowRelinquish bool
	IsSuspended     bool
}

func newWorker(vp *vcpu.VCPU) *Worker {
	return &Worker{VP: vp, HotSignals: ksignal.Of(ksignal.SIGDISP)}
}

func (w *Worker) pushBack(it *Item) {
	w.queue.PushBack(it)
	w.WorkCount++
	it.inWorker = w
}

func (w *Worker) popFront() *Item {
	e := w.queue.Front()
	if e == nil {
		return nil
	}
	it := e.Value.(*Item)
	w.queue.Remove(e)
	w.WorkCount--
	it.inWorker = nil
	return it
}

// remove deletes it from w's queue if present, returning whether it was
// found.
func (w *Worker) remove(it *Item) bool {
	for e := w.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(*Item) == it {
			w.queue.Remove(e)
			w.WorkCount--
			it.inWorker = nil
			return true
		}
	}
	return false
}
