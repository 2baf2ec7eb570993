package syscallapi

import (
	"sync"

	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/sched"
	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/dplanitzer/apollo-sched/waitq"
)

// WakeupFlags selects wq_wakeup's behavior (spec.md 6's wq_wakeup(flags)).
type WakeupFlags int

const (
	WakeupOne WakeupFlags = iota
	WakeupAll
)

// WaitQueueTable is a concurrency-safe handle allocator over waitq.Queue,
// mirroring the original kernel's per-process file-descriptor-like table
// design (SPEC_FULL.md 11.7): user-space syscalls never see a *waitq.Queue
// directly, only the small integer handle this table hands back from
// wq_create.
type WaitQueueTable struct {
	mu      sync.Mutex
	queues  map[int]*waitq.Queue
	nextH   int
}

// NewWaitQueueTable returns an empty handle table.
func NewWaitQueueTable() *WaitQueueTable {
	return &WaitQueueTable{queues: make(map[int]*waitq.Queue), nextH: 1}
}

// Create implements wq_create(policy): the policy argument of the original
// (FIFO vs priority wakeup ordering) has no effect here since waitq.Queue
// is always FIFO (spec.md 3, "Wait queue"); it is accepted for interface
// fidelity and ignored.
func (t *WaitQueueTable) Create(policy int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.nextH
	t.nextH++
	t.queues[h] = waitq.New()
	return h
}

// Dispose implements wq_dispose: returns EBUSY if the queue still has
// waiters (spec.md 3's deinit invariant), else removes the handle.
func (t *WaitQueueTable) Dispose(h int) Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[h]
	if !ok {
		return EBADF
	}
	if q.Len() != 0 {
		return EBUSY
	}
	q.Deinit()
	delete(t.queues, h)
	return EOK
}

func (t *WaitQueueTable) lookup(h int) (*waitq.Queue, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[h]
	return q, ok
}

// Wait implements wq_wait: an untimed wait on h's queue (NonMaskableWait is
// always interruptible, per spec.md 8's waits-always-interruptible
// invariant).
func (t *WaitQueueTable) Wait(kernel *sched.Kernel, h int, self *vcpu.VCPU) Errno {
	q, ok := t.lookup(h)
	if !ok {
		return EBADF
	}
	res := q.TimedWait(kernel, self, ksignal.NonMaskableWait, -1)
	return resultErrno(res)
}

// TimedWait implements wq_timedwait.
func (t *WaitQueueTable) TimedWait(kernel *sched.Kernel, h int, self *vcpu.VCPU, deadlineNanos int64) Errno {
	q, ok := t.lookup(h)
	if !ok {
		return EBADF
	}
	res := q.TimedWait(kernel, self, ksignal.NonMaskableWait, deadlineNanos)
	return resultErrno(res)
}

// Wakeup implements wq_wakeup(flags): wakes one or every waiter on h.
func (t *WaitQueueTable) Wakeup(kernel *sched.Kernel, h int, flags WakeupFlags) Errno {
	q, ok := t.lookup(h)
	if !ok {
		return EBADF
	}
	wf := waitq.WakeOne
	if flags == WakeupAll {
		wf = 0
	}
	q.Wake(kernel, wf, waitq.ReasonWakeup)
	return EOK
}

// WakeupThenTimedWait implements wq_wakeup_then_timedwait: an atomic
// wake-then-wait pair across two handles, used by user-space condition
// variables to avoid a wakeup racing the waiter's own enqueue. Since both
// operations are already serialized by the kernel's own lock for the
// duration of each call, performing them back to back here is equivalent
// to the original's single combined syscall.
func (t *WaitQueueTable) WakeupThenTimedWait(kernel *sched.Kernel, wakeH, waitH int, self *vcpu.VCPU, flags WakeupFlags, deadlineNanos int64) Errno {
	if errno := t.Wakeup(kernel, wakeH, flags); errno != EOK {
		return errno
	}
	return t.TimedWait(kernel, waitH, self, deadlineNanos)
}
