// Package waitq implements the wait queue: a FIFO list of blocked VCPUs and
// the sole primitive on which every blocking operation in this kernel is
// expressed (mutexes, condition variables, dispatcher workers, user
// wq_wait syscalls all bottom out here). It is grounded on the original
// kernel's waitqueue.c/waitqueue.h.
//
// waitq has no lock of its own, matching the no-separate-spinlock design
// called out for the scheduler's internal state. The Scheduler methods it
// calls take the scheduler's lock themselves, so callers must not be inside
// a sched.PreemptDisable region when calling into this package (that lock
// is not reentrant).
package waitq

import (
	"container/list"

	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/vcpu"
)

// Result is the reason a wait call returned.
type Result int

const (
	ResultWakeup Result = iota
	ResultSignal
	ResultTimeout
)

// WakeReason is recorded on the VCPU at wake time and is what the wait call
// ultimately reports back as a Result.
type WakeReason int

const (
	ReasonWakeup WakeReason = iota
	ReasonSignal
	ReasonTimeout
)

// WakeFlags controls wakeone/wake.
type WakeFlags int

const (
	WakeOne WakeFlags = 1 << iota
	WakeCSW           // request a context switch if warranted
	WakeIRQ           // called from interrupt context; defer the csw
)

// Scheduler is the subset of sched.Kernel that waitq needs: enqueuing a
// woken VCPU onto the ready list, computing the wait-boost priority, and
// performing a voluntary reschedule. Defined here (rather than imported
// from package sched) to avoid an import cycle, since sched in turn calls
// into waitq for timeout delivery.
type Scheduler interface {
	// ReadyWithBoost inserts vp into the ready queue with its priority raised
	// by boost levels (WakeOne passes waited ticks divided by
	// quarterSecondTicks), clamped to the highest priority.
	ReadyWithBoost(vp *vcpu.VCPU, boost int64)
	// MaybeSwitchTo performs a voluntary reschedule check (sched.go).
	MaybeSwitchTo(vp *vcpu.VCPU)
	// Now returns the current monotonic tick.
	Now() int64
	// ArmTimeout registers vp on the scheduler's timeout queue.
	ArmTimeout(vp *vcpu.VCPU, deadline int64)
	// DisarmTimeout removes vp from the scheduler's timeout queue, if armed.
	DisarmTimeout(vp *vcpu.VCPU)
	// SwitchAway performs the actual context switch away from self (the
	// caller, which must be the running VCPU) to the next highest-priority
	// ready VCPU, returning only once self is scheduled to run again. This
	// is the hand-off point: package waitq never parks self directly, since
	// only the scheduler knows which VCPU should run next.
	SwitchAway(self *vcpu.VCPU)
}

// quarterSecondTicks is the wait-boost divisor (spec.md 4.1: "a priority
// boost proportional to floor(waited_ticks / quarter_second_in_ticks)").
// Scheduler.Now counts in nanoseconds (sched.Kernel.Now), so a quarter
// second is 250,000,000 ticks.
const quarterSecondTicks = 250_000_000

// Queue is a FIFO wait queue of blocked VCPUs.
type Queue struct {
	l   list.List // elements are *vcpu.VCPU
	elt map[*vcpu.VCPU]*list.Element
}

// New returns an empty, ready-to-use wait queue (init).
func New() *Queue {
	return &Queue{elt: make(map[*vcpu.VCPU]*list.Element)}
}

// Deinit fails with false if the queue is non-empty (spec.md 4.1: "init,
// deinit (fails if non-empty)").
func (q *Queue) Deinit() bool {
	return q.l.Len() == 0
}

// Len returns the number of VCPUs currently blocked on q.
func (q *Queue) Len() int {
	return q.l.Len()
}

func (q *Queue) enqueue(vp *vcpu.VCPU) {
	e := q.l.PushBack(vp)
	q.elt[vp] = e
}

func (q *Queue) remove(vp *vcpu.VCPU) bool {
	e, ok := q.elt[vp]
	if !ok {
		return false
	}
	q.l.Remove(e)
	delete(q.elt, vp)
	return true
}

func (q *Queue) head() *vcpu.VCPU {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*vcpu.VCPU)
}

// Wait blocks the caller on q until woken or signaled; it has no timeout
// (see TimedWait). It must be called by the currently running VCPU
// (spec.md 4.1, "wait(mask)").
//
// Once this VCPU has been appended here and its state set to Waiting, the
// scheduler's SwitchAway performs the actual context switch and parks the
// VCPU's goroutine until it is scheduled again.
func (q *Queue) Wait(sched Scheduler, self *vcpu.VCPU, mask ksignal.Set) Result {
	return q.TimedWait(sched, self, mask, -1)
}

// TimedWait is Wait with an optional absolute deadline (monotonic tick);
// pass a negative deadline for no timeout.
func (q *Queue) TimedWait(sched Scheduler, self *vcpu.VCPU, mask ksignal.Set, deadline int64) Result {
	if self.HasPendingIntersecting(mask) {
		return ResultSignal
	}
	if deadline >= 0 && deadline <= sched.Now() {
		return ResultTimeout
	}

	self.WaitingOn = q
	self.WaitSigs = mask
	self.WaitStartTime = sched.Now()
	self.SetState(vcpu.Waiting)
	q.enqueue(self)

	if deadline >= 0 {
		sched.ArmTimeout(self, deadline)
	}

	sched.SwitchAway(self)

	switch self.WakeReason() {
	case int(ReasonTimeout):
		return ResultTimeout
	case int(ReasonSignal):
		return ResultSignal
	default:
		return ResultWakeup
	}
}

// WakeOne wakes vp if it is waiting on q (spec.md 4.1, "wakeone").
func (q *Queue) WakeOne(sched Scheduler, vp *vcpu.VCPU, flags WakeFlags, reason WakeReason) {
	if vp.State() != vcpu.Waiting || vp.WaitingOn != any(q) {
		return
	}

	q.remove(vp)
	sched.DisarmTimeout(vp)
	vp.SetWakeReason(int(reason))
	vp.WaitingOn = nil

	waitedTicks := sched.Now() - vp.WaitStartTime
	if vp.SuspensionCount == 0 {
		sched.ReadyWithBoost(vp, waitedTicks/quarterSecondTicks)
	} else {
		vp.SetState(vcpu.Ready)
	}

	if flags&WakeCSW != 0 {
		sched.MaybeSwitchTo(vp)
	}
	vp.Unpark()
}

// Wake wakes the head VCPU (WakeOne set) or every VCPU on q, in FIFO order
// (spec.md 4.1, "wake").
func (q *Queue) Wake(sched Scheduler, flags WakeFlags, reason WakeReason) {
	if flags&WakeOne != 0 {
		if h := q.head(); h != nil {
			q.WakeOne(sched, h, flags, reason)
		}
		return
	}
	for {
		h := q.head()
		if h == nil {
			return
		}
		q.WakeOne(sched, h, flags, reason)
	}
}

// SigWait loops TimedWait(mask) until a signal wake, then consumes the
// lowest-numbered pending signal in set that is not SIGKILL (spec.md 4.1).
func SigWait(sched Scheduler, q *Queue, self *vcpu.VCPU, set ksignal.Set) (ksignal.Signal, Result) {
	return SigTimedWait(sched, q, self, set, -1)
}

// SigTimedWait is SigWait with an optional absolute deadline.
func SigTimedWait(sched Scheduler, q *Queue, self *vcpu.VCPU, set ksignal.Set, deadline int64) (ksignal.Signal, Result) {
	for {
		r := q.TimedWait(sched, self, set.Union(ksignal.NonMaskableWait), deadline)
		switch r {
		case ResultTimeout:
			return 0, ResultTimeout
		case ResultSignal:
			if sig, ok := self.ConsumePending(set.Union(ksignal.NonMaskableWait)); ok {
				return sig, ResultSignal
			}
			// Spurious: pending signal didn't match after all; loop.
		default:
			// Spurious wakeup result; loop per spec.md 4.1.
		}
	}
}
