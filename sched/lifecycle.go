package sched

import (
	"errors"
	"time"

	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/dplanitzer/apollo-sched/vlog"
)

// Errors returned by Kernel methods, matching the taxonomy in spec.md 7.
var (
	ErrInvalidArgument = errors.New("sched: invalid argument")
	ErrBusy            = errors.New("sched: resource busy")
	ErrNotFound        = errors.New("sched: not found")
	ErrPermission      = errors.New("sched: permission denied")
)

// AcquireAttr configures a newly acquired VCPU (spec.md 4.5, acquire(attr)).
type AcquireAttr struct {
	Closure     vcpu.Closure
	GroupID     vcpu.GroupID
	SchedParams vcpu.SchedParams
}

// Acquire implements spec.md 4.5: try the pool first; on miss, allocate and
// initialize fresh. Either way the VCPU is spun up in Suspended state and
// only reconfigured once that state is observed, then given attr's machine
// context and scheduling parameters, and finally marked acquired.
func (k *Kernel) Acquire(attr AcquireAttr) (*vcpu.VCPU, error) {
	vp := k.pool.Checkout()
	if vp != nil {
		k.metrics.Counter(MetricPoolHits).Inc()
	} else {
		k.metrics.Counter(MetricPoolMisses).Inc()
		k.mu.Lock()
		id := vcpu.ID(k.nextID)
		k.nextID++
		k.mu.Unlock()

		vp = vcpu.New(id)
		k.mu.Lock()
		k.registry[id] = vp
		k.mu.Unlock()
		k.spawnGoroutine(vp)
		k.suspendLocked(vp, true) // self==true: brand new VCPU, never ran
	}

	for !vp.Suspended() {
		k.yieldLocked()
	}

	vp.GroupID = attr.GroupID
	if !vp.SetClosure(attr.Closure) {
		return nil, ErrBusy
	}
	vp.ApplySchedParams(attr.SchedParams)
	vp.MarkAcquired()

	k.metrics.Counter(MetricAcquires).Inc()
	vlog.VI(2).Infof("sched: acquired vcpu=%d group=%d qos=%v", vp.ID, vp.GroupID, attr.SchedParams.QoS)
	return vp, nil
}

// spawnGoroutine starts the goroutine backing a freshly allocated VCPU. It
// parks immediately; SetClosure+Resume is what eventually lets it run its
// entry function. This is the concrete analogue of vcpu_create allocating
// a kernel stack: instead of a stack the VCPU gets a goroutine, parked
// until the scheduler first switches to it.
func (k *Kernel) spawnGoroutine(vp *vcpu.VCPU) {
	vp.SetState(vcpu.Suspended)
	go func() {
		vp.Park()
		for {
			c := vp.Closure()
			if c.Func != nil {
				c.Func(c.Context)
			}
			k.Relinquish(vp)
			vp.Park()
		}
	}()
}

func (k *Kernel) yieldLocked() {
	time.Sleep(time.Microsecond)
}

// Relinquish is called by a VCPU on itself once it is done executing
// (spec.md 4.5, relinquish()): clears owner/user fields, attempts a pool
// checkin; on success suspends (recycling it), otherwise terminates it so
// the boot VCPU finalizes it.
func (k *Kernel) Relinquish(vp *vcpu.VCPU) {
	vp.MarkRelinquished()
	k.metrics.Counter(MetricRelinquishes).Inc()

	if k.pool.Checkin(vp) {
		k.suspendLocked(vp, true)
		return
	}
	k.terminateSelfLocked(vp)
}

// Suspend requires preemption disabled by the caller in the original;
// here it locks internally for the duration of the whole operation
// (spec.md 4.6).
func (k *Kernel) Suspend(vp *vcpu.VCPU) error {
	if !vp.Alive() {
		return ErrPermission
	}
	self := k.Running() == vp
	k.suspendLocked(vp, self)
	return nil
}

func (k *Kernel) suspendLocked(vp *vcpu.VCPU, self bool) {
	if vp.Suspended() || vp.SuspensionCount > 0 {
		vp.SuspensionCount++
		return
	}

	if vp.State() == vcpu.Initiated || (self && vp.State() == vcpu.Running) {
		vp.SuspensionCount++
		vp.SetState(vcpu.Suspended)
		if self {
			k.mu.Lock()
			next := k.highestPriorityReadyLocked()
			if next == nil {
				next = k.idle
			}
			k.removeFromReadyLocked(next)
			k.switchToLocked(vp, next)
			k.mu.Unlock()
		}
		return
	}

	// Deferred suspend: bump the suspension count and mark SIGVPDS pending.
	// Nothing in this package consumes SIGVPDS, so vp is not moved to
	// Suspended here or when it next runs; its state is left as it is.
	vp.SuspensionCount++
	k.sendLocked(vp, ksignal.SIGVPDS)
}

// Resume implements spec.md 4.6: clear any pending deferred-suspend bit,
// zero or decrement the suspension counter, and once it reaches zero clear
// any negative priority bias and insert into the ready queue.
func (k *Kernel) Resume(vp *vcpu.VCPU, force bool) {
	vp.PendingSigs = vp.PendingSigs.Remove(ksignal.SIGVPDS)

	if force {
		vp.SuspensionCount = 0
	} else if vp.SuspensionCount > 0 {
		vp.SuspensionCount--
	}

	if vp.SuspensionCount == 0 && vp.State() == vcpu.Suspended {
		vp.EffPri = vp.SchedPri
		k.AddReady(vp, vp.EffPri)
	}
}

// terminateSelfLocked drives vp to Terminating and appends it to the
// finalizer queue for the boot VCPU to release (spec.md 3, "Finalizer
// queue").
func (k *Kernel) terminateSelfLocked(vp *vcpu.VCPU) {
	vp.MarkTerminating()
	vp.SetState(vcpu.Terminating)

	k.mu.Lock()
	k.finalizer = append(k.finalizer, vp)
	next := k.highestPriorityReadyLocked()
	if next == nil {
		next = k.idle
	}
	k.removeFromReadyLocked(next)
	k.switchToLocked(vp, next)
	k.mu.Unlock()
}

// Terminate drives vp (any VCPU, not necessarily self) to termination via
// a forced SIGKILL, matching spec.md 5's "VCPU: forced SIGKILL unblocks
// all waits and drives the VCPU to termination."
func (k *Kernel) Terminate(vp *vcpu.VCPU) {
	vlog.VI(1).Infof("sched: terminating vcpu=%d", vp.ID)
	k.Send(vp, ksignal.SIGKILL)
}

// FinalizeTerminated drains the finalizer queue, releasing VCPUs that
// reached Terminating. Intended to be called periodically by the boot
// VCPU's housekeeping loop.
func (k *Kernel) FinalizeTerminated() {
	k.mu.Lock()
	drained := k.finalizer
	k.finalizer = nil
	for _, vp := range drained {
		delete(k.registry, vp.ID)
	}
	k.mu.Unlock()
	_ = drained // goroutines/closures are released by the Go GC once unreachable
}
