package syscallapi

import (
	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/sched"
	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/dplanitzer/apollo-sched/waitq"
)

// This file implements the vcpu_*/sig*/clock_* syscall surface of spec.md
// 6 as ordinary, already-argument-validated Go functions over *sched.Kernel
// -- the generic NewTable in dispatch.go is the thin SYSCALL_n-replacement
// veneer over these, not the other way around.

// VCPUErrno returns the calling VCPU's last recorded errno (vcpu_errno).
func VCPUErrno(vp *vcpu.VCPU) Errno { return Errno(vp.Errno) }

// VCPUGetID returns vp's ID (vcpu_getid).
func VCPUGetID(vp *vcpu.VCPU) vcpu.ID { return vp.ID }

// VCPUGetGroup returns vp's group ID (vcpu_getgrp).
func VCPUGetGroup(vp *vcpu.VCPU) vcpu.GroupID { return vp.GroupID }

// VCPUGetData returns vp's opaque per-VCPU user-data slot (vcpu_getdata),
// present in the original's VCPU struct but only alluded to by the
// distilled spec's syscall list.
func VCPUGetData(vp *vcpu.VCPU) uintptr { return vp.UserData }

// VCPUSetData sets vp's opaque per-VCPU user-data slot (vcpu_setdata).
func VCPUSetData(vp *vcpu.VCPU, data uintptr) { vp.UserData = data }

// AcquireArgs are the unpacked arguments to VCPUAcquire (vcpu_acquire).
type AcquireArgs struct {
	Closure     vcpu.Closure
	GroupID     vcpu.GroupID
	SchedParams vcpu.SchedParams
}

// VCPUAcquire wraps sched.Kernel.Acquire, translating its error into an
// errno (vcpu_acquire(attr, id_out)).
func VCPUAcquire(kernel *sched.Kernel, args AcquireArgs) (vcpu.ID, Errno) {
	vp, err := kernel.Acquire(sched.AcquireAttr{
		Closure:     args.Closure,
		GroupID:     args.GroupID,
		SchedParams: args.SchedParams,
	})
	if err != nil {
		return 0, translate(err)
	}
	return vp.ID, EOK
}

// VCPURelinquishSelf wraps sched.Kernel.Relinquish (vcpu_relinquish_self).
func VCPURelinquishSelf(kernel *sched.Kernel, self *vcpu.VCPU) {
	kernel.Relinquish(self)
}

// VCPUSuspend wraps sched.Kernel.Suspend (vcpu_suspend(id_or_self)).
func VCPUSuspend(kernel *sched.Kernel, vp *vcpu.VCPU) Errno {
	return translate(kernel.Suspend(vp))
}

// VCPUResume wraps sched.Kernel.Resume (vcpu_resume(id)).
func VCPUResume(kernel *sched.Kernel, vp *vcpu.VCPU, force bool) {
	kernel.Resume(vp, force)
}

// VCPUYield implements vcpu_yield: voluntarily offers the CPU to the
// highest-priority ready VCPU without blocking.
func VCPUYield(kernel *sched.Kernel, self *vcpu.VCPU) {
	if next := kernel.HighestPriorityReady(); next != nil {
		kernel.MaybeSwitchTo(next)
	}
}

// VCPUGetSchedParams returns vp's current scheduling parameters
// (vcpu_getschedparams).
func VCPUGetSchedParams(vp *vcpu.VCPU) vcpu.SchedParams { return vp.Params }

// VCPUSetSchedParams re-applies scheduling parameters to vp
// (vcpu_setschedparams).
func VCPUSetSchedParams(vp *vcpu.VCPU, params vcpu.SchedParams) {
	vp.ApplySchedParams(params)
}

// VCPURWMachineContext implements spec.md 4's rw_mcontext: waits (yielding)
// until vp is suspended or waiting-with-deferred-suspend-pending, then
// invokes rw with read/write access to vp's opaque machine-context slot.
// Returns EBUSY if vp never reaches that state within the given number of
// yield attempts, since this in-process reimplementation has no real
// preemption point to block on indefinitely.
func VCPURWMachineContext(kernel *sched.Kernel, vp *vcpu.VCPU, maxYields int, rw func(*vcpu.VCPU)) Errno {
	for i := 0; i < maxYields; i++ {
		if vp.Suspended() || (vp.State() == vcpu.Waiting && vp.PendingSigs.Has(ksignal.SIGVPDS)) {
			rw(vp)
			return EOK
		}
		kernel.MaybeSwitchTo(kernel.IdleVCPU())
	}
	return EBUSY
}

// SigWait wraps waitq.SigWait (spec.md 6's sigwait(set, info_out)).
func SigWait(kernel *sched.Kernel, q *waitq.Queue, self *vcpu.VCPU, set ksignal.Set) (ksignal.Signal, Errno) {
	sig, res := waitq.SigWait(kernel, q, self, set)
	return sig, resultErrno(res)
}

// SigTimedWait wraps waitq.SigTimedWait (spec.md 6's sigtimedwait(set,
// flags, deadline, info)).
func SigTimedWait(kernel *sched.Kernel, q *waitq.Queue, self *vcpu.VCPU, set ksignal.Set, deadlineNanos int64) (ksignal.Signal, Errno) {
	sig, res := waitq.SigTimedWait(kernel, q, self, set, deadlineNanos)
	return sig, resultErrno(res)
}

// SigPending wraps vcpu.VCPU.Pending (spec.md 6's sigpending(set_out)).
func SigPending(vp *vcpu.VCPU) ksignal.Set { return vp.Pending() }

func resultErrno(res waitq.Result) Errno {
	switch res {
	case waitq.ResultTimeout:
		return ETIMEDOUT
	case waitq.ResultSignal:
		return EINTR
	default:
		return EOK
	}
}

// ClockGetTime returns the kernel's current monotonic tick, in nanoseconds
// since boot (clock_gettime(id, ts); this module models a single monotonic
// clock, so id is not yet distinguished).
func ClockGetTime(kernel *sched.Kernel) int64 { return kernel.Now() }

// ClockNanosleep implements clock_nanosleep(id, flags, wtp, rmtp) as a
// timed wait on a scratch wait queue nobody ever wakes, so it can only
// return via timeout or signal -- mirroring a sleeping VCPU that owns no
// wait queue of its own.
func ClockNanosleep(kernel *sched.Kernel, q *waitq.Queue, self *vcpu.VCPU, wakeAtNanos int64) Errno {
	res := q.TimedWait(kernel, self, ksignal.NonMaskableWait, wakeAtNanos)
	return resultErrno(res)
}

// ClockGetRes returns the clock's resolution; this module's clock has
// nanosecond resolution by construction (clockz.Clock.Now returns
// time.Time).
func ClockGetRes() int64 { return 1 }
