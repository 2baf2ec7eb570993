package vcpu

import "github.com/dplanitzer/apollo-sched/ksignal"

// SendResult tells the caller (package sched) what follow-up action a
// Send requires, mirroring vcpu_sendsignal's "@Entry Condition: preemption
// disabled" contract in the original vcpu_signal.c: the heavy lifting
// (forced resume, wakeone) belongs to the scheduler, which is the only
// layer that knows about ready queues and wait queues.
type SendResult struct {
	// ForceResume is true for SIGKILL/SIGVPRQ: the scheduler must call
	// Resume(vp, force=true) regardless of the current suspension count.
	ForceResume bool
	// Wake is true if sig is a member of the VCPU's current WaitSigs, so the
	// scheduler must wakeone() the wait queue named by WaitingOn.
	Wake bool
}

// Send records sig as pending on v and reports what the scheduler must do
// next (spec.md 4.7).
func (v *VCPU) Send(sig ksignal.Signal) SendResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.PendingSigs = v.PendingSigs.Insert(sig)

	var r SendResult
	if sig == ksignal.SIGKILL || sig == ksignal.SIGVPRQ {
		r.ForceResume = true
	}
	if v.sched == Waiting && v.WaitSigs.Has(sig) {
		r.Wake = true
	}
	return r
}

// SetSigMask atomically replaces or merges the VCPU's signal mask and
// returns the previous mask (vcpu_setsigmask).
func (v *VCPU) SetSigMask(op SigMaskOp, mask ksignal.Set) ksignal.Set {
	v.mu.Lock()
	defer v.mu.Unlock()
	old := v.SigMask
	switch op {
	case SigMaskSet:
		v.SigMask = mask
	case SigMaskBlock:
		v.SigMask = v.SigMask.Union(mask)
	case SigMaskUnblock:
		for sig := ksignal.SIGMIN; sig <= ksignal.SIGMAX; sig++ {
			if mask.Has(sig) {
				v.SigMask = v.SigMask.Remove(sig)
			}
		}
	}
	return old
}

// SigMaskOp selects vcpu_setsigmask's operation.
type SigMaskOp int

const (
	SigMaskSet SigMaskOp = iota
	SigMaskBlock
	SigMaskUnblock
)

// ConsumePending clears and returns the lowest-numbered pending signal that
// is a member of set and is not SIGKILL (SIGKILL is never consumed; see
// waitqueue sigwait). Returns false if no such signal is pending.
func (v *VCPU) ConsumePending(set ksignal.Set) (ksignal.Signal, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	candidates := v.PendingSigs.Intersect(set).Remove(ksignal.SIGKILL)
	sig, ok := candidates.Lowest()
	if !ok {
		return 0, false
	}
	v.PendingSigs = v.PendingSigs.Remove(sig)
	return sig, true
}

// HasPendingIntersecting reports whether any pending signal intersects
// mask, including SIGKILL (used by wait's fast path).
func (v *VCPU) HasPendingIntersecting(mask ksignal.Set) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.PendingSigs.Intersect(mask).IsEmpty()
}

// Pending returns a snapshot of the pending-signal set (sigpending).
func (v *VCPU) Pending() ksignal.Set {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.PendingSigs
}
