package sched

import (
	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/dplanitzer/apollo-sched/waitq"
)

// Send delivers sig to vp (spec.md 4.7): records it pending, force-resumes
// vp for SIGKILL/SIGVPRQ, and wakes vp's current wait if sig is a member of
// its wait mask.
func (k *Kernel) Send(vp *vcpu.VCPU, sig ksignal.Signal) {
	k.sendLocked(vp, sig)
}

func (k *Kernel) sendLocked(vp *vcpu.VCPU, sig ksignal.Signal) {
	r := vp.Send(sig)
	if r.ForceResume {
		k.Resume(vp, true)
	}
	if r.Wake {
		if wq, ok := vp.WaitingOn.(*waitq.Queue); ok {
			wq.WakeOne(k, vp, waitq.WakeOne|waitq.WakeCSW, waitq.ReasonSignal)
		}
	}
}
