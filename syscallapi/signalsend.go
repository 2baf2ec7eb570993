package syscallapi

import (
	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/sched"
	"github.com/dplanitzer/apollo-sched/vcpu"
)

// SigSendArgs unpacks sigsend(scope, id, signo) (spec.md 6).
type SigSendArgs struct {
	Scope  ksignal.Scope
	Target vcpu.ID
	Signal ksignal.Signal
}

// SigSend implements spec.md 6's sigsend: fans a signal out to every VCPU
// matching the given scope, resolved by walking sched.Kernel's VCPU
// registry (SPEC_FULL.md 11.7).
//
// This module has no process/session model (spec.md 1's Non-goals exclude
// process lifecycle beyond the minimal exported interface), so
// ScopeProcess, ScopeProcessGroup, ScopeSession and ScopeChildren are all
// resolved the same way as ScopeVCPUGroup: every VCPU sharing Target's
// GroupID, the closest analogue this module has to a process. A caller
// layering real process semantics on top is expected to pick distinct
// GroupIDs per process the way it already must pick them per dispatcher
// (kdispatch.Create).
func SigSend(kernel *sched.Kernel, args SigSendArgs) Errno {
	switch args.Scope {
	case ksignal.ScopeVCPU:
		vp, ok := kernel.Lookup(args.Target)
		if !ok {
			return ESRCH
		}
		kernel.Send(vp, args.Signal)
		return EOK

	case ksignal.ScopeVCPUGroup, ksignal.ScopeProcess, ksignal.ScopeProcessGroup,
		ksignal.ScopeSession, ksignal.ScopeChildren:
		target, ok := kernel.Lookup(args.Target)
		if !ok {
			return ESRCH
		}
		sent := false
		for _, vp := range kernel.Snapshot() {
			if vp.GroupID == target.GroupID {
				kernel.Send(vp, args.Signal)
				sent = true
			}
		}
		if !sent {
			return ESRCH
		}
		return EOK

	default:
		return EINVAL
	}
}
