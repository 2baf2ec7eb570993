package sched

import (
	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/dplanitzer/apollo-sched/waitq"
)

// TickIRQ is the hardware-timer entry point (spec.md 4.3). On every tick:
//
//  1. walk the timeout queue head-first, waking every VCPU whose deadline
//     has passed;
//  2. decrement the running VCPU's quantum countdown;
//  3. on expiry, age its effective priority down by one and either
//     continue running it (if still the highest priority) or re-enqueue it
//     at its base priority and switch to the new highest-priority VCPU.
//
// Step 2 of the original design (rewriting the user return PC to the
// sigurgent trampoline for prompt delivery of urgent signals into
// kernel-interrupted user mode) has no analogue here: this reimplementation
// has no user-mode return path to rewrite, so urgent signals are instead
// delivered synchronously by vcpu.VCPU.Send/waitq's non-maskable wait set,
// which every wait primitive already consults.
func (k *Kernel) TickIRQ() {
	k.mu.Lock()

	now := k.Now()
	for {
		e := k.timeouts.Front()
		if e == nil {
			break
		}
		vp := e.Value.(*vcpu.VCPU)
		if vp.Timeout.Deadline > now {
			break
		}
		k.timeouts.Remove(e)
		vp.Timeout.Armed = false
		k.metrics.Counter(MetricTimeouts).Inc()

		if wq, ok := vp.WaitingOn.(*waitq.Queue); ok {
			k.mu.Unlock()
			wq.WakeOne(k, vp, waitq.WakeCSW, waitq.ReasonTimeout)
			k.mu.Lock()
		}
	}

	running := k.running
	if running == nil || running == k.idle {
		k.mu.Unlock()
		return
	}

	running.QuantumCD--
	if running.QuantumCD > 0 {
		k.mu.Unlock()
		return
	}

	k.metrics.Counter(MetricQuantumExpirations).Inc()
	running.EffPri = clampPriority(running.EffPri - 1)

	next := k.highestPriorityReadyLocked()
	if next == nil || next.EffPri <= running.EffPri {
		running.QuantumCD = quantumTicks[running.Params.QoS]
		k.mu.Unlock()
		return
	}

	k.removeFromReadyLocked(next)
	k.addReadyLocked(running, running.SchedPri)
	k.switchToLocked(running, next)
	k.mu.Unlock()
}
