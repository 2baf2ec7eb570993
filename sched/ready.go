package sched

import (
	"math/bits"

	"github.com/dplanitzer/apollo-sched/vcpu"
)

// AddReady inserts vp into the ready queue at the given effective priority
// (spec.md 4.2): sets vp's effective priority (the caller supplies it, to
// allow transient boosts), resets its quantum countdown from the
// QoS-keyed table, appends to the tail of that priority's FIFO, and sets
// the corresponding population bit.
func (k *Kernel) AddReady(vp *vcpu.VCPU, effPri int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.addReadyLocked(vp, effPri)
}

func (k *Kernel) addReadyLocked(vp *vcpu.VCPU, effPri int) {
	effPri = clampPriority(effPri)
	vp.EffPri = effPri
	vp.QuantumCD = quantumTicks[vp.Params.QoS]
	vp.SetState(vcpu.Ready)
	k.ready[effPri].PushBack(vp)
	k.popBits |= 1 << uint(effPri)
	k.metrics.Gauge(MetricReadyVCPUs).Set(float64(k.readyCountLocked()))
}

// ReadyWithBoost implements waitq.Scheduler: inserts vp with its priority
// raised by boostTicks levels (already divided down by waitq), clamped to
// SchedPriorityHighest (spec.md 4.1, wakeone).
func (k *Kernel) ReadyWithBoost(vp *vcpu.VCPU, boostTicks int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	boosted := clampPriority(vp.SchedPri + int(boostTicks))
	k.addReadyLocked(vp, boosted)
}

func (k *Kernel) readyCountLocked() int {
	n := 0
	for p := 0; p < PriorityCount; p++ {
		n += k.ready[p].Len()
	}
	return n
}

func clampPriority(p int) int {
	if p < vcpu.SchedPriorityLowest+1 {
		return vcpu.SchedPriorityLowest + 1
	}
	if p > vcpu.SchedPriorityHighest {
		return vcpu.SchedPriorityHighest
	}
	return p
}

// HighestPriorityReady returns the head of the highest-priority non-empty
// ready FIFO, or nil if none are non-empty (spec.md 4.2: scans the
// population summary from MSB down).
func (k *Kernel) HighestPriorityReady() *vcpu.VCPU {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.highestPriorityReadyLocked()
}

func (k *Kernel) highestPriorityReadyLocked() *vcpu.VCPU {
	if k.popBits == 0 {
		return nil
	}
	p := 31 - bits.LeadingZeros32(k.popBits)
	e := k.ready[p].Front()
	if e == nil {
		return nil
	}
	return e.Value.(*vcpu.VCPU)
}

func (k *Kernel) removeFromReadyLocked(vp *vcpu.VCPU) {
	p := vp.EffPri
	if p < 0 || p >= PriorityCount {
		return
	}
	for e := k.ready[p].Front(); e != nil; e = e.Next() {
		if e.Value.(*vcpu.VCPU) == vp {
			k.ready[p].Remove(e)
			if k.ready[p].Len() == 0 {
				k.popBits &^= 1 << uint(p)
			}
			k.metrics.Gauge(MetricReadyVCPUs).Set(float64(k.readyCountLocked()))
			return
		}
	}
}

// MaybeSwitchTo is the voluntary switch (spec.md 4.2, maybe_switch_to): if
// vp is ready, not suspended, is itself the highest-priority-ready VCPU and
// its effective priority is at least the running VCPU's, move the running
// VCPU back to ready at its base priority and switch to vp.
func (k *Kernel) MaybeSwitchTo(vp *vcpu.VCPU) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if vp.State() != vcpu.Ready || vp.SuspensionCount > 0 {
		return
	}
	if k.highestPriorityReadyLocked() != vp {
		return
	}
	running := k.running
	if running != nil && vp.EffPri < running.EffPri {
		return
	}

	k.removeFromReadyLocked(vp)
	if running != nil {
		k.addReadyLocked(running, running.SchedPri)
	}
	k.switchToLocked(running, vp)
}

// SwitchTo is the unconditional switch (spec.md 4.2, switch_to): removes vp
// from ready; the caller is expected to have already placed the previously
// running VCPU onto the appropriate wait/finalizer list.
func (k *Kernel) SwitchTo(vp *vcpu.VCPU) {
	k.mu.Lock()
	defer k.mu.Unlock()
	old := k.running
	k.removeFromReadyLocked(vp)
	k.switchToLocked(old, vp)
}

// SwitchAway implements waitq.Scheduler: switches away from self (which
// must be the running VCPU) to the highest-priority ready VCPU, or the
// idle VCPU if none is ready, and blocks until self is scheduled again.
func (k *Kernel) SwitchAway(self *vcpu.VCPU) {
	k.mu.Lock()
	defer k.mu.Unlock()
	next := k.highestPriorityReadyLocked()
	if next == nil {
		next = k.idle
	}
	k.removeFromReadyLocked(next)
	k.switchToLocked(self, next)
}

// switchToLocked performs the actual hand-off: it must be called with k.mu
// held and old == k.running. It unparks next, sets it running, then -- if
// old is a different VCPU -- releases k.mu for the duration that old is
// parked and reacquires it once old is scheduled again. This bracket
// (unlock around the parked interval) is the concrete substitute for the
// original's "preempt_disable covers the decision, not the downtime" --
// there is no assembly context switch here for the lock to bracket
// atomically, so the lock is deliberately dropped while no kernel code is
// running on old's behalf.
func (k *Kernel) switchToLocked(old, next *vcpu.VCPU) {
	k.running = next
	next.SetState(vcpu.Running)
	k.metrics.Counter(MetricContextSwitches).Inc()

	if next == old {
		return
	}
	next.Unpark()
	if old != nil {
		k.mu.Unlock()
		old.Park()
		k.mu.Lock()
	}
}

// ArmTimeout implements waitq.Scheduler: registers vp on the timeout
// queue, sorted ascending by deadline (ties broken FIFO).
func (k *Kernel) ArmTimeout(vp *vcpu.VCPU, deadline int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	vp.Timeout.Deadline = deadline
	vp.Timeout.Armed = true

	for e := k.timeouts.Front(); e != nil; e = e.Next() {
		if e.Value.(*vcpu.VCPU).Timeout.Deadline > deadline {
			k.timeouts.InsertBefore(vp, e)
			return
		}
	}
	k.timeouts.PushBack(vp)
}

// DisarmTimeout implements waitq.Scheduler: removes vp from the timeout
// queue if it is armed there.
func (k *Kernel) DisarmTimeout(vp *vcpu.VCPU) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.disarmTimeoutLocked(vp)
}

func (k *Kernel) disarmTimeoutLocked(vp *vcpu.VCPU) {
	if !vp.Timeout.Armed {
		return
	}
	vp.Timeout.Armed = false
	for e := k.timeouts.Front(); e != nil; e = e.Next() {
		if e.Value.(*vcpu.VCPU) == vp {
			k.timeouts.Remove(e)
			return
		}
	}
}
