package sched_test

import (
	"testing"
	"time"

	"github.com/dplanitzer/apollo-sched/sched"
	"github.com/dplanitzer/apollo-sched/vcpu"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time { return c.t }

func newKernel() *sched.Kernel {
	return sched.Boot(sched.Config{Clock: &stepClock{t: time.Unix(0, 0)}, PoolCapacity: 4})
}

func TestHighestPriorityReadyScansMSBFirst(t *testing.T) {
	k := newKernel()
	low := vcpu.New(100)
	high := vcpu.New(101)

	k.AddReady(low, vcpu.SchedPriorityLowest+1)
	k.AddReady(high, vcpu.SchedPriorityHighest)

	if got := k.HighestPriorityReady(); got != high {
		t.Fatalf("HighestPriorityReady = %v, want the higher-priority VCPU", got)
	}
}

func TestAddReadyMakesVCPUVisible(t *testing.T) {
	k := newKernel()
	vp := vcpu.New(200)
	k.AddReady(vp, vcpu.SchedPriorityHighest)
	if k.HighestPriorityReady() == nil {
		t.Fatal("expected a ready VCPU")
	}
}

func TestMaybeSwitchToRequiresHighestPriority(t *testing.T) {
	k := newKernel()
	lower := vcpu.New(300)
	k.AddReady(lower, vcpu.SchedPriorityLowest+1)

	// lower is the only ready VCPU, but its priority is below that of the
	// running boot VCPU (SchedPriorityHighest), so MaybeSwitchTo must be a
	// no-op.
	k.MaybeSwitchTo(lower)
	if k.Running() != k.BootVCPU() {
		t.Fatal("MaybeSwitchTo must not switch to a lower-priority VCPU")
	}
}

func TestSchedPriorityFormula(t *testing.T) {
	p := vcpu.SchedParams{QoS: vcpu.QoSInteractive, QoSPriority: vcpu.QoSPriorityLowest}
	want := (int(vcpu.QoSInteractive)-1)*vcpu.QoSPriorityCount + 1
	if got := p.SchedPriority(); got != want {
		t.Fatalf("SchedPriority = %d, want %d", got, want)
	}
}
