package syscallapi

import (
	"testing"

	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/sched"
	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/zoobzio/clockz"
)

func newKernel(t *testing.T) *sched.Kernel {
	t.Helper()
	return sched.Boot(sched.Config{Clock: clockz.NewFakeClock(), PoolCapacity: 4})
}

func TestDispatchUnknownNumberIsESRCH(t *testing.T) {
	k := newKernel(t)
	table := NewTable()
	if _, errno := table.Dispatch(k, Number(999), nil); errno != ESRCH {
		t.Fatalf("got errno %v, want ESRCH", errno)
	}
}

func TestVCPUGetIDAndGroup(t *testing.T) {
	k := newKernel(t)
	boot := k.BootVCPU()
	table := NewTable()

	v, errno := table.Dispatch(k, SysVCPUGetID, boot)
	if errno != EOK {
		t.Fatalf("unexpected errno %v", errno)
	}
	if v.(vcpu.ID) != boot.ID {
		t.Fatalf("got %v, want %v", v, boot.ID)
	}

	g, errno := table.Dispatch(k, SysVCPUGetGroup, boot)
	if errno != EOK {
		t.Fatalf("unexpected errno %v", errno)
	}
	if g.(vcpu.GroupID) != boot.GroupID {
		t.Fatalf("got %v, want %v", g, boot.GroupID)
	}
}

func TestVCPUGetSetData(t *testing.T) {
	k := newKernel(t)
	boot := k.BootVCPU()
	table := NewTable()

	if _, errno := table.Dispatch(k, SysVCPUSetData, SetDataArgs{VP: boot, Data: 42}); errno != EOK {
		t.Fatalf("unexpected errno %v", errno)
	}
	v, errno := table.Dispatch(k, SysVCPUGetData, boot)
	if errno != EOK || v.(uintptr) != 42 {
		t.Fatalf("got (%v, %v), want (42, EOK)", v, errno)
	}
}

func TestSigSendUnknownTargetIsESRCH(t *testing.T) {
	k := newKernel(t)
	if errno := SigSend(k, SigSendArgs{Scope: ksignal.ScopeVCPU, Target: vcpu.ID(9999), Signal: ksignal.SIGUSRMIN}); errno != ESRCH {
		t.Fatalf("got errno %v, want ESRCH", errno)
	}
}

func TestSigSendToSelfScopeVCPU(t *testing.T) {
	k := newKernel(t)
	boot := k.BootVCPU()
	if errno := SigSend(k, SigSendArgs{Scope: ksignal.ScopeVCPU, Target: boot.ID, Signal: ksignal.SIGUSRMIN}); errno != EOK {
		t.Fatalf("unexpected errno %v", errno)
	}
	if !boot.Pending().Has(ksignal.SIGUSRMIN) {
		t.Fatal("expected SIGUSRMIN to be pending on boot VCPU")
	}
}

func TestWaitQueueTableDisposeRemovesHandle(t *testing.T) {
	table := NewWaitQueueTable()
	h := table.Create(0)
	if errno := table.Dispose(h); errno != EOK {
		t.Fatalf("expected EOK disposing an empty queue, got %v", errno)
	}
	if errno := table.Dispose(h); errno != EBADF {
		t.Fatalf("expected EBADF disposing an already-removed handle, got %v", errno)
	}
}

func TestClockGetTimeMonotonic(t *testing.T) {
	k := newKernel(t)
	t1 := ClockGetTime(k)
	t2 := ClockGetTime(k)
	if t2 < t1 {
		t.Fatalf("clock went backwards: %d then %d", t1, t2)
	}
}
