package vcpu_test

import (
	"testing"

	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/vcpu"
)

func TestSchedPriorityIdleIsLowest(t *testing.T) {
	p := vcpu.SchedParams{QoS: vcpu.QoSIdle, QoSPriority: 3}
	if got := p.SchedPriority(); got != vcpu.SchedPriorityLowest {
		t.Fatalf("idle SchedPriority = %d, want %d", got, vcpu.SchedPriorityLowest)
	}
}

func TestSchedPriorityMonotonicAcrossQoS(t *testing.T) {
	lo := vcpu.SchedParams{QoS: vcpu.QoSBackground, QoSPriority: vcpu.QoSPriorityHighest}.SchedPriority()
	hi := vcpu.SchedParams{QoS: vcpu.QoSUtility, QoSPriority: vcpu.QoSPriorityLowest}.SchedPriority()
	if hi <= lo {
		t.Fatalf("utility-lowest (%d) should outrank background-highest (%d)", hi, lo)
	}
}

func TestConsumePendingSkipsSigkill(t *testing.T) {
	v := vcpu.New(1)
	v.Send(ksignal.SIGKILL)
	v.Send(ksignal.SIGUSRMIN)

	set := ksignal.Of(ksignal.SIGKILL, ksignal.SIGUSRMIN)
	sig, ok := v.ConsumePending(set)
	if !ok || sig != ksignal.SIGUSRMIN {
		t.Fatalf("ConsumePending = (%v, %v), want (SIGUSRMIN, true)", sig, ok)
	}
	if !v.Pending().Has(ksignal.SIGKILL) {
		t.Fatal("SIGKILL must never be consumed")
	}
}

func TestSendForceResumeFlags(t *testing.T) {
	v := vcpu.New(1)
	if !v.Send(ksignal.SIGKILL).ForceResume {
		t.Fatal("SIGKILL must report ForceResume")
	}
	if !v.Send(ksignal.SIGVPRQ).ForceResume {
		t.Fatal("SIGVPRQ must report ForceResume")
	}
	if v.Send(ksignal.SIGUSRMIN).ForceResume {
		t.Fatal("ordinary user signal must not force resume")
	}
}

func TestSendWakeWhenWaitSigsMatch(t *testing.T) {
	v := vcpu.New(1)
	v.SetState(vcpu.Waiting)
	v.WaitSigs = ksignal.Of(ksignal.SIGUSRMIN)

	r := v.Send(ksignal.SIGUSRMIN)
	if !r.Wake {
		t.Fatal("expected Wake when sig is a member of WaitSigs while waiting")
	}
}

func TestParkUnpark(t *testing.T) {
	v := vcpu.New(1)
	done := make(chan struct{})
	go func() {
		v.Park()
		close(done)
	}()
	v.Unpark()
	<-done
}
