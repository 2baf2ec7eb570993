package waitq_test

import (
	"sync"
	"testing"
	"time"

	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/dplanitzer/apollo-sched/waitq"
)

// fakeSched is a minimal waitq.Scheduler good enough to exercise Wait/Wake
// without pulling in package sched (which itself depends on waitq).
type fakeSched struct {
	mu  sync.Mutex
	now int64
}

func (f *fakeSched) ReadyWithBoost(vp *vcpu.VCPU, waitedTicks int64) { vp.SetState(vcpu.Ready) }
func (f *fakeSched) MaybeSwitchTo(vp *vcpu.VCPU)                     {}
func (f *fakeSched) Now() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}
func (f *fakeSched) ArmTimeout(vp *vcpu.VCPU, deadline int64) { vp.Timeout.Deadline = deadline; vp.Timeout.Armed = true }
func (f *fakeSched) DisarmTimeout(vp *vcpu.VCPU)              { vp.Timeout.Armed = false }
func (f *fakeSched) SwitchAway(self *vcpu.VCPU)               { self.Park() }

func TestWaitWakeOneNoLostWakeup(t *testing.T) {
	q := waitq.New()
	sched := &fakeSched{}
	waiter := vcpu.New(1)

	waiting := make(chan struct{})
	done := make(chan waitq.Result, 1)
	go func() {
		waiter.SetState(vcpu.Running)
		close(waiting)
		done <- q.Wait(sched, waiter, ksignal.Of(ksignal.SIGUSRMIN))
	}()

	<-waiting
	for q.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	q.WakeOne(sched, waiter, waitq.WakeOne, waitq.ReasonWakeup)

	select {
	case r := <-done:
		if r != waitq.ResultWakeup {
			t.Fatalf("result = %v, want ResultWakeup", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestWaitSignalFastPath(t *testing.T) {
	q := waitq.New()
	sched := &fakeSched{}
	self := vcpu.New(1)
	self.Send(ksignal.SIGUSRMIN)

	r := q.Wait(sched, self, ksignal.Of(ksignal.SIGUSRMIN))
	if r != waitq.ResultSignal {
		t.Fatalf("result = %v, want ResultSignal (fast path, no blocking)", r)
	}
	if q.Len() != 0 {
		t.Fatal("fast-path signal delivery must not enqueue the caller")
	}
}

func TestSigWaitConsumesLowestNumberedSignal(t *testing.T) {
	q := waitq.New()
	sched := &fakeSched{}
	self := vcpu.New(1)
	self.Send(ksignal.SIGUSRMIN)

	sig, r := waitq.SigWait(sched, q, self, ksignal.Of(ksignal.SIGUSRMIN))
	if r != waitq.ResultSignal || sig != ksignal.SIGUSRMIN {
		t.Fatalf("got (%v, %v), want (SIGUSRMIN, ResultSignal)", sig, r)
	}
}

func TestTimedWaitExpiresImmediatelyWhenDeadlinePast(t *testing.T) {
	q := waitq.New()
	sched := &fakeSched{now: 100}
	self := vcpu.New(1)

	r := q.TimedWait(sched, self, ksignal.Of(ksignal.SIGUSRMIN), 50)
	if r != waitq.ResultTimeout {
		t.Fatalf("result = %v, want ResultTimeout", r)
	}
}
