package kdispatch_test

import (
	"testing"
	"time"

	"github.com/dplanitzer/apollo-sched/kdispatch"
	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/sched"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time { return c.t }

func newKernel() (*sched.Kernel, *stepClock) {
	clk := &stepClock{t: time.Unix(0, 0)}
	return sched.Boot(sched.Config{Clock: clk, PoolCapacity: 4}), clk
}

func newDispatcher(t *testing.T, attr kdispatch.Attr) *kdispatch.Dispatcher {
	t.Helper()
	k, clk := newKernel()
	d, err := kdispatch.Create(k, clk, attr)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return d
}

func TestCreateRejectsBadConcurrencyBounds(t *testing.T) {
	k, clk := newKernel()

	if _, err := kdispatch.Create(k, clk, kdispatch.Attr{MinConcurrency: 0, MaxConcurrency: 1}); err == nil {
		t.Fatal("expected error for MinConcurrency < 1")
	}
	if _, err := kdispatch.Create(k, clk, kdispatch.Attr{MinConcurrency: 2, MaxConcurrency: 1}); err == nil {
		t.Fatal("expected error for MinConcurrency > MaxConcurrency")
	}
	if _, err := kdispatch.Create(k, clk, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 128}); err == nil {
		t.Fatal("expected error for MaxConcurrency > 127")
	}
}

func TestCreateAcceptsLongName(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1, Name: "way-too-long-a-name"})
	if d.State() != kdispatch.StateActive {
		t.Fatalf("State = %v, want StateActive", d.State())
	}
}

func TestSubmitRejectsAlreadyScheduledItem(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	item := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })

	if err := d.Submit(item); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := d.Submit(item); err == nil {
		t.Fatal("expected error resubmitting a scheduled item")
	}
}

func TestCancelItemBeforeExecutionMarksCancelled(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	item := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })
	item.Flags |= kdispatch.FlagAwaitable

	if err := d.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.CancelItem(item)

	if !item.Cancelled() {
		t.Fatal("expected item to be marked cancelled")
	}
	if item.State != kdispatch.StateCancelled {
		t.Fatalf("State = %v, want StateCancelled", item.State)
	}
}

func TestCancelItemIdleIsNoOp(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	item := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })

	d.CancelItem(item)
	if item.Cancelled() {
		t.Fatal("cancelling an idle item must not set FlagCancelled")
	}
	if item.State != kdispatch.StateIdle {
		t.Fatalf("State = %v, want StateIdle", item.State)
	}
}

func TestArmTimerRejectsAlreadyScheduledItem(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	item := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })

	if err := d.ArmTimer(time.Unix(0, 0).Add(time.Second), 0, item); err != nil {
		t.Fatalf("first ArmTimer: %v", err)
	}
	if err := d.ArmTimer(time.Unix(0, 0).Add(time.Second), 0, item); err == nil {
		t.Fatal("expected error re-arming an already-scheduled item")
	}
}

func TestArmTimerSetsRepeatingFlagOnlyForPositiveInterval(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})

	oneShot := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })
	if err := d.ArmTimer(time.Unix(0, 0).Add(time.Second), 0, oneShot); err != nil {
		t.Fatalf("ArmTimer(one-shot): %v", err)
	}
	if oneShot.Flags&kdispatch.FlagRepeating != 0 {
		t.Fatal("one-shot timer item must not carry FlagRepeating")
	}

	repeating := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })
	if err := d.ArmTimer(time.Unix(0, 0).Add(time.Second), time.Second, repeating); err != nil {
		t.Fatalf("ArmTimer(repeating): %v", err)
	}
	if repeating.Flags&kdispatch.FlagRepeating == 0 {
		t.Fatal("repeating timer item must carry FlagRepeating")
	}
}

func TestItemOnSignalRejectsReservedSignal(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	item := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })

	if err := d.ItemOnSignal(ksignal.SIGKILL, item); err == nil {
		t.Fatal("expected error registering a monitor on a reserved signal")
	}
}

func TestItemOnSignalAcceptsUserSignal(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	item := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })

	if err := d.ItemOnSignal(ksignal.SIGUSRMIN, item); err != nil {
		t.Fatalf("ItemOnSignal: %v", err)
	}
	if item.MonitorSignal != ksignal.SIGUSRMIN {
		t.Fatalf("MonitorSignal = %v, want SIGUSRMIN", item.MonitorSignal)
	}
}

func TestAllocSignalPicksHighestFreeByDefault(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})

	first, err := d.AllocSignal(0)
	if err != nil {
		t.Fatalf("AllocSignal: %v", err)
	}
	if first != ksignal.SIGUSRMAX {
		t.Fatalf("first allocated signal = %v, want SIGUSRMAX", first)
	}

	second, err := d.AllocSignal(0)
	if err != nil {
		t.Fatalf("AllocSignal: %v", err)
	}
	if second == first {
		t.Fatal("second AllocSignal must not repeat the first signal")
	}
}

func TestAllocSignalRejectsAlreadyAllocated(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})

	if _, err := d.AllocSignal(ksignal.SIGUSRMIN); err != nil {
		t.Fatalf("first AllocSignal: %v", err)
	}
	if _, err := d.AllocSignal(ksignal.SIGUSRMIN); err == nil {
		t.Fatal("expected error double-allocating the same signal")
	}
}

func TestFreeSignalAllowsReAllocation(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})

	sig, err := d.AllocSignal(ksignal.SIGUSRMIN)
	if err != nil {
		t.Fatalf("AllocSignal: %v", err)
	}
	d.FreeSignal(sig)
	if _, err := d.AllocSignal(ksignal.SIGUSRMIN); err != nil {
		t.Fatalf("AllocSignal after FreeSignal: %v", err)
	}
}

func TestCancelItemRetiresCacheableConvItem(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	item := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })
	item.Flags |= kdispatch.FlagCacheable | kdispatch.FlagAwaitable
	item.Type = kdispatch.TypeCachedConvItem

	if err := d.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Cancelling before execution retires it through the same finish path a
	// cacheable convenience item takes once it completes, without depending
	// on a worker goroutine actually running the func.
	d.CancelItem(item)
	if item.State != kdispatch.StateCancelled {
		t.Fatalf("State = %v, want StateCancelled", item.State)
	}
}

func TestSubmitFailsOnTerminatingDispatcher(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	if err := d.Terminate(0); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	item := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })
	if err := d.Submit(item); err == nil {
		t.Fatal("expected Submit to fail once the dispatcher is terminating")
	}
}

func TestDestroyFailsUnlessTerminatedWithEmptyZombies(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	if err := d.Destroy(); err == nil {
		t.Fatal("expected Destroy to fail on an active dispatcher")
	}
}

func TestCancelMatchesQueuedItemByPredicate(t *testing.T) {
	d := newDispatcher(t, kdispatch.Attr{MinConcurrency: 1, MaxConcurrency: 1})
	want := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })
	other := kdispatch.NewItem(func(*kdispatch.Item) (any, error) { return nil, nil })

	if err := d.Submit(want); err != nil {
		t.Fatalf("Submit(want): %v", err)
	}
	if err := d.Submit(other); err != nil {
		t.Fatalf("Submit(other): %v", err)
	}

	found := d.Cancel(func(it *kdispatch.Item) bool { return it == want })
	if !found {
		t.Fatal("expected Cancel to find the matching item")
	}
	if !want.Cancelled() {
		t.Fatal("expected the matched item to be cancelled")
	}
	if other.Cancelled() {
		t.Fatal("Cancel must not touch non-matching items")
	}
}
