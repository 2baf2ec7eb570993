package vcpupool_test

import (
	"testing"

	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/dplanitzer/apollo-sched/vcpupool"
)

func TestCheckoutEmptyReturnsNil(t *testing.T) {
	p := vcpupool.New(2)
	if got := p.Checkout(); got != nil {
		t.Fatalf("Checkout on empty pool = %v, want nil", got)
	}
}

func TestLIFOOrder(t *testing.T) {
	p := vcpupool.New(4)
	a, b := vcpu.New(1), vcpu.New(2)
	p.Checkin(a)
	p.Checkin(b)
	if got := p.Checkout(); got != b {
		t.Fatalf("Checkout = %v, want most recently checked-in (b)", got)
	}
	if got := p.Checkout(); got != a {
		t.Fatalf("Checkout = %v, want a", got)
	}
}

func TestCheckinFailsAtCapacity(t *testing.T) {
	p := vcpupool.New(1)
	if !p.Checkin(vcpu.New(1)) {
		t.Fatal("first Checkin should succeed")
	}
	if p.Checkin(vcpu.New(2)) {
		t.Fatal("Checkin beyond capacity should fail")
	}
}
