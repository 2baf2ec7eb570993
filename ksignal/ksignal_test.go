package ksignal_test

import (
	"testing"

	"github.com/dplanitzer/apollo-sched/ksignal"
)

func TestOfAndHas(t *testing.T) {
	s := ksignal.Of(ksignal.SIGKILL, ksignal.SIGUSRMIN)
	if !s.Has(ksignal.SIGKILL) || !s.Has(ksignal.SIGUSRMIN) {
		t.Fatal("expected both inserted signals to be members")
	}
	if s.Has(ksignal.SIGVPRQ) {
		t.Fatal("did not expect SIGVPRQ to be a member")
	}
}

func TestInsertRemove(t *testing.T) {
	var s ksignal.Set
	s = s.Insert(ksignal.SIGDISP)
	if !s.Has(ksignal.SIGDISP) {
		t.Fatal("expected SIGDISP after Insert")
	}
	s = s.Remove(ksignal.SIGDISP)
	if s.Has(ksignal.SIGDISP) {
		t.Fatal("did not expect SIGDISP after Remove")
	}
}

func TestIntersectAndUnion(t *testing.T) {
	a := ksignal.Of(ksignal.SIGKILL, ksignal.SIGVPRQ)
	b := ksignal.Of(ksignal.SIGVPRQ, ksignal.SIGSTOP)

	if got := a.Intersect(b); got != ksignal.Of(ksignal.SIGVPRQ) {
		t.Fatalf("Intersect = %v, want just SIGVPRQ", got)
	}
	union := a.Union(b)
	for _, sig := range []ksignal.Signal{ksignal.SIGKILL, ksignal.SIGVPRQ, ksignal.SIGSTOP} {
		if !union.Has(sig) {
			t.Fatalf("Union missing %v", sig)
		}
	}
}

func TestIsEmpty(t *testing.T) {
	var s ksignal.Set
	if !s.IsEmpty() {
		t.Fatal("zero-value Set must be empty")
	}
	s = s.Insert(ksignal.SIGKILL)
	if s.IsEmpty() {
		t.Fatal("Set with a member must not be empty")
	}
}

func TestLowestPicksSmallestMember(t *testing.T) {
	s := ksignal.Of(ksignal.SIGSTOP, ksignal.SIGKILL, ksignal.SIGDISP)
	got, ok := s.Lowest()
	if !ok {
		t.Fatal("expected Lowest to find a member")
	}
	if got != ksignal.SIGKILL {
		t.Fatalf("Lowest = %v, want SIGKILL", got)
	}
}

func TestLowestOnEmptySet(t *testing.T) {
	var s ksignal.Set
	if _, ok := s.Lowest(); ok {
		t.Fatal("Lowest on an empty set must report false")
	}
}

func TestSigsuspendIsSigstopAlias(t *testing.T) {
	if ksignal.SIGSUSPEND != ksignal.SIGSTOP {
		t.Fatal("SIGSUSPEND must alias SIGSTOP")
	}
}

func TestNonMaskableWaitIsSubsetOfUrgent(t *testing.T) {
	if ksignal.NonMaskableWait.Intersect(ksignal.Urgent) != ksignal.NonMaskableWait {
		t.Fatal("NonMaskableWait must be a subset of Urgent")
	}
}

func TestSignalStringNamesUserSignals(t *testing.T) {
	if got := ksignal.SIGUSRMIN.String(); got != "SIGUSR1" {
		t.Fatalf("SIGUSRMIN.String() = %q, want %q", got, "SIGUSR1")
	}
	if got := ksignal.SIGKILL.String(); got != "SIGKILL" {
		t.Fatalf("SIGKILL.String() = %q, want %q", got, "SIGKILL")
	}
}
