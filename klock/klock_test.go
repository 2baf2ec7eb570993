package klock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/dplanitzer/apollo-sched/klock"
)

// sharedCounter exercises Mu for mutual exclusion the way kdispatch protects
// its worker deque and item/timer caches.
type sharedCounter struct {
	mu    klock.Mu
	n     int
	done  klock.CV
	count int
	want  int
}

func (s *sharedCounter) bump(loops int) {
	for i := 0; i < loops; i++ {
		s.mu.Lock()
		s.n++
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.count++
	if s.count == s.want {
		s.done.Broadcast()
	}
	s.mu.Unlock()
}

func (s *sharedCounter) waitAll() {
	s.mu.Lock()
	for s.count != s.want {
		s.done.Wait(&s.mu)
	}
	s.mu.Unlock()
}

func TestMuMutualExclusion(t *testing.T) {
	const threads = 8
	const loops = 2000
	s := &sharedCounter{want: threads}

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.bump(loops)
		}()
	}
	wg.Wait()
	s.waitAll()

	if s.n != threads*loops {
		t.Fatalf("got %d increments, want %d", s.n, threads*loops)
	}
}

func TestMuTryLock(t *testing.T) {
	var mu klock.Mu
	if !mu.TryLock() {
		t.Fatal("TryLock on a free Mu should succeed")
	}
	if mu.TryLock() {
		t.Fatal("TryLock on a held Mu should fail")
	}
	mu.Unlock()
	if !mu.TryLock() {
		t.Fatal("TryLock after Unlock should succeed")
	}
	mu.Unlock()
}

func TestCVSignalWakesOne(t *testing.T) {
	var mu klock.Mu
	var cv klock.CV
	ready := make(chan struct{})
	woke := make(chan struct{}, 1)

	go func() {
		mu.Lock()
		close(ready)
		cv.Wait(&mu)
		mu.Unlock()
		woke <- struct{}{}
	}()

	<-ready
	// Give the goroutine a chance to reach cv.Wait and release the lock.
	for i := 0; i < 1000; i++ {
		mu.Lock()
		mu.Unlock()
	}
	cv.Signal()

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was never woken by Signal")
	}
}

func TestCVWaitWithDeadlineExpires(t *testing.T) {
	var mu klock.Mu
	mu.Lock()
	start := time.Now()
	var cv klock.CV
	outcome := cv.WaitWithDeadline(&mu, start.Add(30*time.Millisecond), nil)
	mu.Unlock()

	if outcome != klock.Expired {
		t.Fatalf("outcome = %d, want Expired", outcome)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
}

func TestCVWaitWithDeadlineCancelled(t *testing.T) {
	var mu klock.Mu
	mu.Lock()
	cancel := make(chan struct{})
	close(cancel)
	var cv klock.CV
	outcome := cv.WaitWithDeadline(&mu, klock.NoDeadline, cancel)
	mu.Unlock()

	if outcome != klock.Cancelled {
		t.Fatalf("outcome = %d, want Cancelled", outcome)
	}
}
