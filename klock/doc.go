// Package klock provides the mutex and condition variable primitives used to
// protect dispatcher state in package kdispatch (the "mutex + condition
// variable" fields of a dispatcher). It is a Mesa-style CV paired with a
// mutex that supports TryLock, in the style of nsync: a zero-valued CV needs
// no construction, waits take the mutex as an explicit argument, and waits
// may carry an absolute deadline so a dispatch worker's timed wait
// (sigtimedwait equivalent) can be expressed directly against it.
//
// The scheduler itself (package sched) does not use klock: its ready queues,
// timeout queue and running/scheduled pointers are protected by disabling
// preemption (sched.PreemptDisable/PreemptRestore), not by a lock, per the
// no-separate-spinlock design of the VCPU scheduler. klock exists for the
// layer above the scheduler, where real contention across dispatcher workers
// is expected and a lock plus condition variable is the simpler model.
package klock
