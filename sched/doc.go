// Package sched is the VCPU scheduler: per-priority ready queues, a
// timeout queue, the running/scheduled pointers, the boot and idle VCPUs,
// and the tick/quantum handler. It is the sole owner of VCPU lifecycle
// (acquire/relinquish, suspend/resume) and of the ready-queue and
// timeout-queue invariants described for the original kernel's sched.c and
// vcpu.c.
//
// Concurrency model. The original kernel runs on a single 68000 core:
// "parallelism" among VCPUs is purely a matter of which one currently owns
// the CPU, and the scheduler's own state needs no lock beyond disabling
// interrupts (preempt_disable/preempt_restore). Go cannot give a goroutine
// exclusive use of a CPU core, and there is no assembly context switch to
// reach for, so this package reconstructs the same single-running-VCPU
// invariant deliberately: every VCPU maps to one goroutine that is parked
// (vcpu.VCPU.Park) the instant it stops being the running VCPU, and the
// scheduler unparks exactly one goroutine at a time (switchToLocked). A
// single Kernel.mu serializes access to scheduler state the way disabling
// interrupts would on real hardware; it is the concrete mechanism behind
// preempt_disable/preempt_restore (Kernel.PreemptDisable) in this
// reimplementation. Exported methods take Kernel.mu themselves, so they
// must not be called from inside a PreemptDisable region.
package sched
