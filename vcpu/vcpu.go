// Package vcpu implements the virtual processor: the kernel's schedulable
// entity. A VCPU carries its scheduling state, QoS-derived priority, pending
// and masked signals, timeout linkage, and a suspension counter. It is
// created by sched.Kernel.Acquire (which in turn checks out a recycled VCPU
// from package vcpupool before allocating a fresh one) and is driven
// entirely by package sched and package kdispatch; vcpu itself holds no
// scheduler policy.
package vcpu

import (
	"sync"

	"github.com/dplanitzer/apollo-sched/ksignal"
)

// State is the VCPU's scheduling state (spec.md 3, "VCPU").
type State int

const (
	Initiated State = iota
	Ready
	Running
	Waiting
	Suspended
	Terminating
)

func (s State) String() string {
	switch s {
	case Initiated:
		return "initiated"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Suspended:
		return "suspended"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// QoS is the quality-of-service category a VCPU is scheduled under.
type QoS int

const (
	QoSIdle QoS = iota
	QoSBackground
	QoSUtility
	QoSInteractive
	QoSUrgent
	QoSRealtime
)

// QoSPriorityCount is the number of distinct intra-QoS priority levels
// (QOS_PRI_COUNT in the original kernel's sched.h, not carried into the
// filtered headers -- chosen here as a reasonable, documented value; see
// DESIGN.md "Open Questions").
const QoSPriorityCount = 4

// QoSPriorityLowest and QoSPriorityHighest bound the intra-QoS priority
// knob accepted by SetSchedParams.
const (
	QoSPriorityLowest  = 0
	QoSPriorityHighest = QoSPriorityCount - 1
)

// SchedPriorityLowest and SchedPriorityHighest bound the absolute scheduler
// priority, and therefore size the scheduler's ready-FIFO array
// (sched.PriorityCount == SchedPriorityHighest+1).
const (
	SchedPriorityLowest  = 0
	SchedPriorityHighest = int(QoSRealtime) * QoSPriorityCount
)

// ID uniquely identifies a VCPU; zero means "no VCPU".
type ID uint32

// GroupID identifies the VCPU group a VCPU belongs to, assigned at
// acquisition time.
type GroupID uint32

// EntryFunc is the function a VCPU runs once resumed out of Suspended.
type EntryFunc func(ctx any)

// Closure bundles everything needed to configure a freshly acquired VCPU,
// mirroring VirtualProcessorClosure.
type Closure struct {
	Func            EntryFunc
	Context         any
	KernelStackSize int
	UserStackSize   int
	IsUser          bool
}

// SchedParams are the scheduling parameters a caller may set on acquire or
// later via SetSchedParams.
type SchedParams struct {
	QoS         QoS
	QoSPriority int // within [QoSPriorityLowest, QoSPriorityHighest]
}

// SchedPriority computes the absolute scheduler priority for p (spec.md
// 4.2). QoSIdle always maps to SchedPriorityLowest.
func (p SchedParams) SchedPriority() int {
	if p.QoS == QoSIdle {
		return SchedPriorityLowest
	}
	return (int(p.QoS)-1)*QoSPriorityCount + (p.QoSPriority - QoSPriorityLowest) + 1
}

// WaitResult is the reason a wait primitive returned.
type WaitResult int

const (
	WaitWakeup WaitResult = iota
	WaitSignal
	WaitTimeout
)

// Timeout is a VCPU's entry on the scheduler's timeout queue. The queue
// itself (ordered by Deadline) is maintained by package sched, not here.
type Timeout struct {
	Deadline int64 // absolute monotonic tick
	Armed    bool
}

// Owner is the opaque back-reference a VCPU carries to whatever owns it: a
// dispatch worker (package kdispatch) or a process. vcpu does not know the
// concrete type.
type Owner any

// VCPU is the kernel's schedulable entity.
type VCPU struct {
	mu sync.Mutex

	ID      ID
	GroupID GroupID

	sched       State
	lifecycle   lifecycleState

	Params    SchedParams
	SchedPri  int // SchedParams.SchedPriority() cached at last apply
	EffPri    int // effective priority: SchedPri + bias, clamped
	QuantumCD int

	PendingSigs ksignal.Set
	SigMask     ksignal.Set
	WaitSigs    ksignal.Set

	Timeout Timeout

	SuspensionCount int
	WaitingOn       any   // the wait queue this VCPU blocks on (opaque to avoid import cycle with waitq)
	WaitStartTime   int64 // monotonic tick at which this VCPU entered Waiting
	WakeupReason    int   // reason recorded by whoever woke this VCPU; read back after Park returns

	Owner    Owner
	UserData uintptr
	Errno    int

	closure Closure
	park    chan struct{} // handoff channel; see Park/Unpark
	once    sync.Once
}

type lifecycleState int

const (
	lifecycleRelinquished lifecycleState = iota
	lifecycleAcquired
	lifecycleTerminating
)

// New allocates a fresh VCPU in state Initiated. Callers normally reach
// this only through sched.Kernel.Acquire, which first tries the VCPU pool.
func New(id ID) *VCPU {
	v := &VCPU{
		ID:        id,
		sched:     Initiated,
		lifecycle: lifecycleRelinquished,
	}
	v.initPark()
	return v
}

func (v *VCPU) initPark() {
	v.once.Do(func() {
		v.park = make(chan struct{}, 1)
	})
}

// Park blocks the caller (which must be running on this VCPU's goroutine)
// until Unpark is called. This is the Go-native stand-in for the original
// kernel's assembly context switch: instead of manually saving/restoring
// machine registers, each VCPU maps to one goroutine parked on a private
// channel, and the scheduler hands off execution by unparking exactly one
// VCPU's goroutine at a time.
func (v *VCPU) Park() {
	v.initPark()
	<-v.park
}

// Unpark wakes a goroutine blocked in Park. It must be called at most once
// per Park call; the scheduler is responsible for that invariant (exactly
// one VCPU transitions to Running at a time).
func (v *VCPU) Unpark() {
	v.initPark()
	select {
	case v.park <- struct{}{}:
	default:
	}
}

// State returns the VCPU's current scheduling state.
func (v *VCPU) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sched
}

// SetState sets the VCPU's scheduling state. Callers are expected to hold
// the scheduler's preemption-disabled region; vcpu's own mutex only
// protects against concurrent readers such as vcpu_dump-equivalents.
func (v *VCPU) SetState(s State) {
	v.mu.Lock()
	v.sched = s
	v.mu.Unlock()
}

// Suspended reports whether the VCPU is currently suspended.
func (v *VCPU) Suspended() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sched == Suspended
}

// ApplySchedParams recomputes SchedPri from Params and resets EffPri to
// match (no transient bias yet).
func (v *VCPU) ApplySchedParams(p SchedParams) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Params = p
	v.SchedPri = p.SchedPriority()
	v.EffPri = v.SchedPri
}

// SetClosure configures the entry point a suspended VCPU will run once
// resumed. It is an error (returning false) to call this while the VCPU is
// neither suspended nor freshly initiated.
func (v *VCPU) SetClosure(c Closure) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sched != Suspended && v.sched != Initiated {
		return false
	}
	v.closure = c
	return true
}

// Closure returns the currently configured entry closure.
func (v *VCPU) Closure() Closure {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closure
}

// MarkAcquired transitions the VCPU's lifecycle state to acquired.
func (v *VCPU) MarkAcquired() {
	v.mu.Lock()
	v.lifecycle = lifecycleAcquired
	v.mu.Unlock()
}

// MarkRelinquished transitions the VCPU's lifecycle state back to
// relinquished (pool-owned, no schedulable state) and clears owner/user
// fields (spec.md 4.5, relinquish()).
func (v *VCPU) MarkRelinquished() {
	v.mu.Lock()
	v.Owner = nil
	v.UserData = 0
	v.lifecycle = lifecycleRelinquished
	v.mu.Unlock()
}

// MarkTerminating transitions the VCPU's lifecycle state to terminating.
func (v *VCPU) MarkTerminating() {
	v.mu.Lock()
	v.lifecycle = lifecycleTerminating
	v.mu.Unlock()
}

// SetWakeReason records why this VCPU was woken; read back via WakeReason
// once Park returns.
func (v *VCPU) SetWakeReason(reason int) {
	v.mu.Lock()
	v.WakeupReason = reason
	v.mu.Unlock()
}

// WakeReason returns the reason last recorded by SetWakeReason.
func (v *VCPU) WakeReason() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.WakeupReason
}

// Alive reports whether the VCPU has not begun terminating
// (VP_ASSERT_ALIVE in the original).
func (v *VCPU) Alive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lifecycle != lifecycleTerminating
}
