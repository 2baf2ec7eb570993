package sched

import (
	"container/list"
	"sync"
	"time"

	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/dplanitzer/apollo-sched/vcpupool"
	"github.com/dplanitzer/apollo-sched/vlog"
	"github.com/dplanitzer/apollo-sched/waitq"
	"github.com/zoobzio/metricz"
)

// Clock is the subset of clockz.Clock the scheduler needs: the monotonic
// wall-clock used to convert timeouts to absolute ticks. A clockz.Clock
// value (clockz.RealClock in production, clockz.NewFakeClock() in tests)
// satisfies this interface structurally.
type Clock interface {
	Now() time.Time
}

// PriorityCount is the number of absolute scheduler priorities, and
// therefore the size of the ready-FIFO array (spec.md 3, "Array of
// SCHED_PRI_COUNT ready FIFOs").
const PriorityCount = vcpu.SchedPriorityHighest + 1

// Metric keys published on Kernel.Metrics().
var (
	MetricReadyVCPUs       = metricz.Key("sched.ready.vcpus")
	MetricContextSwitches  = metricz.Key("sched.context_switches.total")
	MetricQuantumExpirations = metricz.Key("sched.quantum_expirations.total")
	MetricTimeouts         = metricz.Key("sched.timeouts.total")
	MetricAcquires         = metricz.Key("sched.vcpu_acquires.total")
	MetricRelinquishes     = metricz.Key("sched.vcpu_relinquishes.total")
	MetricPoolHits         = metricz.Key("sched.vcpu_pool_hits.total")
	MetricPoolMisses       = metricz.Key("sched.vcpu_pool_misses.total")
)

// quantumTicks gives the initial quantum countdown per QoS (spec.md 4.2,
// "resets quantum_countdown from a table keyed by QoS"). Not carried in
// the filtered original headers; chosen so higher QoS gets a longer
// quantum, and documented as an Open Question resolution in DESIGN.md.
var quantumTicks = [...]int{
	vcpu.QoSIdle:        1,
	vcpu.QoSBackground:  2,
	vcpu.QoSUtility:     3,
	vcpu.QoSInteractive: 4,
	vcpu.QoSUrgent:      6,
	vcpu.QoSRealtime:    8,
}

// waitBoostQuarterSecondTicks mirrors waitq's own constant; kept in sync
// here only for documentation, the real divisor lives in package waitq.
const waitBoostQuarterSecondTicks = 250_000_000

// Kernel is the scheduler singleton: ready queues, timeout queue, the
// running/scheduled pointers, boot and idle VCPUs, and the finalizer
// queue. It replaces the original's bare globals (g_sched, gSchedulerWaitQueue,
// ...) with one aggregate constructed by Boot, per the reimplementation's
// design note on global mutable state.
type Kernel struct {
	mu sync.Mutex

	ready    [PriorityCount]list.List // elements are *vcpu.VCPU
	popBits  uint32                   // bit p set iff ready[p] is non-empty

	timeouts list.List // elements are *vcpu.VCPU, ascending by Timeout.Deadline

	running *vcpu.VCPU
	boot    *vcpu.VCPU
	idle    *vcpu.VCPU

	finalizer []*vcpu.VCPU

	pool  *vcpupool.Pool
	clock Clock
	start time.Time

	nextID   uint32
	registry map[vcpu.ID]*vcpu.VCPU // every live VCPU, keyed by ID; walked by syscallapi.SigSend scopes

	metrics *metricz.Registry
}

// Config configures Boot.
type Config struct {
	Clock        Clock
	PoolCapacity int
}

// Boot constructs a Kernel with a boot VCPU (running, priority highest) and
// an idle VCPU (priority lowest; it is never put on a ready queue and is
// switched to directly when nothing else is ready), per spec.md 3: "Boot VCPU (runs
// scheduler housekeeping / finalization) and idle VCPU (runs when nothing
// else is ready)."
func Boot(cfg Config) *Kernel {
	k := &Kernel{
		pool:     vcpupool.New(cfg.PoolCapacity),
		clock:    cfg.Clock,
		start:    cfg.Clock.Now(),
		registry: make(map[vcpu.ID]*vcpu.VCPU),
		metrics:  metricz.New(),
	}
	k.metrics.Gauge(MetricReadyVCPUs)
	k.metrics.Counter(MetricContextSwitches)
	k.metrics.Counter(MetricQuantumExpirations)
	k.metrics.Counter(MetricTimeouts)
	k.metrics.Counter(MetricAcquires)
	k.metrics.Counter(MetricRelinquishes)
	k.metrics.Counter(MetricPoolHits)
	k.metrics.Counter(MetricPoolMisses)

	k.nextID = 1
	k.boot = vcpu.New(vcpu.ID(k.nextID))
	k.nextID++
	k.boot.ApplySchedParams(vcpu.SchedParams{QoS: vcpu.QoSRealtime, QoSPriority: vcpu.QoSPriorityHighest})
	k.boot.SetState(vcpu.Running)
	k.boot.MarkAcquired()
	k.running = k.boot

	k.idle = vcpu.New(vcpu.ID(k.nextID))
	k.nextID++
	k.idle.ApplySchedParams(vcpu.SchedParams{QoS: vcpu.QoSIdle})
	k.idle.MarkAcquired()
	k.idle.QuantumCD = quantumTicks[vcpu.QoSIdle]
	k.registry[k.boot.ID] = k.boot
	k.registry[k.idle.ID] = k.idle

	vlog.VI(1).Infof("sched: booted, boot=%d idle=%d pool_capacity=%d", k.boot.ID, k.idle.ID, cfg.PoolCapacity)
	return k
}

// Metrics returns the scheduler's metric registry.
func (k *Kernel) Metrics() *metricz.Registry {
	return k.metrics
}

// Now returns the current monotonic tick, in nanoseconds since boot
// (waitq.Scheduler.Now).
func (k *Kernel) Now() int64 {
	return int64(k.clock.Now().Sub(k.start))
}

// Running returns the currently running VCPU.
func (k *Kernel) Running() *vcpu.VCPU {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// BootVCPU and IdleVCPU expose the two kernel-owned VCPUs, mainly for tests and
// diagnostics.
func (k *Kernel) BootVCPU() *vcpu.VCPU { return k.boot }
func (k *Kernel) IdleVCPU() *vcpu.VCPU { return k.idle }

// Lookup resolves a VCPU by ID, used by syscallapi.SigSend to translate
// a target ID (spec.md 6, sigsend) into the live *vcpu.VCPU.
func (k *Kernel) Lookup(id vcpu.ID) (*vcpu.VCPU, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	vp, ok := k.registry[id]
	return vp, ok
}

// Snapshot returns every currently registered VCPU, for scope-based signal
// fan-out (spec.md 6's VCPU-group/process/process-group/session/children
// scopes).
func (k *Kernel) Snapshot() []*vcpu.VCPU {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*vcpu.VCPU, 0, len(k.registry))
	for _, vp := range k.registry {
		out = append(out, vp)
	}
	return out
}

// PreemptCookie is returned by PreemptDisable and consumed by
// PreemptRestore. It is opaque to callers.
type PreemptCookie struct{}

// PreemptDisable acquires the kernel's internal lock, the concrete stand-in
// for the original's interrupt-disable region. It is not reentrant: nested
// calls from the same logical VCPU will deadlock, matching the original's
// requirement that preempt_disable/preempt_restore regions not be
// interleaved carelessly. Internal Kernel methods do not call this
// themselves; each already locks for the duration of its own operation.
func (k *Kernel) PreemptDisable() PreemptCookie {
	k.mu.Lock()
	return PreemptCookie{}
}

// PreemptRestore releases the lock taken by PreemptDisable.
func (k *Kernel) PreemptRestore(PreemptCookie) {
	k.mu.Unlock()
}

var _ waitq.Scheduler = (*Kernel)(nil)
