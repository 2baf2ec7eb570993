package kdispatch

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dplanitzer/apollo-sched/klock"
	"github.com/dplanitzer/apollo-sched/ksignal"
	"github.com/dplanitzer/apollo-sched/sched"
	"github.com/dplanitzer/apollo-sched/vcpu"
	"github.com/dplanitzer/apollo-sched/vlog"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Errors returned by Dispatcher methods, matching spec.md 7's taxonomy.
var (
	ErrInvalidArgument = errors.New("kdispatch: invalid argument")
	ErrBusy            = errors.New("kdispatch: resource busy")
	ErrNotFound        = errors.New("kdispatch: not found")
	ErrStateMismatch   = errors.New("kdispatch: state mismatch")
	ErrCapacity        = errors.New("kdispatch: capacity exhausted")
	ErrTerminated       = errors.New("kdispatch: dispatcher is terminating or terminated")
)

// State is the dispatcher's lifecycle state (spec.md 3).
type State int

const (
	StateActive State = iota
	StateSuspending
	StateSuspended
	StateTerminating
	StateTerminated
)

const (
	maxNameLen         = 7
	convItemCacheCap   = 8
	timerCacheCap      = 4
	ensureReasonNewItem = "new-work-item"
)

// Attr configures Create (spec.md 4.8.1).
type Attr struct {
	MinConcurrency int
	MaxConcurrency int
	QoS            vcpu.QoS
	QoSPriority    int
	Name           string
}

// Option mutates an Attr; applied by Create to the Attr it is given.
type Option func(*Attr)

// WithMinConcurrency sets the minimum worker count a dispatcher keeps
// warm.
func WithMinConcurrency(n int) Option { return func(a *Attr) { a.MinConcurrency = n } }

// WithQoS sets the QoS category new workers are scheduled under.
func WithQoS(qos vcpu.QoS, priority int) Option {
	return func(a *Attr) { a.QoS = qos; a.QoSPriority = priority }
}

// Event is emitted on the Dispatcher's hooks.Hooks[Event] for worker
// lifecycle and state-machine transitions.
type Event struct {
	Kind     string
	WorkerID vcpu.ID
	Detail   string
}

// Hook event kinds.
const (
	EventWorkerSpawned     = "worker.spawned"
	EventWorkerRelinquished = "worker.relinquished"
	EventSuspended         = "dispatcher.suspended"
	EventResumed           = "dispatcher.resumed"
	EventTerminated        = "dispatcher.terminated"
	EventSignalTrapAdded   = "signal_trap.added"
)

// tracez span/tag keys for item execution.
var (
	SpanItemExecute  = tracez.Key("kdispatch.item.execute")
	TagItemType      = tracez.Tag("kdispatch.item.type")
	TagItemQoS       = tracez.Tag("kdispatch.qos")
	TagItemCancelled = tracez.Tag("kdispatch.cancelled")
)

// metricz keys.
var (
	MetricWorkerCount    = metricz.Key("kdispatch.workers")
	MetricItemsSubmitted = metricz.Key("kdispatch.items_submitted.total")
	MetricItemsRetired   = metricz.Key("kdispatch.items_retired.total")
	MetricItemsCancelled = metricz.Key("kdispatch.items_cancelled.total")
	MetricTimersArmed    = metricz.Key("kdispatch.timers_armed.total")
)

type signalTrap struct {
	monitors list.List // elements are *Item
	count    int
}

// Dispatcher owns a deque of workers, a shared ordered timer queue, a
// signal-trap table, item/timer caches, a state machine, and suspend/
// resume/termination (spec.md 3, "Dispatcher").
type Dispatcher struct {
	mu klock.Mu
	cv klock.CV

	attr    Attr
	groupID uint32

	workers []*Worker

	zombies list.List // elements are *Item, awaiting Await

	convItemCache  []*Item
	timerCache     []*Timer
	timerQueue     list.List // elements are *Timer, ascending by Deadline

	signalTraps          map[ksignal.Signal]*signalTrap
	allocatedUserSignals ksignal.Set

	state           State
	suspensionCount int

	kernel *sched.Kernel
	clock  sched.Clock

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[Event]
}

var groupIDCounter uint32

// Create validates attr, creates the dispatcher, and pre-acquires
// MinConcurrency workers (spec.md 4.8.1).
func Create(kernel *sched.Kernel, clock sched.Clock, attr Attr, opts ...Option) (*Dispatcher, error) {
	for _, opt := range opts {
		opt(&attr)
	}
	if attr.MinConcurrency < 1 || attr.MinConcurrency > attr.MaxConcurrency || attr.MaxConcurrency > 127 {
		return nil, fmt.Errorf("%w: concurrency bounds", ErrInvalidArgument)
	}
	if attr.QoSPriority < vcpu.QoSPriorityLowest || attr.QoSPriority > vcpu.QoSPriorityHighest {
		return nil, fmt.Errorf("%w: qos priority out of range", ErrInvalidArgument)
	}
	if len(attr.Name) > maxNameLen {
		attr.Name = attr.Name[:maxNameLen]
	}

	d := &Dispatcher{
		attr:    attr,
		groupID: atomic.AddUint32(&groupIDCounter, 1),
		kernel:  kernel,
		clock:   clock,
		metrics: metricz.New(),
		tracer:  tracez.New(),
		hooks:   hookz.New[Event](),
		state:   StateActive,
	}
	d.metrics.Gauge(MetricWorkerCount)
	d.metrics.Counter(MetricItemsSubmitted)
	d.metrics.Counter(MetricItemsRetired)
	d.metrics.Counter(MetricItemsCancelled)
	d.metrics.Counter(MetricTimersArmed)

	for i := 0; i < attr.MinConcurrency; i++ {
		if err := d.acquireWorker(); err != nil && len(d.workers) == 0 {
			return nil, err
		}
	}
	return d, nil
}

// Destroy fails with ErrBusy unless the dispatcher is Terminated with an
// empty zombie list (spec.md 4.8.1).
func (d *Dispatcher) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateTerminated || d.zombies.Len() != 0 {
		return ErrBusy
	}
	d.timerCache = nil
	d.convItemCache = nil
	d.signalTraps = nil
	d.tracer.Close()
	d.hooks.Close()
	return nil
}

// State returns the dispatcher's current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Metrics, Tracer and Hooks expose the dispatcher's observability surface.
func (d *Dispatcher) Metrics() *metricz.Registry     { return d.metrics }
func (d *Dispatcher) Tracer() *tracez.Tracer         { return d.tracer }
func (d *Dispatcher) Hooks() *hookz.Hooks[Event]      { return d.hooks }

// ensureCapacity implements spec.md 4.8.2: grows the worker pool when below
// MinConcurrency, or when reason indicates new work and we're below
// MaxConcurrency. An allocation failure is only fatal when no worker yet
// exists (spec.md 7).
func (d *Dispatcher) ensureCapacity(reason string) error {
	if len(d.workers) < d.attr.MinConcurrency ||
		(reason == ensureReasonNewItem && len(d.workers) < d.attr.MaxConcurrency) {
		if err := d.acquireWorker(); err != nil && len(d.workers) == 0 {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) acquireWorker() error {
	attr := sched.AcquireAttr{
		GroupID:     vcpu.GroupID(d.groupID),
		SchedParams: vcpu.SchedParams{QoS: d.attr.QoS, QoSPriority: d.attr.QoSPriority},
	}
	vp, err := d.kernel.Acquire(attr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCapacity, err)
	}

	w := newWorker(vp)
	w.AllowRelinquish = len(d.workers) >= d.attr.MinConcurrency
	vp.Owner = w
	d.workers = append(d.workers, w)
	d.metrics.Gauge(MetricWorkerCount).Set(float64(len(d.workers)))

	vp.SetClosure(vcpu.Closure{Func: func(any) { d.workerLoop(w) }})
	d.kernel.Resume(vp, true)

	vlog.VI(1).Infof("kdispatch[%s]: worker %d spawned (count=%d)", d.attr.Name, vp.ID, len(d.workers))
	_ = d.hooks.Emit(context.Background(), EventWorkerSpawned, Event{Kind: EventWorkerSpawned, WorkerID: vp.ID})
	return nil
}

// relinquishWorker removes w from the deque, broadcasts, unlocks, then
// relinquishes its VCPU to the scheduler's pool (spec.md 4.8.2). Must be
// called with d.mu held; it returns with d.mu unlocked.
func (d *Dispatcher) relinquishWorker(w *Worker) {
	for i, cand := range d.workers {
		if cand == w {
			d.workers = append(d.workers[:i], d.workers[i+1:]...)
			break
		}
	}
	d.metrics.Gauge(MetricWorkerCount).Set(float64(len(d.workers)))
	d.cv.Broadcast()
	d.mu.Unlock()

	vlog.VI(1).Infof("kdispatch[%s]: worker %d relinquished (count=%d)", d.attr.Name, w.VP.ID, len(d.workers))
	_ = d.hooks.Emit(context.Background(), EventWorkerRelinquished, Event{Kind: EventWorkerRelinquished, WorkerID: w.VP.ID})
	d.kernel.Relinquish(w.VP)
}

// wakeupAllWorkers sends SIGDISP to every worker (spec.md 4.8.2).
func (d *Dispatcher) wakeupAllWorkers() {
	for _, w := range d.workers {
		d.kernel.Send(w.VP, ksignal.SIGDISP)
	}
}

// stealWorkItem finds the worker with the highest WorkCount and removes
// its head item, for load-balancing inside getNextWork (spec.md 4.8.2).
func (d *Dispatcher) stealWorkItem(self *Worker) *Item {
	var victim *Worker
	for _, w := range d.workers {
		if w == self {
			continue
		}
		if victim == nil || w.WorkCount > victim.WorkCount {
			victim = w
		}
	}
	if victim == nil || victim.WorkCount == 0 {
		return nil
	}
	return victim.popFront()
}
