// Package event defines the immutable Event record scheduled and
// dispatched by the engine, and the lightweight handle used to cancel
// one.
package event

import "github.com/signalsfoundry/desengine/clock"

// ID is a monotonically increasing, per-run-unique event identifier,
// assigned by the scheduler at creation time (invariant I4).
type ID uint64

// Priority orders events due at the same time. Lower values dispatch
// first.
type Priority int32

// Action is the operation an event carries. It may mutate the
// caller-supplied model value, which is lent to it for the duration of
// a single dispatch.
//
// Actions and the engine itself are generic over State, so a host's
// model type never needs to implement an engine-defined interface.
type Action[State any] func(state State, sched Scheduler[State]) error

// Scheduler is the subset of the scheduler API an action may use to
// schedule or cancel further events. Defined here (rather than
// imported from package scheduler) to break the import cycle between
// event and scheduler: scheduler.Scheduler implements this interface.
type Scheduler[State any] interface {
	Now() clock.Time
	ScheduleAt(t clock.Time, priority Priority, action Action[State]) (Handle, error)
	ScheduleAfter(dt clock.Duration, priority Priority, action Action[State]) (Handle, error)
	Cancel(h Handle)
}

// Event is the immutable tuple (id, dueAt, priority, action) plus a
// mutable liveness bit. User code never constructs an Event directly;
// construction is internal to the scheduler.
type Event[State any] struct {
	ID       ID
	DueAt    clock.Time
	Priority Priority
	Action   Action[State]

	// alive is the only mutable field. false means cancelled: the FES
	// must skip this entry if popped (lazy deletion, spec.md §4.2).
	alive bool
}

// New constructs a live event. Exported for use by package scheduler,
// which is the only intended caller — user code obtains events
// indirectly via Scheduler.ScheduleAt/ScheduleAfter.
func New[State any](id ID, dueAt clock.Time, priority Priority, action Action[State]) *Event[State] {
	return &Event[State]{ID: id, DueAt: dueAt, Priority: priority, Action: action, alive: true}
}

// Alive reports whether the event has not been cancelled.
func (e *Event[State]) Alive() bool {
	if e == nil {
		return false
	}
	return e.alive
}

// Cancel marks the event as no longer alive. Idempotent.
func (e *Event[State]) Cancel() {
	if e == nil {
		return
	}
	e.alive = false
}

// Less implements the total ordering from spec.md §3: dueAt ascending,
// then priority ascending, then id ascending. Two distinct live events
// never compare equal.
func Less[State any](a, b *Event[State]) bool {
	if a.DueAt != b.DueAt {
		return a.DueAt < b.DueAt
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

// Handle is a lightweight reference to a scheduled event, usable only
// to cancel it. It does not own the event; an expired handle (already
// fired or already cancelled) is harmless to cancel. A handle carries
// only the event id, so a handle from a different run cancels this
// run's pending event with the same id, if there is one.
type Handle struct {
	id ID
}

// NewHandle constructs a handle for the given event id. Exported for
// use by package scheduler.
func NewHandle(id ID) Handle { return Handle{id: id} }

// ID returns the event id this handle refers to.
func (h Handle) ID() ID { return h.id }
