// Package scheduler provides the public API actions use to schedule
// and cancel events: Now, ScheduleAt, ScheduleAfter, Cancel (spec.md
// §4.4). It assigns each event a monotonically increasing id.
package scheduler

import (
	"fmt"
	"sync/atomic"

	"github.com/signalsfoundry/desengine/clock"
	"github.com/signalsfoundry/desengine/errs"
	"github.com/signalsfoundry/desengine/event"
	"github.com/signalsfoundry/desengine/fes"
)

// Scheduler owns the next-id counter and references to the clock and
// future-event set. Its lifecycle is bound to a single run.
type Scheduler[State any] struct {
	clock  *clock.Clock
	fes    *fes.FES[State]
	nextID atomic.Uint64
}

// New constructs a Scheduler bound to clk and f. The id sequence
// starts at 1 so the zero value of event.ID/event.Handle never refers
// to a real event.
func New[State any](clk *clock.Clock, f *fes.FES[State]) *Scheduler[State] {
	return &Scheduler[State]{clock: clk, fes: f}
}

// Now returns the current simulation time.
func (s *Scheduler[State]) Now() clock.Time {
	return s.clock.Now()
}

// ScheduleAt inserts an event with the given due time and priority.
// It requires t >= Now(); violating that is a SchedulingError
// (BackInTime), a programmer error that the run controller surfaces
// as fatal.
func (s *Scheduler[State]) ScheduleAt(t clock.Time, priority event.Priority, action event.Action[State]) (event.Handle, error) {
	now := s.clock.Now()
	if err := fes.ValidateDueAt(now, t); err != nil {
		return event.Handle{}, fmt.Errorf("%w: scheduleAt(%v) at now=%v", errs.BackInTime, t, now)
	}
	id := event.ID(s.nextID.Add(1))
	e := event.New(id, t, priority, action)
	s.fes.Insert(e)
	return event.NewHandle(id), nil
}

// ScheduleAfter is equivalent to ScheduleAt(Now()+dt, ...). It
// requires dt >= 0; a negative delay is a SchedulingError
// (NegativeDelay).
func (s *Scheduler[State]) ScheduleAfter(dt clock.Duration, priority event.Priority, action event.Action[State]) (event.Handle, error) {
	if dt < 0 {
		return event.Handle{}, fmt.Errorf("%w: scheduleAfter(%v)", errs.NegativeDelay, dt)
	}
	return s.ScheduleAt(s.clock.Now()+clock.Time(dt), priority, action)
}

// Cancel marks the referenced event cancelled. Idempotent: cancelling
// an already-fired or already-cancelled event is a silent no-op. Only
// the id is looked up, so a handle from a different run cancels this
// run's pending event with the same id, if there is one.
func (s *Scheduler[State]) Cancel(h event.Handle) {
	s.fes.Cancel(h.ID())
}

var _ event.Scheduler[any] = (*Scheduler[any])(nil)
