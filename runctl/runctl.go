// Package runctl implements the dispatcher / run controller (spec.md
// §4.5): the single loop that drains the future-event set, advances
// the clock, enforces warm-up and snap boundaries, and invokes the
// Observation Hook. It owns the only mutable reference to the model
// state for the duration of a run.
package runctl

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/desengine/clock"
	"github.com/signalsfoundry/desengine/config"
	"github.com/signalsfoundry/desengine/errs"
	"github.com/signalsfoundry/desengine/event"
	"github.com/signalsfoundry/desengine/fes"
	"github.com/signalsfoundry/desengine/internal/logging"
	"github.com/signalsfoundry/desengine/internal/observability"
	"github.com/signalsfoundry/desengine/rng"
	"github.com/signalsfoundry/desengine/scheduler"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies the run controller's spans in trace backends,
// the same convention internal/reportsvc uses for its own tracer.
const tracerName = "github.com/signalsfoundry/desengine/runctl"

// Phase is the run controller's lifecycle tag (spec.md §9's
// re-architecture of inheritance-based state classes into a tagged
// variant, matched by a small state machine rather than dynamic
// dispatch).
type Phase int

const (
	// Idle is the state before Run is first called.
	Idle Phase = iota
	// Running means the dispatch loop is actively popping events.
	Running
	// Paused means the loop will not pop another event until Resume is
	// called; it only ever takes effect at the loop's own boundary
	// between events, since the engine has no other suspension point
	// (spec.md §5).
	Paused
	// Terminated means the run has ended, for any reason.
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TerminationReason explains why a run ended.
type TerminationReason int

const (
	// TerminationUnspecified is the zero value. Run reports it only when
	// it returns without dispatching: cfg.RunModel is false, or
	// Model.Init failed.
	TerminationUnspecified TerminationReason = iota
	// TerminationQuiescent means the FES emptied before the full
	// measurement horizon (spec.md QuiescentEarly — not fatal).
	TerminationQuiescent
	// TerminationHorizonReached means now reached
	// warmUpDuration + snapDuration*snapCount.
	TerminationHorizonReached
	// TerminationCancelled means the host requested external
	// cancellation between dispatches.
	TerminationCancelled
	// TerminationActionFailed means an action returned an error; the
	// run aborts and remaining events are discarded.
	TerminationActionFailed
)

// Err reports the errs sentinel spec.md §7 associates with a
// non-fatal termination reason: errs.QuiescentEarly for
// TerminationQuiescent, errs.Cancelled for TerminationCancelled, and
// nil for a clean TerminationHorizonReached. TerminationActionFailed's
// error is already carried on RunSummary.ActionErr, not here. Run
// itself never returns this error to its caller — per spec.md §7 these
// conditions are conveyed as part of the run result — but collaborators
// that cross a process boundary (internal/reportsvc) can map it through
// ToStatusError when they need a status code for the condition.
func (r TerminationReason) Err() error {
	switch r {
	case TerminationQuiescent:
		return errs.QuiescentEarly
	case TerminationCancelled:
		return errs.Cancelled
	default:
		return nil
	}
}

func (r TerminationReason) String() string {
	switch r {
	case TerminationQuiescent:
		return "quiescent"
	case TerminationHorizonReached:
		return "horizon_reached"
	case TerminationCancelled:
		return "cancelled"
	case TerminationActionFailed:
		return "action_failed"
	default:
		return "unspecified"
	}
}

// Hooks is the Observation Hook (spec.md §4.7): a side-channel through
// which statistics accumulators are notified at run start, warm-up
// end, each snap boundary, and run end. The engine grants it
// read-only access to the clock and model state; it must not mutate
// model state.
type Hooks[State any] interface {
	// OnRunStart is called once before the first event is dispatched.
	OnRunStart(now clock.Time, state State)
	// OnWarmUpEnd is called at most once, when now first reaches the
	// configured warm-up duration (not at all if the run ends before
	// then), before any event due at that
	// instant is dispatched. Implementations reset accumulators here.
	OnWarmUpEnd(now clock.Time, state State)
	// OnSnap is called at each snap boundary, before any event due
	// exactly at that boundary is dispatched. snapIndex is 0-based.
	OnSnap(now clock.Time, snapIndex int, state State)
	// OnRunEnd is called once after the loop terminates, regardless of
	// reason.
	OnRunEnd(summary RunSummary)
}

// NoopHooks is a Hooks implementation that does nothing, usable by
// hosts that only care about the RunSummary returned from Run.
type NoopHooks[State any] struct{}

func (NoopHooks[State]) OnRunStart(clock.Time, State)  {}
func (NoopHooks[State]) OnWarmUpEnd(clock.Time, State) {}
func (NoopHooks[State]) OnSnap(clock.Time, int, State) {}
func (NoopHooks[State]) OnRunEnd(RunSummary)           {}

// Model is the user-supplied component (spec.md §6): Init seeds the
// FES with the run's initial events, typically scheduled at t=0
// (legal, since dueAt == now is allowed at insertion).
type Model[State any] interface {
	Init(state State, sched event.Scheduler[State]) error
}

// RunSummary is the supplemented "final report" (SPEC_FULL.md §12):
// beyond per-snap Hooks.OnSnap calls, the controller returns a
// structured summary of the whole run.
type RunSummary struct {
	FinalTime         clock.Time
	EventsDispatched  int
	EventsCancelled   int
	SnapsRecorded     int
	TerminationReason TerminationReason
	// ActionErr is non-nil only when TerminationReason is
	// TerminationActionFailed; it is the error the failing action
	// returned, wrapped in errs.ActionFailed.
	ActionErr error
}

// Controller is the run controller: a single Clock, FES, and
// Scheduler bound to one run, plus the Phase state machine governing
// Pause/Resume. A Controller value is owned by exactly one host for
// the duration of a run; constructing a second Controller concurrent
// with an in-progress one on the same model state is a programmer
// error (spec.md §9's re-architecture of singleton enforcement into a
// documented init/teardown contract rather than a catchable
// exception).
type Controller[State any] struct {
	cfg    config.Config
	clock  *clock.Clock
	fes    *fes.FES[State]
	sched  *scheduler.Scheduler[State]
	hooks  Hooks[State]
	log    logging.Logger
	metric *observability.EngineCollector

	phase    atomic.Int32
	resumeCh chan struct{}

	warmUpDone bool
	nextSnap   int

	dispatched int
	cancelled  int
	snaps      int
}

// Option configures a Controller at construction.
type Option[State any] func(*Controller[State])

// WithLogger attaches a structured logger; the zero value is a noop
// logger.
func WithLogger[State any](log logging.Logger) Option[State] {
	return func(c *Controller[State]) { c.log = log }
}

// WithMetrics attaches a Prometheus collector for dispatch-loop
// metrics; nil is harmless (all EngineCollector methods tolerate a
// nil receiver).
func WithMetrics[State any](m *observability.EngineCollector) Option[State] {
	return func(c *Controller[State]) { c.metric = m }
}

// New constructs a Controller from a validated Config and an
// Observation Hook. Construction validates the config eagerly (spec.md
// §9: fail fast rather than lazy field evaluation) and is the only
// place a ConfigInvalid error can surface before Run is called.
func New[State any](cfg config.Config, hooks Hooks[State], opts ...Option[State]) (*Controller[State], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hooks == nil {
		hooks = NoopHooks[State]{}
	}

	clk := clock.New()
	f := fes.New[State]()
	sch := scheduler.New[State](clk, f)

	c := &Controller[State]{
		cfg:      cfg,
		clock:    clk,
		fes:      f,
		sched:    sch,
		hooks:    hooks,
		log:      logging.Noop(),
		resumeCh: make(chan struct{}, 1),
	}
	c.phase.Store(int32(Idle))
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Phase returns the controller's current lifecycle state. Safe to
// call from a goroutine other than the one executing Run, which is
// the intended use for inspecting a Paused controller.
func (c *Controller[State]) Phase() Phase { return Phase(c.phase.Load()) }

// Scheduler returns the scheduler bound to this run, for use by the
// host's Model.Init and by actions that need to be constructed with a
// concrete scheduler reference ahead of time.
func (c *Controller[State]) Scheduler() *scheduler.Scheduler[State] { return c.sched }

// Streams constructs the run's named RNG stream registry from the
// config's master seed. Hosts typically call this once and pass the
// result into their Model.
func (c *Controller[State]) Streams() *rng.Streams {
	return rng.NewStreams(c.cfg.MasterSeed)
}

// Pause requests that the dispatch loop suspend at its next boundary
// between events — the only suspension point the engine has (spec.md
// §5). It is safe to call from a goroutine other than the one running
// Run, which is the intended usage: a host runs Run in a goroutine and
// calls Pause/Resume from another to suspend a run for inspection
// without losing FES state (SPEC_FULL.md §12). A no-op unless the
// controller is currently Running.
func (c *Controller[State]) Pause() {
	c.phase.CompareAndSwap(int32(Running), int32(Paused))
}

// Resume wakes a paused dispatch loop. A no-op unless the controller
// is currently Paused.
func (c *Controller[State]) Resume() {
	if c.phase.CompareAndSwap(int32(Paused), int32(Running)) {
		select {
		case c.resumeCh <- struct{}{}:
		default:
		}
	}
}

// Run executes the dispatch loop to completion (spec.md §4.5). model
// seeds the FES via Init before the loop starts; state is the
// caller-owned model value lent to every action for the duration of
// its dispatch. ctx is polled between dispatches; a cancelled or
// already-done context ends the run cleanly at the current event
// boundary (TerminationCancelled).
//
// Run never runs the model at all if cfg.RunModel is false — callers
// that only want config validation should inspect the error from New
// and skip calling Run.
func (c *Controller[State]) Run(ctx context.Context, model Model[State], state State) (RunSummary, error) {
	if !c.cfg.RunModel {
		return RunSummary{TerminationReason: TerminationUnspecified}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := model.Init(state, c.sched); err != nil {
		return RunSummary{}, fmt.Errorf("runctl: model init failed: %w", err)
	}

	ctx, runSpan := otel.Tracer(tracerName).Start(ctx, "runctl.run", trace.WithAttributes(
		attribute.Float64("warm_up_duration", float64(c.cfg.WarmUpDuration)),
		attribute.Float64("snap_duration", float64(c.cfg.SnapDuration)),
		attribute.Int("snap_count", c.cfg.SnapCount),
	))
	defer runSpan.End()

	c.phase.Store(int32(Running))
	c.hooks.OnRunStart(c.clock.Now(), state)
	c.log.Info(ctx, "run started",
		logging.Any("warm_up_duration", c.cfg.WarmUpDuration),
		logging.Any("snap_duration", c.cfg.SnapDuration),
		logging.Int("snap_count", c.cfg.SnapCount),
	)

	horizon := clock.Time(c.cfg.WarmUpDuration) + clock.Time(c.cfg.SnapDuration)*clock.Time(c.cfg.SnapCount)

	summary, err := c.loop(ctx, state, horizon)
	c.phase.Store(int32(Terminated))
	c.hooks.OnRunEnd(summary)
	c.log.Info(ctx, "run ended",
		logging.Any("final_time", summary.FinalTime),
		logging.Int("events_dispatched", summary.EventsDispatched),
		logging.Int("events_cancelled", summary.EventsCancelled),
		logging.Int("snaps_recorded", summary.SnapsRecorded),
		logging.String("termination_reason", summary.TerminationReason.String()),
	)

	runSpan.SetAttributes(
		attribute.Float64("final_time", float64(summary.FinalTime)),
		attribute.Int("events_dispatched", summary.EventsDispatched),
		attribute.Int("events_cancelled", summary.EventsCancelled),
		attribute.Int("snaps_recorded", summary.SnapsRecorded),
		attribute.String("termination_reason", summary.TerminationReason.String()),
	)
	if err != nil {
		runSpan.RecordError(err)
	}
	return summary, err
}

// loop is the dispatch loop proper (spec.md §4.5's pseudocode). At
// each event boundary it first checks for external cancellation, then
// evaluates FES empty, horizon reached, and action failure. The
// loop boundary between the cancellation check and PopMin is the
// engine's one and only suspension point (spec.md §5); Pause/Resume
// take effect there.
func (c *Controller[State]) loop(ctx context.Context, state State, horizon clock.Time) (RunSummary, error) {
	for {
		select {
		case <-ctx.Done():
			return c.finish(TerminationCancelled, nil), nil
		default:
		}

		if c.Phase() == Paused {
			select {
			case <-c.resumeCh:
			case <-ctx.Done():
				return c.finish(TerminationCancelled, nil), nil
			}
		}

		c.metric.SetFutureEventSetSize(c.fes.Len())

		e := c.fes.PopMin()
		if e == nil {
			return c.finish(TerminationQuiescent, nil), nil
		}
		if e.DueAt >= horizon {
			// The event was already popped; it is discarded along with
			// the rest of the FES, consistent with "run ends cleanly"
			// once the measurement horizon is reached. Boundaries up to
			// and including the horizon are processed first, so every
			// configured snap is recorded.
			c.crossBoundaries(ctx, horizon, state)
			return c.finish(TerminationHorizonReached, nil), nil
		}

		start := time.Now()
		if err := c.clock.AdvanceTo(e.DueAt); err != nil {
			return c.finish(TerminationActionFailed, fmt.Errorf("%w: %v", errs.ActionFailed, err)), err
		}

		c.crossBoundaries(ctx, e.DueAt, state)

		actionErr := e.Action(state, c.sched)
		c.metric.ObserveDispatch(time.Since(start))
		c.dispatched++
		c.metric.IncEventsDispatched()

		if actionErr != nil {
			wrapped := fmt.Errorf("%w: at t=%v: %w", errs.ActionFailed, e.DueAt, actionErr)
			return c.finish(TerminationActionFailed, wrapped), wrapped
		}
	}
}

// crossBoundaries notifies the Observation Hook for the warm-up reset
// and any snap boundaries now has reached, in ascending order, before
// the event due at crossingTime is dispatched (spec.md §4.5: "Snap
// boundaries are processed before any event whose dueAt equals the
// boundary time"). Each snap boundary opens its own child span under
// ctx's run span (spec.md §11).
func (c *Controller[State]) crossBoundaries(ctx context.Context, crossingTime clock.Time, state State) {
	warmUpAt := clock.Time(c.cfg.WarmUpDuration)
	if !c.warmUpDone && crossingTime >= warmUpAt {
		c.warmUpDone = true
		c.hooks.OnWarmUpEnd(warmUpAt, state)
	}

	for c.nextSnap < c.cfg.SnapCount {
		boundary := warmUpAt + clock.Time(c.cfg.SnapDuration)*clock.Time(c.nextSnap+1)
		if crossingTime < boundary {
			break
		}

		_, snapSpan := otel.Tracer(tracerName).Start(ctx, "runctl.snap", trace.WithAttributes(
			attribute.Int("snap_index", c.nextSnap),
			attribute.Float64("end_time", float64(boundary)),
		))
		c.hooks.OnSnap(boundary, c.nextSnap, state)
		snapSpan.End()

		c.metric.IncSnapsRecorded()
		c.snaps++
		c.nextSnap++
	}
}

func (c *Controller[State]) finish(reason TerminationReason, actionErr error) RunSummary {
	cancelled := c.fes.CancelledTotal()
	for i := 0; i < cancelled-c.cancelled; i++ {
		c.metric.IncEventsCancelled()
	}
	c.cancelled = cancelled
	return RunSummary{
		FinalTime:         c.clock.Now(),
		EventsDispatched:  c.dispatched,
		EventsCancelled:   c.cancelled,
		SnapsRecorded:     c.snaps,
		TerminationReason: reason,
		ActionErr:         actionErr,
	}
}
