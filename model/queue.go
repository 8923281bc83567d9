// Package model supplies the user-facing side of the engine: a demo
// single-server queueing model exercising Scheduler, RNG streams, and
// the Observation Hook end to end, the way the teacher's
// cmd/simulator wires a platform/ground-station scenario directly
// into a time controller's listener list. Hosts are not required to
// use this package — runctl.Model and runctl.Hooks are the only
// contracts a host must satisfy — but it serves as the worked example
// cmd/desrunner runs by default.
package model

import (
	"math"

	"github.com/signalsfoundry/desengine/clock"
	"github.com/signalsfoundry/desengine/event"
	"github.com/signalsfoundry/desengine/rng"
	"github.com/signalsfoundry/desengine/runctl"
)

// QueueState is the mutable model state for a single-server
// first-come-first-served queue: the engine lends it to every action
// dispatched during a run.
type QueueState struct {
	arrivals  *rng.Stream
	services  *rng.Stream
	meanInter clock.Duration
	meanSvc   clock.Duration

	queueLen     int
	serverBusy   bool
	arrivalsSeen int
	departures   int

	// windowArea accumulates the area under the queue-length curve
	// since windowStart, for a time-weighted average at the next
	// boundary (warm-up or snap). lastEventTime is the last instant
	// accumulate folded into windowArea.
	windowArea    float64
	windowStart   clock.Time
	lastEventTime clock.Time
}

// NewQueueState constructs queue state seeded from the run's RNG
// stream registry. meanInterArrival and meanService are the means of
// the exponential distributions governing arrivals and service times.
func NewQueueState(streams *rng.Streams, meanInterArrival, meanService clock.Duration) *QueueState {
	return &QueueState{
		arrivals:  streams.Stream("queue.arrivals"),
		services:  streams.Stream("queue.services"),
		meanInter: meanInterArrival,
		meanSvc:   meanService,
	}
}

// QueueModel is the demo runctl.Model: its Init seeds the FES with the
// first arrival.
type QueueModel struct{}

// Init schedules the first arrival at t=0 (legal: dueAt == now is
// admitted at insertion, spec.md §3).
func (QueueModel) Init(state *QueueState, sched event.Scheduler[*QueueState]) error {
	state.windowStart = sched.Now()
	state.lastEventTime = sched.Now()
	_, err := sched.ScheduleAt(sched.Now(), 0, arrival)
	return err
}

// exponential draws an exponential(1/mean) sample from s.
func exponential(s *rng.Stream, mean clock.Duration) clock.Duration {
	u := s.Float64()
	return clock.Duration(-float64(mean) * math.Log(1-u))
}

// accumulate folds the elapsed time at the current queue length into
// the running time-weighted area, then advances lastEventTime. Call
// this before every state mutation that changes queueLen.
func (s *QueueState) accumulate(now clock.Time) {
	elapsed := float64(now - s.lastEventTime)
	s.windowArea += elapsed * float64(s.queueLen)
	s.lastEventTime = now
}

// resetWindow folds any remaining elapsed time into windowArea, then
// clears the window for the next warm-up/snap period.
func (s *QueueState) resetWindow(now clock.Time) (windowLen float64, meanQueueLen float64) {
	s.accumulate(now)
	windowLen = float64(now - s.windowStart)
	meanQueueLen = 0
	if windowLen > 0 {
		meanQueueLen = s.windowArea / windowLen
	}
	s.windowArea = 0
	s.windowStart = now
	return windowLen, meanQueueLen
}

// arrival is the recurring "customer arrives" action: it admits the
// customer, starts service if the server is idle, and schedules the
// next arrival.
func arrival(state *QueueState, sched event.Scheduler[*QueueState]) error {
	now := sched.Now()
	state.accumulate(now)
	state.arrivalsSeen++
	state.queueLen++

	if !state.serverBusy {
		state.serverBusy = true
		state.queueLen--
		svc := exponential(state.services, state.meanSvc)
		if _, err := sched.ScheduleAfter(svc, 1, departure); err != nil {
			return err
		}
	}

	nextInter := exponential(state.arrivals, state.meanInter)
	_, err := sched.ScheduleAfter(nextInter, 0, arrival)
	return err
}

// departure is the "customer finishes service" action: it frees the
// server and, if customers are waiting, immediately starts the next
// one.
func departure(state *QueueState, sched event.Scheduler[*QueueState]) error {
	now := sched.Now()
	state.accumulate(now)
	state.departures++
	state.serverBusy = false

	if state.queueLen > 0 {
		state.queueLen--
		state.serverBusy = true
		svc := exponential(state.services, state.meanSvc)
		if _, err := sched.ScheduleAfter(svc, 1, departure); err != nil {
			return err
		}
	}
	return nil
}

// SnapReport is the per-snap statistic QueueHooks hands to Record.
type SnapReport struct {
	SnapIndex       int
	EndTime         clock.Time
	MeanQueueLength float64
	Arrivals        int
	Departures      int
}

// QueueHooks is a demo runctl.Hooks[*QueueState] implementation: it
// resets the time-weighted window at warm-up and at every snap
// boundary, and forwards a SnapReport to Record at each snap.
type QueueHooks struct {
	Record func(SnapReport)
}

func (h QueueHooks) OnRunStart(now clock.Time, state *QueueState) {
	state.windowStart = now
	state.lastEventTime = now
}

func (h QueueHooks) OnWarmUpEnd(now clock.Time, state *QueueState) {
	state.resetWindow(now)
	state.arrivalsSeen = 0
	state.departures = 0
}

func (h QueueHooks) OnSnap(now clock.Time, snapIndex int, state *QueueState) {
	_, mean := state.resetWindow(now)
	if h.Record != nil {
		h.Record(SnapReport{
			SnapIndex:       snapIndex,
			EndTime:         now,
			MeanQueueLength: mean,
			Arrivals:        state.arrivalsSeen,
			Departures:      state.departures,
		})
	}
	state.arrivalsSeen = 0
	state.departures = 0
}

func (h QueueHooks) OnRunEnd(runctl.RunSummary) {}

var _ runctl.Hooks[*QueueState] = QueueHooks{}
