package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCollector exposes engine-specific Prometheus metrics: the
// shape of the dispatch loop itself, rather than any one RPC surface.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	DispatchDuration   prometheus.Histogram
	FutureEventSetSize prometheus.Gauge
	EventsDispatched   prometheus.Counter
	EventsCancelled    prometheus.Counter
	SnapsRecorded      prometheus.Counter
}

// NewEngineCollector registers engine metrics against the provided registerer.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	dispatchHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "desengine_dispatch_duration_seconds",
		Help:    "Wall-clock duration of a single event dispatch (clock advance + action invocation).",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	})
	dispatchHistogram, err := registerHistogram(reg, dispatchHistogram, "desengine_dispatch_duration_seconds")
	if err != nil {
		return nil, err
	}

	fesGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "desengine_future_event_set_size",
		Help: "Number of entries currently held by the future-event set, including unpopped cancelled entries.",
	})
	fesGauge, err = registerGauge(reg, fesGauge, "desengine_future_event_set_size")
	if err != nil {
		return nil, err
	}

	dispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "desengine_events_dispatched_total",
		Help: "Cumulative number of events whose action has been invoked.",
	})
	dispatched, err = registerCounter(reg, dispatched, "desengine_events_dispatched_total")
	if err != nil {
		return nil, err
	}

	cancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "desengine_events_cancelled_total",
		Help: "Cumulative number of events cancelled before dispatch.",
	})
	cancelled, err = registerCounter(reg, cancelled, "desengine_events_cancelled_total")
	if err != nil {
		return nil, err
	}

	snaps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "desengine_snaps_recorded_total",
		Help: "Cumulative number of snap boundaries recorded by the Observation Hook.",
	})
	snaps, err = registerCounter(reg, snaps, "desengine_snaps_recorded_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:           gatherer,
		DispatchDuration:   dispatchHistogram,
		FutureEventSetSize: fesGauge,
		EventsDispatched:   dispatched,
		EventsCancelled:    cancelled,
		SnapsRecorded:      snaps,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveDispatch records a single dispatch's duration.
func (c *EngineCollector) ObserveDispatch(d time.Duration) {
	if c == nil || c.DispatchDuration == nil {
		return
	}
	c.DispatchDuration.Observe(d.Seconds())
}

// SetFutureEventSetSize updates the FES depth gauge.
func (c *EngineCollector) SetFutureEventSetSize(n int) {
	if c == nil || c.FutureEventSetSize == nil {
		return
	}
	c.FutureEventSetSize.Set(float64(n))
}

// IncEventsDispatched increments the dispatched-event counter.
func (c *EngineCollector) IncEventsDispatched() {
	if c == nil || c.EventsDispatched == nil {
		return
	}
	c.EventsDispatched.Inc()
}

// IncEventsCancelled increments the cancelled-event counter.
func (c *EngineCollector) IncEventsCancelled() {
	if c == nil || c.EventsCancelled == nil {
		return
	}
	c.EventsCancelled.Inc()
}

// IncSnapsRecorded increments the snap counter.
func (c *EngineCollector) IncSnapsRecorded() {
	if c == nil || c.SnapsRecorded == nil {
		return
	}
	c.SnapsRecorded.Inc()
}
