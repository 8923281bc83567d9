// Package errs defines the error kinds surfaced by the engine
// (spec.md §7). Each is a sentinel, wrapped with context via
// fmt.Errorf("%w: ...") at the raise site and unwrapped with
// errors.Is/errors.As by callers.
package errs

import "errors"

var (
	// ConfigInvalid is returned when a Config fails validation:
	// non-positive durations/snapCount, or an overflowing
	// warmUp+snap*count horizon.
	ConfigInvalid = errors.New("config: invalid")

	// BackInTime is returned when ScheduleAt is called with a due
	// time strictly before the scheduler's current time. Fatal:
	// aborts the run.
	BackInTime = errors.New("scheduler: back-in-time schedule")

	// NegativeDelay is returned when ScheduleAfter is called with a
	// negative delay. Fatal: aborts the run.
	NegativeDelay = errors.New("scheduler: negative delay")

	// ActionFailed wraps an error returned by a dispatched action.
	// Fatal: aborts the run, remaining events are discarded.
	ActionFailed = errors.New("action: failed")

	// QuiescentEarly is not fatal: it reports that the future-event
	// set emptied before the run's full measurement horizon. The run
	// ends normally; this is conveyed in the runctl.RunSummary, not raised as
	// an error to the caller of Run.
	QuiescentEarly = errors.New("run: quiescent before full duration")

	// Cancelled is not fatal: it reports that the host requested
	// external cancellation. The run ends cleanly at the current
	// event boundary.
	Cancelled = errors.New("run: cancelled")
)
