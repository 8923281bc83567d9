package reportsvc

import (
	"errors"

	"github.com/signalsfoundry/desengine/errs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound is returned when a requested run has no recorded summary yet.
var ErrNotFound = errors.New("reportsvc: run summary not found")

// ToStatusError maps engine and reportsvc errors onto gRPC status codes,
// generalizing the teacher's per-domain ToStatusError into the six
// engine error kinds (spec.md §7) plus this package's own ErrNotFound.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, errs.ConfigInvalid):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, errs.BackInTime),
		errors.Is(err, errs.NegativeDelay),
		errors.Is(err, errs.ActionFailed):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, errs.Cancelled), errors.Is(err, errs.QuiescentEarly):
		// Both are non-fatal: the run ended before its full measurement
		// horizon, not because an action or the scheduler failed.
		return status.Error(codes.Canceled, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
