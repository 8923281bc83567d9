package reportsvc

import (
	"context"

	"github.com/signalsfoundry/desengine/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const runIDMetadataKey = "x-run-id"

// RunIDUnaryServerInterceptor ensures a run_id is present on the
// context, sourcing it from inbound metadata if provided, and attaches
// a per-call logger annotated with run_id and method. Generalized from
// the teacher's RequestIDUnaryServerInterceptor: the unit of work
// threaded through context here is a simulation run, not an inbound
// HTTP-style request.
func RunIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, runIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRunID(ctx, incoming)
			}
		}

		ctx, callLog := logging.WithRunLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, callLog)

		return handler(ctx, req)
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
