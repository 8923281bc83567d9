// Package reportsvc implements the gRPC surface for the Observation
// Hook's external collaborator (spec.md §6: Reporter.record(snapIndex,
// metrics)). It has no generated client/server stubs behind it — no
// .proto source for this domain was retrievable anywhere in the
// example pack (see DESIGN.md) — so messages are built from
// google.golang.org/protobuf's pre-generated structpb.Struct and
// emptypb.Empty, and the service registration is written by hand the
// way protoc-gen-go-grpc would emit it.
package reportsvc

import (
	"context"
	"sync"

	"github.com/signalsfoundry/desengine/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ReportServiceServer is the interface a reportsvc backend implements.
// RecordSnap mirrors spec.md's Reporter.record(snapIndex, metrics);
// GetRunSummary exposes the supplemented RunSummary (SPEC_FULL.md §12).
type ReportServiceServer interface {
	RecordSnap(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	GetRunSummary(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedReportServiceServer provides forward-compatible default
// implementations, the same convention protoc-gen-go-grpc embeds in
// every generated server struct.
type UnimplementedReportServiceServer struct{}

func (UnimplementedReportServiceServer) RecordSnap(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, ToStatusError(status.Error(codes.Unimplemented, "method RecordSnap not implemented"))
}

func (UnimplementedReportServiceServer) GetRunSummary(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, ToStatusError(status.Error(codes.Unimplemented, "method GetRunSummary not implemented"))
}

// Server is the in-memory ReportServiceServer backing cmd/desrunner:
// it accumulates RecordSnap payloads per run and serves the latest
// RunSummary a host has published via SetRunSummary.
type Server struct {
	UnimplementedReportServiceServer

	log logging.Logger

	mu      sync.Mutex
	snaps   map[string][]*structpb.Struct
	summary map[string]*structpb.Struct
}

// NewServer constructs an empty Server.
func NewServer(log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{
		log:     log,
		snaps:   make(map[string][]*structpb.Struct),
		summary: make(map[string]*structpb.Struct),
	}
}

// RecordSnap stores in's payload under its "run_id" field, defaulting
// to the run_id attached to ctx by RunIDUnaryServerInterceptor when
// the field is absent.
func (s *Server) RecordSnap(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	runID := runIDFromPayload(ctx, in)

	s.mu.Lock()
	s.snaps[runID] = append(s.snaps[runID], in)
	s.mu.Unlock()

	s.log.Debug(ctx, "snap recorded", logging.String("run_id", runID))
	return &emptypb.Empty{}, nil
}

// SetRunSummary publishes the final RunSummary for runID, making it
// available to subsequent GetRunSummary calls. Intended to be called
// by cmd/desrunner once runctl.Controller.Run returns.
func (s *Server) SetRunSummary(runID string, summary *structpb.Struct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary[runID] = summary
}

// GetRunSummary returns the RunSummary published for the run_id
// carried in in's "run_id" field (or the context's run_id). Returns a
// codes.NotFound status, via ToStatusError, if none has been
// published yet.
func (s *Server) GetRunSummary(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runID := runIDFromPayload(ctx, in)

	s.mu.Lock()
	summary, ok := s.summary[runID]
	s.mu.Unlock()
	if !ok {
		return nil, ToStatusError(ErrNotFound)
	}
	return summary, nil
}

func runIDFromPayload(ctx context.Context, in *structpb.Struct) string {
	if in != nil {
		if v, ok := in.GetFields()["run_id"]; ok {
			if s := v.GetStringValue(); s != "" {
				return s
			}
		}
	}
	return logging.RunIDFromContext(ctx)
}

// RegisterReportServiceServer registers srv against s, the way
// protoc-gen-go-grpc's generated RegisterXxxServer functions do.
func RegisterReportServiceServer(s grpc.ServiceRegistrar, srv ReportServiceServer) {
	s.RegisterService(&reportServiceDesc, srv)
}

func recordSnapHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).RecordSnap(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/desengine.reportsvc.v1.ReportService/RecordSnap"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReportServiceServer).RecordSnap(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getRunSummaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).GetRunSummary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/desengine.reportsvc.v1.ReportService/GetRunSummary"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReportServiceServer).GetRunSummary(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var reportServiceDesc = grpc.ServiceDesc{
	ServiceName: "desengine.reportsvc.v1.ReportService",
	HandlerType: (*ReportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordSnap", Handler: recordSnapHandler},
		{MethodName: "GetRunSummary", Handler: getRunSummaryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/reportsvc/service.go",
}
