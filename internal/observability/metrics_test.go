package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewReportCollector(reg)
	if err != nil {
		t.Fatalf("NewReportCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/desengine.reportsvc.v1.ReportService/RecordSnap"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("ReportService", "RecordSnap", "OK")); got != 1 {
		t.Fatalf("desengine_report_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "desengine_report_request_duration_seconds", map[string]string{
		"service": "ReportService",
		"method":  "RecordSnap",
	}); count != 1 {
		t.Fatalf("desengine_report_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewReportCollector(reg)
	if err != nil {
		t.Fatalf("NewReportCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/desengine.reportsvc.v1.ReportService/GetRunSummary"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("ReportService", "GetRunSummary", "NotFound")); got != 1 {
		t.Fatalf("desengine_report_requests_total error label = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesRPCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewReportCollector(reg)
	if err != nil {
		t.Fatalf("NewReportCollector: %v", err)
	}
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"desengine_report_requests_total",
		"desengine_report_request_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethodParsesFullyQualifiedName(t *testing.T) {
	service, method := SplitMethod("/desengine.reportsvc.v1.ReportService/RecordSnap")
	if service != "ReportService" || method != "RecordSnap" {
		t.Fatalf("SplitMethod = (%q, %q), want (ReportService, RecordSnap)", service, method)
	}
}

func TestSplitMethodHandlesEmptyInput(t *testing.T) {
	service, method := SplitMethod("")
	if service != "unknown" || method != "unknown" {
		t.Fatalf("SplitMethod(\"\") = (%q, %q), want (unknown, unknown)", service, method)
	}
}

func TestEngineCollectorRecordsDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	collector.ObserveDispatch(5 * time.Millisecond)
	collector.SetFutureEventSetSize(7)
	collector.IncEventsDispatched()
	collector.IncEventsDispatched()
	collector.IncEventsCancelled()
	collector.IncSnapsRecorded()

	if got := testutil.ToFloat64(collector.EventsDispatched); got != 2 {
		t.Fatalf("EventsDispatched = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.EventsCancelled); got != 1 {
		t.Fatalf("EventsCancelled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.SnapsRecorded); got != 1 {
		t.Fatalf("SnapsRecorded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.FutureEventSetSize); got != 7 {
		t.Fatalf("FutureEventSetSize = %v, want 7", got)
	}
}

func TestEngineCollectorNilReceiverIsHarmless(t *testing.T) {
	var c *EngineCollector
	c.ObserveDispatch(time.Millisecond)
	c.SetFutureEventSetSize(1)
	c.IncEventsDispatched()
	c.IncEventsCancelled()
	c.IncSnapsRecorded()
	if c.Gatherer() != nil {
		t.Fatalf("expected nil gatherer on nil receiver")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
