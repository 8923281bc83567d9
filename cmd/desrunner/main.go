// Command desrunner is the engine's reference host: it loads a
// Configuration, wires logging/tracing/metrics the way the teacher's
// cmd/nbi-server does, runs the demo single-server queue model
// (model.QueueModel/model.QueueHooks) to completion, and serves the
// resulting per-run statistics over the reportsvc gRPC surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/desengine/clock"
	"github.com/signalsfoundry/desengine/config"
	"github.com/signalsfoundry/desengine/errs"
	"github.com/signalsfoundry/desengine/internal/logging"
	"github.com/signalsfoundry/desengine/internal/observability"
	"github.com/signalsfoundry/desengine/internal/reportsvc"
	"github.com/signalsfoundry/desengine/model"
	"github.com/signalsfoundry/desengine/runctl"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Exit codes, documented at spec.md §6: 0 clean completion, 2 a
// Configuration failed Validate, 3 the run aborted on a scheduling
// error (back-in-time or negative-delay), 4 a dispatched action
// returned an error.
const (
	exitOK             = 0
	exitConfigInvalid  = 2
	exitSchedulerError = 3
	exitActionFailed   = 4
)

type cliConfig struct {
	ConfigPath  string
	ListenAddr  string
	MetricsAddr string
	LogLevel    string
	LogFormat   string
	MeanInter   clock.Duration
	MeanService clock.Duration
}

func main() {
	cli := loadCLIConfig()
	log := logging.New(logging.Config{Level: cli.LogLevel, Format: cli.LogFormat, AddSource: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cli, log))
}

func loadCLIConfig() cliConfig {
	configPath := flag.String("config", envOrDefault("DES_CONFIG_PATH", ""), "path to a JSON run configuration (see config.Config)")
	listenAddr := flag.String("listen-address", envOrDefault("DES_LISTEN_ADDRESS", "0.0.0.0:50061"), "TCP address the reportsvc gRPC server listens on")
	metricsAddr := flag.String("metrics-address", envOrDefault("DES_METRICS_ADDRESS", ":9091"), "HTTP address for Prometheus /metrics (empty to disable)")
	logLevel := flag.String("log-level", envOrDefault("DES_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", envOrDefault("DES_LOG_FORMAT", "text"), "Log format: text or json")
	meanInter := flag.Float64("mean-interarrival", 2.0, "demo queue model: mean inter-arrival time")
	meanSvc := flag.Float64("mean-service", 1.5, "demo queue model: mean service time")

	flag.Parse()

	return cliConfig{
		ConfigPath:  *configPath,
		ListenAddr:  *listenAddr,
		MetricsAddr: *metricsAddr,
		LogLevel:    *logLevel,
		LogFormat:   *logFormat,
		MeanInter:   clock.Duration(*meanInter),
		MeanService: clock.Duration(*meanSvc),
	}
}

func run(ctx context.Context, cli cliConfig, log logging.Logger) int {
	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		log.Error(ctx, "invalid configuration", logging.String("error", err.Error()))
		return exitConfigInvalid
	}

	traceShutdown := func(context.Context) error { return nil }
	if shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log); err != nil {
		log.Warn(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
	} else {
		traceShutdown = shutdown
	}
	defer observability.ShutdownWithTimeout(context.Background(), traceShutdown, log)

	engineMetrics, err := observability.NewEngineCollector(nil)
	if err != nil {
		log.Error(ctx, "init engine metrics", logging.String("error", err.Error()))
		return exitConfigInvalid
	}
	reportMetrics, err := observability.NewReportCollector(nil)
	if err != nil {
		log.Error(ctx, "init report metrics", logging.String("error", err.Error()))
		return exitConfigInvalid
	}

	var metricsSrv *http.Server
	if cli.MetricsAddr != "" {
		metricsSrv = serveMetrics(cli.MetricsAddr, reportMetrics, log)
	}

	reportSrv := reportsvc.NewServer(log)
	grpcSrv, err := buildGRPCServer(log, reportMetrics, reportSrv)
	if err != nil {
		log.Error(ctx, "build gRPC server", logging.String("error", err.Error()))
		return exitConfigInvalid
	}

	lis, err := net.Listen("tcp", cli.ListenAddr)
	if err != nil {
		log.Error(ctx, "listen", logging.String("addr", cli.ListenAddr), logging.String("error", err.Error()))
		return exitConfigInvalid
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "serving reportsvc gRPC", logging.String("addr", lis.Addr().String()))
		serveErr <- grpcSrv.Serve(lis)
	}()
	defer func() {
		grpcSrv.GracefulStop()
		<-serveErr
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	runCtx, runID := logging.EnsureRunID(ctx)
	runLog := log.With(logging.String("run_id", runID))

	hooks := model.QueueHooks{
		Record: func(r model.SnapReport) {
			runLog.Info(runCtx, "snap recorded",
				logging.Int("snap_index", r.SnapIndex),
				logging.Any("end_time", r.EndTime),
				logging.Any("mean_queue_length", r.MeanQueueLength),
				logging.Int("arrivals", r.Arrivals),
				logging.Int("departures", r.Departures),
			)
			reportSrv.RecordSnap(runCtx, snapReportToStruct(runID, r))
		},
	}

	ctrl, err := runctl.New(*cfg, hooks, runctl.WithLogger[*model.QueueState](runLog), runctl.WithMetrics[*model.QueueState](engineMetrics))
	if err != nil {
		runLog.Error(runCtx, "construct run controller", logging.String("error", err.Error()))
		return exitConfigInvalid
	}

	state := model.NewQueueState(ctrl.Streams(), cli.MeanInter, cli.MeanService)

	summary, runErr := ctrl.Run(runCtx, model.QueueModel{}, state)
	runLog.Info(runCtx, "run complete",
		logging.Any("final_time", summary.FinalTime),
		logging.Int("events_dispatched", summary.EventsDispatched),
		logging.Int("events_cancelled", summary.EventsCancelled),
		logging.Int("snaps_recorded", summary.SnapsRecorded),
		logging.String("termination_reason", summary.TerminationReason.String()),
	)
	reportSrv.SetRunSummary(runID, runSummaryToStruct(summary))

	if reasonErr := summary.TerminationReason.Err(); reasonErr != nil {
		runLog.Info(runCtx, "run ended on a non-fatal condition",
			logging.String("status", reportsvc.ToStatusError(reasonErr).Error()),
		)
	}

	if errors.Is(runErr, errs.BackInTime) || errors.Is(runErr, errs.NegativeDelay) {
		runLog.Error(runCtx, "run aborted on a scheduling error", logging.String("error", runErr.Error()))
		return exitSchedulerError
	}

	switch summary.TerminationReason {
	case runctl.TerminationActionFailed:
		runLog.Error(runCtx, "run aborted", logging.String("error", runErr.Error()))
		return exitActionFailed
	}
	if runErr != nil {
		runLog.Error(runCtx, "run failed", logging.String("error", runErr.Error()))
		return exitSchedulerError
	}
	return exitOK
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{
			WarmUpDuration: 50,
			SnapDuration:   100,
			SnapCount:      5,
			MasterSeed:     1,
			RunModel:       true,
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()
	return config.Load(f)
}

func buildGRPCServer(log logging.Logger, metrics *observability.ReportCollector, srv *reportsvc.Server) (*grpc.Server, error) {
	interceptors := []grpc.UnaryServerInterceptor{
		reportsvc.RunIDUnaryServerInterceptor(log),
		otelgrpc.UnaryServerInterceptor(
			otelgrpc.WithTracerProvider(otel.GetTracerProvider()),
			otelgrpc.WithPropagators(otel.GetTextMapPropagator()),
		),
		reportsvc.TracingUnaryServerInterceptor(),
	}
	if metrics != nil {
		interceptors = append(interceptors, metrics.UnaryServerInterceptor())
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	reportsvc.RegisterReportServiceServer(server, srv)
	return server, nil
}

func serveMetrics(addr string, collector *observability.ReportCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func snapReportToStruct(runID string, r model.SnapReport) *structpb.Struct {
	s, _ := structpb.NewStruct(map[string]any{
		"run_id":            runID,
		"snap_index":        float64(r.SnapIndex),
		"end_time":          float64(r.EndTime),
		"mean_queue_length": r.MeanQueueLength,
		"arrivals":          float64(r.Arrivals),
		"departures":        float64(r.Departures),
	})
	return s
}

func runSummaryToStruct(summary runctl.RunSummary) *structpb.Struct {
	fields := map[string]any{
		"final_time":         float64(summary.FinalTime),
		"events_dispatched":  float64(summary.EventsDispatched),
		"events_cancelled":   float64(summary.EventsCancelled),
		"snaps_recorded":     float64(summary.SnapsRecorded),
		"termination_reason": summary.TerminationReason.String(),
	}
	if summary.ActionErr != nil {
		fields["action_error"] = summary.ActionErr.Error()
	}
	s, _ := structpb.NewStruct(fields)
	return s
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

