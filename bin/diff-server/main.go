package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"visual-regression/internal/baseline"
	"visual-regression/internal/compare"
	"visual-regression/internal/config"
	diffimage "visual-regression/internal/diff/image"
	"visual-regression/internal/logging"
	"visual-regression/internal/myhttp"
	"visual-regression/internal/raster"
	"visual-regression/internal/retry"
	"visual-regression/internal/routes"
	"visual-regression/internal/storage"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	pyroscopepprof "github.com/grafana/pyroscope-go/http/pprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/net/netutil"
	"golang.org/x/xerrors"
)

type Server struct {
	address                string
	terminationGracePeriod time.Duration
	lameduck               time.Duration
	keepAlive              bool
	maxConnections         int
	maxPixels              int64

	storage   storage.Config
	tolerance diffimage.Tolerance
}

func NewServer() *Server {
	return &Server{
		address:                config.EnvOrDefault("ADDRESS", "0.0.0.0:8383"),
		terminationGracePeriod: config.EnvOrDefault("TERMINATION_GRACE_PERIOD", 10*time.Second),
		lameduck:               config.EnvOrDefault("LAMEDUCK", 1*time.Second),
		keepAlive:              config.EnvOrDefault("HTTP_KEEPALIVE", true),
		maxConnections:         config.EnvOrDefault("MAX_CONNECTIONS", 65532),
		maxPixels:              config.EnvOrDefault("MAX_PIXELS", raster.DefaultMaxPixels),
		storage: storage.Config{
			Backend:   config.EnvOrDefault("STORAGE_BACKEND", "file"),
			Directory: config.EnvOrDefault("DIRECTORY", "/tmp"),
			Bucket:    config.EnvOrDefault("S3_BUCKET", ""),
		},
		tolerance: diffimage.Tolerance{
			Threshold:     config.EnvOrDefault("THRESHOLD", diffimage.DefaultThreshold),
			MaxDiffPixels: config.EnvOrDefault("MAX_DIFF_PIXELS", 0),
		},
	}
}

var Debug = false

func (s *Server) Start(ctx context.Context) error {
	raster.SetMaxPixels(s.maxPixels)

	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "diff-server",
		ServerAddress:   os.Getenv("PYROSCOPE_ENDPOINT"),
		UploadRate:      60 * time.Second,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		},
	})
	if err != nil {
		return xerrors.Errorf("failed to create profiler: %w", err)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	r, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL),
	)
	if err != nil {
		return xerrors.Errorf("failed to create resource: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return xerrors.Errorf("failed to create trace exporter: %w", err)
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(r),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(traceProvider))

	exporter, err := otelprometheus.New()
	if err != nil {
		return xerrors.Errorf("failed to create exporter: %w", err)
	}

	logger, err := logging.New(os.Stderr, Debug)
	if err != nil {
		return xerrors.Errorf("failed to create logger: %w", err)
	}

	// NOTE: Gauge(UpDownCounter), Summary or Untyped does not support exemplars
	// https://github.com/prometheus/client_golang/blob/v1.20.4/prometheus/metric.go#L200
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)

	artifactStorage, err := storage.New(ctx, s.storage)
	if err != nil {
		return xerrors.Errorf("failed to create storage backend: %w", err)
	}
	baselines := baseline.NewManager(artifactStorage, logger)
	comparator, err := compare.NewComparator(baselines, artifactStorage, compare.Config{
		Tolerance:     s.tolerance,
		RetryStrategy: retry.NewExponentialBackOff(10*time.Millisecond, 1*time.Second, 3, nil),
		Logger:        logger,
	})
	if err != nil {
		return xerrors.Errorf("failed to create comparator: %w", err)
	}

	httpRequestsDurationMicroSeconds, err := meterProvider.Meter("diff-server").Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		return xerrors.Errorf("failed to create histogram: %w", err)
	}

	mux := myhttp.NewServerMux(logger, httpRequestsDurationMicroSeconds)

	mux.HandleFuncWithMiddleware("POST /compare", routes.Compare(comparator, s.tolerance))
	mux.HandleFuncWithMiddleware("GET /baselines/{key...}", routes.GetBaseline(baselines))
	mux.HandleFuncWithMiddleware("GET /artifacts/{key...}", routes.ListArtifacts(baselines, artifactStorage))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(http.StatusText(http.StatusOK)))
	})

	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),
	))

	if Debug {
		mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
		mux.HandleFunc("GET /debug/pprof/profile", pyroscopepprof.Profile)
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return xerrors.Errorf("failed to listen on address %s: %w", s.address, err)
	}

	server := &http.Server{
		Handler: mux,
	}
	server.SetKeepAlivesEnabled(s.keepAlive)

	go func() {
		if err := server.Serve(netutil.LimitListener(listener, s.maxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to serve HTTP", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM)
	<-quit
	time.Sleep(s.lameduck)

	ctx, cancel := context.WithTimeout(ctx, s.terminationGracePeriod)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown server: %w", err)
	}

	if err := traceProvider.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown trace provider: %w", err)
	}

	if err := meterProvider.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown meter provider: %w", err)
	}

	if err := profiler.Stop(); err != nil {
		return xerrors.Errorf("failed to shutdown profiler: %w", err)
	}

	return nil
}

func main() {
	if err := config.LoadEnvFile(""); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}
	Debug = config.EnvOrDefault("DEBUG", Debug)

	ctx := context.Background()

	server := NewServer()
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
