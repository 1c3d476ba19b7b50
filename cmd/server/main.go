// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/lama-service/internal/assets"
	"github.com/SyedDaiam9101/lama-service/internal/cache"
	"github.com/SyedDaiam9101/lama-service/internal/codec"
	"github.com/SyedDaiam9101/lama-service/internal/config"
	"github.com/SyedDaiam9101/lama-service/internal/handler"
	"github.com/SyedDaiam9101/lama-service/internal/inference"
	"github.com/SyedDaiam9101/lama-service/internal/lama"
	"github.com/SyedDaiam9101/lama-service/internal/logging"
	"github.com/SyedDaiam9101/lama-service/internal/metrics"
	"github.com/SyedDaiam9101/lama-service/internal/middleware"
)

const serviceName = "lama-service"

func main() {
	// Parse command-line flags
	port := flag.Int("port", 0, "gRPC server port (default: 50051)")
	modelPath := flag.String("model", "", "Path to ONNX model file (default: lama_fp32.onnx)")
	ortLibrary := flag.String("ort-library", "", "Path to the onnxruntime shared library")
	redisAddr := flag.String("redis", "", "Redis address for the result cache (default: disabled)")
	metricsPort := flag.Int("metrics", 0, "Prometheus metrics port (default: 9100)")
	configFile := flag.String("config", "", "Path to config file (optional)")
	useMock := flag.Bool("mock", false, "Use mock inference engine (for testing)")
	flag.Parse()

	// Load configuration from file and environment, then apply flags
	_, v, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Override(v, map[string]interface{}{
		"port":               *port,
		"model":              *modelPath,
		"ort_library":        *ortLibrary,
		"redis":              *redisAddr,
		"metrics_port":       *metricsPort,
		"use_mock_inference": *useMock,
	})
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.LogMode); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()
	log := logging.L()

	log.Info("starting "+serviceName,
		zap.Int("port", cfg.Port),
		zap.String("model", cfg.Model),
		zap.String("redis", cfg.Redis),
		zap.Int("metrics_port", cfg.MetricsPort),
		zap.Bool("otel", cfg.OTELEnabled))

	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tracerShutdown, err = initTracer(cfg.OTELEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracer", zap.Error(err))
		} else {
			log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	// Load the inference session
	var (
		model     assets.ModelSource
		newEngine inference.Factory
	)
	if cfg.UseMockInference {
		log.Info("using mock inference engine")
		model = assets.Bytes("mock")
		newEngine = inference.NewPassthroughMock(lama.ImageInput).Factory()
	} else {
		log.Info("loading ONNX model", zap.String("model", cfg.Model))
		model = assets.File(cfg.Model)
		newEngine = engineOptions(cfg).Factory()
	}

	session, err := lama.New(context.Background(), model, newEngine)
	if err != nil {
		log.Fatal("failed to initialize inference session", zap.Error(err))
	}
	defer session.Close()
	if !cfg.UseMockInference {
		defer inference.Shutdown()
	}
	log.Info("inference session ready")

	// Initialize Redis cache (optional)
	var cacheClient *cache.Cache
	if cfg.Redis != "" {
		log.Info("connecting to Redis", zap.String("addr", cfg.Redis))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		cacheClient, err = cache.New(ctx, cfg.Redis, cfg.CacheTTL)
		cancel()
		if err != nil {
			log.Warn("redis connection failed, continuing without cache", zap.Error(err))
			cacheClient = nil
		} else {
			defer cacheClient.Close()
			log.Info("redis connected successfully")
		}
	}

	// Create gRPC health server
	healthServer := health.NewServer()

	// Start HTTP server for metrics and health checks
	httpServer := startHTTPServer(cfg.MetricsPort, healthServer)

	// Build interceptor chain
	interceptors := []grpc.UnaryServerInterceptor{
		middleware.UnaryRequestIDInterceptor(),
		middleware.UnaryMetricsInterceptor(),
	}

	// Add OpenTelemetry interceptor if enabled
	if cfg.OTELEnabled {
		interceptors = append(interceptors, otelgrpc.UnaryServerInterceptor())
	}

	// Decoded photos can be large
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.MaxRecvMsgSize(64<<20),
		grpc.MaxSendMsgSize(64<<20),
	)

	// Register Inpainter service
	var resultCache handler.ResultCache
	if cacheClient != nil {
		resultCache = cacheClient
	}
	handler.RegisterInpainterServer(grpcServer, handler.New(session, resultCache))

	// Register health service
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable server reflection for debugging
	reflection.Register(grpcServer)

	addr := fmt.Sprintf(":%d", cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", addr), zap.Error(err))
	}

	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING) // Overall health
	metrics.SetHealthy()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownDone := onSignal(sigChan, func(sig os.Signal) {
		log.Info("shutting down gracefully", zap.String("signal", sig.String()))

		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()

		// Give time for load balancers to detect unhealthy status
		time.Sleep(5 * time.Second)

		grpcServer.GracefulStop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown failed", zap.Error(err))
		}

		if tracerShutdown != nil {
			if err := tracerShutdown(ctx); err != nil {
				log.Warn("tracer shutdown failed", zap.Error(err))
			}
		}
	})

	log.Info("gRPC server listening", zap.String("addr", addr))

	if err := grpcServer.Serve(lis); err != nil {
		log.Fatal("failed to serve", zap.Error(err))
	}

	<-shutdownDone
	log.Info("server shutdown complete")
}

// onSignal runs shutdown once the first signal arrives. The returned channel is
// closed after shutdown returns.
func onSignal(sigChan <-chan os.Signal, shutdown func(os.Signal)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		shutdown(<-sigChan)
	}()
	return done
}

func engineOptions(cfg *config.Config) inference.Options {
	return inference.Options{
		SharedLibrary:  cfg.ORTLibrary,
		InputNames:     []string{lama.ImageInput, lama.MaskInput},
		OutputNames:    []string{cfg.OutputName},
		OutputShapes:   [][]int64{codec.OutputShape},
		InterOpThreads: cfg.InterOpThreads,
		IntraOpThreads: cfg.IntraOpThreads,
	}
}

func startHTTPServer(port int, healthServer *health.Server) *http.Server {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", healthCheck(healthServer, "OK", "Service Unavailable"))
	mux.HandleFunc("/readyz", healthCheck(healthServer, "Ready", "Not Ready"))

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logging.L().Info("HTTP server listening (metrics, health)", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("HTTP server error", zap.Error(err))
		}
	}()

	return server
}

func healthCheck(healthServer *health.Server, ok, unavailable string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{})
		if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(unavailable))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(ok))
	}
}

func initTracer(endpoint string) (func(context.Context) error, error) {
	// OTLP export needs a collector; stdout keeps spans visible without one
	if endpoint != "" {
		logging.L().Info("using stdout trace exporter", zap.String("otlp_endpoint", endpoint))
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
