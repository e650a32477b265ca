// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main provides a production-ready blobgate deployment with metrics,
// health checks, circuit breakers, rate limiting and a choice of blob store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/absmach/blobgate"
	"github.com/absmach/blobgate/pkg/blob"
	"github.com/absmach/blobgate/pkg/blob/store"
	"github.com/absmach/blobgate/pkg/breaker"
	"github.com/absmach/blobgate/pkg/gateway"
	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/health"
	"github.com/absmach/blobgate/pkg/metrics"
	"github.com/absmach/blobgate/pkg/ratelimit"
	"github.com/absmach/blobgate/pkg/rest"
	"github.com/caarlos0/env/v11"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const listenerPrefix = "BLOBGATE_HTTP_"

// Config holds the application configuration.
type Config struct {
	// Observability
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8081"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`
	GopsAddr    string `env:"GOPS_ADDR"    envDefault:""`

	// Resource Limits
	MaxGoroutines  int `env:"MAX_GOROUTINES"   envDefault:"50000"`
	Workers        int `env:"WORKERS"          envDefault:"1024"`
	SinkCapacity   int `env:"SINK_CAPACITY"    envDefault:"16"`
	ChunkSize      int `env:"CHUNK_SIZE"       envDefault:"32768"`
	MaxHeaderBytes int `env:"MAX_HEADER_BYTES" envDefault:"1048576"`

	// Circuit Breaker
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"60s"`
	BreakerTimeout      time.Duration `env:"BREAKER_TIMEOUT"       envDefault:"30s"`

	// Rate Limiting
	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND"  envDefault:"100"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST"       envDefault:"200"`
	ConnRatePerSecond  float64 `env:"CONN_RATE_PER_SECOND"   envDefault:"50"`
	ConnRateBurst      int     `env:"CONN_RATE_BURST"        envDefault:"100"`
	GlobalRatePerSec   float64 `env:"GLOBAL_RATE_PER_SECOND" envDefault:"10000"`
	GlobalRateBurst    int     `env:"GLOBAL_RATE_BURST"      envDefault:"20000"`

	// Blob storage
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	MaxBlobSize  int64  `env:"MAX_BLOB_SIZE" envDefault:"67108864"`
	BoltPath     string `env:"BOLT_PATH"     envDefault:"blobgate.db"`
	S3Profile    string `env:"S3_PROFILE"    envDefault:""`
	S3Region     string `env:"S3_REGION"     envDefault:"us-east-1"`
	S3Bucket     string `env:"S3_BUCKET"     envDefault:""`
	S3Endpoint   string `env:"S3_ENDPOINT"   envDefault:""`
}

func main() {
	// Load configuration
	cfg := Config{}
	_ = godotenv.Load()
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}
	lcfg, err := blobgate.NewConfig(env.Options{Prefix: listenerPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse listener config: %v\n", err)
		os.Exit(1)
	}
	if lcfg.Port == "" {
		lcfg.Port = "8080"
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting blobgate in production mode",
		slog.String("store", cfg.StoreBackend),
		slog.Int("max_connections", lcfg.MaxConnections),
		slog.Int("workers", cfg.Workers))

	if cfg.GopsAddr != "" {
		if err := agent.Listen(agent.Options{Addr: cfg.GopsAddr, ShutdownCleanup: true}); err != nil {
			logger.Error("Failed to start gops agent", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer agent.Close()
	}

	// Create metrics
	m := metrics.New("blobgate", prometheus.DefaultRegisterer)

	// Create blob store guarded by a circuit breaker
	backend, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to open blob store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	cb := breaker.New(breaker.Config{
		Name:             cfg.StoreBackend,
		MaxFailures:      cfg.BreakerMaxFailures,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: 2,
		Timeout:          cfg.BreakerTimeout,
		Metrics:          m,
	})
	cb.OnStateChange(func(from, to breaker.State) {
		logger.Warn("Circuit breaker state changed",
			slog.String("backend", cfg.StoreBackend),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})

	svc := blob.NewService(blob.Config{
		MaxSize: cfg.MaxBlobSize,
		Logger:  logger,
	}, store.Guard(backend, cfg.StoreBackend, cb, m))

	// Create health checker
	healthChecker := health.NewChecker(10 * time.Second)
	healthChecker.RegisterCritical("store", svc.Ping)
	healthChecker.Register("goroutines", func(ctx context.Context) error {
		m.GoroutinesActive.Set(float64(runtime.NumGoroutine()))
		return health.GoroutineCheck(cfg.MaxGoroutines)(ctx)
	})
	healthChecker.Register("memory", func(ctx context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.MemoryAllocated.WithLabelValues("heap").Set(float64(stats.HeapAlloc))
		m.MemoryAllocated.WithLabelValues("sys").Set(float64(stats.Sys))
		return nil
	})

	// Create rate limiters
	perClientLimiter := ratelimit.NewLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, 10000).
		WithGlobal(cfg.GlobalRatePerSec, cfg.GlobalRateBurst)
	defer perClientLimiter.Close()
	connLimiter := ratelimit.NewLimiter(cfg.ConnRatePerSecond, cfg.ConnRateBurst, 10000)
	defer connLimiter.Close()

	// Rate limiting runs on the read loop, the blob service on workers.
	async := handler.Async(svc, cfg.Workers,
		handler.WithLogger(logger),
		handler.WithRejectHook(m.HandlerRejected))
	defer async.Wait()

	instrumentedHandler := &InstrumentedHandler{
		handler: &RateLimitedHandler{
			handler:          async,
			perClientLimiter: perClientLimiter,
			metrics:          m,
			logger:           logger,
		},
		metrics: m,
		logger:  logger,
	}

	gw := gateway.New(gateway.Config{
		Host:            lcfg.Host,
		Port:            lcfg.Port,
		TLSConfig:       lcfg.TLSConfig,
		ShutdownTimeout: lcfg.ShutdownTimeout,
		MaxConnections:  lcfg.MaxConnections,
		SinkCapacity:    cfg.SinkCapacity,
		ChunkSize:       cfg.ChunkSize,
		MaxHeaderBytes:  cfg.MaxHeaderBytes,
		IDs:             rest.UUIDGenerator{},
		Limiter:         connLimiter,
		Logger:          logger,
		Metrics:         m,
	}, instrumentedHandler)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	metricsServer := gateway.NewAdmin("metrics", fmt.Sprintf(":%d", cfg.MetricsPort), promhttp.Handler(), logger)
	healthServer := gateway.NewAdmin("health", fmt.Sprintf(":%d", cfg.HealthPort), healthChecker.Mux(), logger)

	g.Go(func() error { return metricsServer.Listen(ctx) })
	g.Go(func() error { return healthServer.Listen(ctx) })
	g.Go(func() error {
		logger.Info("Starting HTTP gateway",
			slog.String("host", lcfg.Host),
			slog.String("port", lcfg.Port),
			slog.Bool("tls", lcfg.TLSConfig != nil))
		return gw.Listen(ctx)
	})

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Fail readiness first so load balancers stop sending traffic.
	healthChecker.Drain()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), lcfg.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Shutdown error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
		os.Exit(1)
	}
}

// openStore creates the configured blob store backend.
func openStore(cfg Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "bolt":
		s, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Error("Failed to close bolt store", slog.String("error", err.Error()))
			}
		}, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, nil, fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
		return store.NewS3(store.S3Config{
			Profile:  cfg.S3Profile,
			Region:   cfg.S3Region,
			Bucket:   cfg.S3Bucket,
			Endpoint: cfg.S3Endpoint,
			Logger:   logger,
		}), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
