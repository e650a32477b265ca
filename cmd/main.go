// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/blobgate"
	"github.com/absmach/blobgate/examples/simple"
	"github.com/absmach/blobgate/pkg/gateway"
	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/rest"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	httpWithoutTLS = "BLOBGATE_HTTP_"
	httpWithTLS    = "BLOBGATE_HTTPS_"
	httpWithmTLS   = "BLOBGATE_HTTP_MTLS_"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger := slog.New(logHandler)

	// Create handler
	h := simple.New(logger)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, using environment variables")
	}

	// Request ids are unique across listeners.
	ids := rest.NewSequence()

	for _, prefix := range []string{httpWithoutTLS, httpWithTLS, httpWithmTLS} {
		if err := startGateway(g, ctx, prefix, h, ids, logger); err != nil {
			logger.Warn("HTTP gateway not started",
				slog.String("prefix", prefix),
				slog.String("error", err.Error()))
		}
	}

	// Signal handler
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("blobgate service terminated with error: %s", err))
	} else {
		logger.Info("blobgate service stopped")
	}
}

func startGateway(g *errgroup.Group, ctx context.Context, envPrefix string, h handler.Handler, ids rest.IDGenerator, logger *slog.Logger) error {
	cfg, err := blobgate.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		return err
	}

	// Skip if port is not configured
	if cfg.Port == "" {
		return fmt.Errorf("port not configured")
	}

	gw := gateway.New(gateway.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxConnections:  cfg.MaxConnections,
		IDs:             ids,
		Logger:          logger,
	}, h)

	g.Go(func() error {
		return gw.Listen(ctx)
	})

	logger.Info("HTTP gateway started", slog.String("prefix", envPrefix))
	return nil
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
