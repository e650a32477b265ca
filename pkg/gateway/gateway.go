// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/ingress"
	"github.com/absmach/blobgate/pkg/metrics"
	"github.com/absmach/blobgate/pkg/ratelimit"
	"github.com/absmach/blobgate/pkg/rest"
	"github.com/absmach/blobgate/pkg/server/tcp"
)

// Config holds configuration for an HTTP ingress listener.
type Config struct {
	Host            string
	Port            string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	MaxConnections  int

	// Workers bounds concurrently running handler calls. Zero means no bound.
	Workers int
	// Blocking marks handlers that block on request content. They are run
	// on the worker group instead of the connection read loop.
	Blocking bool

	SinkCapacity   int
	ChunkSize      int
	MaxHeaderBytes int
	IDs            rest.IDGenerator
	Limiter        *ratelimit.Limiter
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Gateway coordinates the TCP server, the HTTP/1.x ingress and the handler.
type Gateway struct {
	server *tcp.Server
	async  *handler.AsyncHandler
}

// New creates a gateway serving h.
func New(cfg Config, h handler.Handler) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &Gateway{}
	if cfg.Blocking {
		g.async = handler.Async(h, cfg.Workers,
			handler.WithLogger(cfg.Logger),
			handler.WithRejectHook(cfg.Metrics.HandlerRejected))
		h = g.async
	}

	ing := ingress.NewServer(ingress.Config{
		SinkCapacity:   cfg.SinkCapacity,
		ChunkSize:      cfg.ChunkSize,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		IDs:            cfg.IDs,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
	}, h)

	g.server = tcp.New(tcp.Config{
		Address:         net.JoinHostPort(cfg.Host, cfg.Port),
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxConnections:  cfg.MaxConnections,
		Limiter:         cfg.Limiter,
		Logger:          cfg.Logger,
		Metrics:         cfg.Metrics,
	}, ing)

	return g
}

// Listen starts the gateway and blocks until context is cancelled. It
// returns once in-flight handler calls have finished.
func (g *Gateway) Listen(ctx context.Context) error {
	return g.wait(g.server.Listen(ctx))
}

// Serve is Listen on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	return g.wait(g.server.Serve(ctx, ln))
}

func (g *Gateway) wait(err error) error {
	if g.async != nil {
		g.async.Wait()
	}
	return err
}
