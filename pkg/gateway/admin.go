// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// AdminServer serves an operator surface such as metrics or health probes
// over net/http.
type AdminServer struct {
	name            string
	server          *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewAdmin creates an operator HTTP server named name on addr.
func NewAdmin(name, addr string, h http.Handler, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminServer{
		name: name,
		server: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: 5 * time.Second,
		logger:          logger,
	}
}

// Listen starts the server and blocks until context is cancelled.
func (a *AdminServer) Listen(ctx context.Context) error {
	a.logger.Info("admin server started",
		slog.String("name", a.name),
		slog.String("address", a.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error during shutdown",
				slog.String("name", a.name),
				slog.String("error", err.Error()))
			return err
		}
		a.logger.Info("admin server shutdown complete", slog.String("name", a.name))
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
