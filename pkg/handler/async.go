// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	perrors "github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/rest"
	"golang.org/x/sync/errgroup"
)

// ErrBusy is reported when every worker of an AsyncHandler is taken.
var ErrBusy = errors.New("handler: worker pool exhausted")

// AsyncHandler runs a blocking Handler on a bounded group of goroutines.
type AsyncHandler struct {
	next     Handler
	group    errgroup.Group
	logger   *slog.Logger
	rejected func()
}

var _ Handler = (*AsyncHandler)(nil)

// AsyncOption configures an AsyncHandler.
type AsyncOption func(*AsyncHandler)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(logger *slog.Logger) AsyncOption {
	return func(a *AsyncHandler) {
		a.logger = logger
	}
}

// WithRejectHook sets a function called whenever a request is rejected
// because the pool is full.
func WithRejectHook(fn func()) AsyncOption {
	return func(a *AsyncHandler) {
		a.rejected = fn
	}
}

// Async wraps next so that each request runs on its own goroutine. At most
// limit requests run at once; limit <= 0 means no limit. Requests arriving
// while the pool is full are answered 503.
func Async(next Handler, limit int, opts ...AsyncOption) *AsyncHandler {
	a := &AsyncHandler{
		next:   next,
		logger: slog.Default(),
	}
	if limit <= 0 {
		limit = -1
	}
	a.group.SetLimit(limit)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle implements Handler. It never blocks.
func (a *AsyncHandler) Handle(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel) {
	started := a.group.TryGo(func() error {
		a.run(ctx, hctx, req, rc)
		return nil
	})
	if started {
		return
	}
	if a.rejected != nil {
		a.rejected()
	}
	_ = rc.Fail(ctx, perrors.New(perrors.KindUnavailable, "handler.Async", ErrBusy))
}

func (a *AsyncHandler) run(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Handler panicked",
				slog.String("session", hctx.SessionID),
				slog.String("request", req.ID),
				slog.Any("panic", r))
			_ = rc.Fail(ctx, fmt.Errorf("handler panic: %v", r))
		}
	}()
	a.next.Handle(ctx, hctx, req, rc)
}

// Wait blocks until every running request has returned.
func (a *AsyncHandler) Wait() {
	_ = a.group.Wait()
}
