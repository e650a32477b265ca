// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/metrics"
	"github.com/absmach/blobgate/pkg/ratelimit"
	"github.com/absmach/blobgate/pkg/rest"
)

// RateLimitedHandler wraps a handler with per-client request rate limiting.
// Refused requests are answered with 429 and the connection is kept.
type RateLimitedHandler struct {
	handler          handler.Handler
	perClientLimiter *ratelimit.Limiter
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

var _ handler.Handler = (*RateLimitedHandler)(nil)

// Handle implements handler.Handler with rate limiting.
func (h *RateLimitedHandler) Handle(ctx context.Context, hctx *handler.Context, req *rest.Request, rc handler.ResponseChannel) {
	id := clientID(hctx, req)
	if !h.perClientLimiter.Allow(id) {
		h.metrics.RequestRateLimited("per_client")
		h.logger.Warn("Per-client rate limit exceeded",
			slog.String("client", id),
			slog.String("protocol", hctx.Protocol))
		_ = rc.Fail(ctx, errors.New(errors.KindRateLimited, "ratelimit", ratelimit.ErrRateLimitExceeded))
		return
	}

	h.handler.Handle(ctx, hctx, req, rc)
}

// clientID identifies the caller by certificate, service id or remote host,
// in that order.
func clientID(hctx *handler.Context, req *rest.Request) string {
	if hctx.Cert != nil && hctx.Cert.Subject.CommonName != "" {
		return "cn:" + hctx.Cert.Subject.CommonName
	}
	if id := req.Header.Get(rest.HeaderServiceID); id != "" {
		return "service:" + id
	}
	host, _, err := net.SplitHostPort(hctx.RemoteAddr)
	if err != nil {
		return hctx.RemoteAddr
	}
	return host
}

// InstrumentedHandler wraps a handler with metrics instrumentation.
type InstrumentedHandler struct {
	handler handler.Handler
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ handler.Handler = (*InstrumentedHandler)(nil)

// Handle implements handler.Handler with metrics.
func (h *InstrumentedHandler) Handle(ctx context.Context, hctx *handler.Context, req *rest.Request, rc handler.ResponseChannel) {
	h.handler.Handle(ctx, hctx, req, &timedChannel{
		ResponseChannel: rc,
		start:           time.Now(),
		method:          req.Method.String(),
		h:               h,
		session:         hctx.SessionID,
		request:         req.ID,
	})
}

// timedChannel records the first answer of an exchange.
type timedChannel struct {
	handler.ResponseChannel
	start   time.Time
	method  string
	h       *InstrumentedHandler
	session string
	request string
	done    atomic.Bool
}

func (c *timedChannel) observe(outcome string) {
	if !c.done.CompareAndSwap(false, true) {
		return
	}
	elapsed := time.Since(c.start)
	c.h.metrics.ObserveHandler(c.method, outcome, elapsed)
	c.h.logger.Debug("Request answered",
		slog.String("session", c.session),
		slog.String("request", c.request),
		slog.String("method", c.method),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed))
}

func (c *timedChannel) Send(ctx context.Context, resp *rest.Response) error {
	c.observe("sent")
	return c.ResponseChannel.Send(ctx, resp)
}

func (c *timedChannel) Fail(ctx context.Context, err error) error {
	c.observe("failed")
	return c.ResponseChannel.Fail(ctx, err)
}
