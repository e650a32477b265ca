// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net/http"

	"github.com/absmach/blobgate/pkg/rest"
)

// ErrAlreadyResponded is returned by a ResponseChannel once the exchange has
// been answered.
var ErrAlreadyResponded = errors.New("handler: response already sent")

// Context contains connection metadata.
// It is passed to Handler methods along with every request of the connection.
type Context struct {
	// SessionID is a unique identifier for this connection
	SessionID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// Protocol indicates the transport flavour (http, https)
	Protocol string

	// Cert is the client's TLS certificate (if using mTLS)
	Cert *x509.Certificate
}

// ResponseChannel is the one-shot completion of an exchange. The first call
// to Send or Fail wins; later calls return ErrAlreadyResponded and have no
// effect on the wire.
type ResponseChannel interface {
	// Send emits resp. It returns once the response is flushed or the
	// transport failed.
	Send(ctx context.Context, resp *rest.Response) error

	// Fail answers with the status that the failure mapper assigns to err,
	// or tears the connection down for connection-level faults.
	Fail(ctx context.Context, err error) error
}

// Handler processes assembled requests.
//
// Handle is called on the connection's read loop as soon as a request is
// assembled, before its body has arrived. It must not block: the body is
// delivered through req.Content() only while the read loop keeps running.
// Blocking implementations are wrapped with Async.
//
// Every call must eventually lead to exactly one rc.Send or rc.Fail.
type Handler interface {
	Handle(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel)

var _ Handler = HandlerFunc(nil)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel) {
	f(ctx, hctx, req, rc)
}

// NoopHandler is a Handler that accepts every request.
// It drains the request content and answers 200 with an empty body. It
// blocks while draining, so it must be wrapped with Async.
// Useful for testing.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

// Handle implements Handler.
func (h *NoopHandler) Handle(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel) {
	if err := Drain(ctx, req); err != nil {
		_ = rc.Fail(ctx, err)
		return
	}
	_ = rc.Send(ctx, rest.NewResponse(http.StatusOK))
}

// Drain consumes the remaining content of req.
func Drain(ctx context.Context, req *rest.Request) error {
	sink := req.Content()
	for {
		_, err := sink.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}
