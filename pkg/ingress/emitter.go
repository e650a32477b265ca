// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ingress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	perrors "github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/rest"
	"github.com/absmach/blobgate/pkg/wire"
)

var errNilResponse = errors.New("ingress: nil response")

// responder is the one-shot response channel of an exchange.
type responder struct {
	p  *Processor
	ex *exchange
}

var _ handler.ResponseChannel = (*responder)(nil)

// Send implements handler.ResponseChannel.
func (r *responder) Send(ctx context.Context, resp *rest.Response) error {
	if resp == nil {
		return r.Fail(ctx, errNilResponse)
	}
	return r.p.emit(r.ex, resp, false)
}

// Fail implements handler.ResponseChannel.
func (r *responder) Fail(ctx context.Context, err error) error {
	f := perrors.Map(err)
	if f.Close {
		r.p.logger.Warn("Request failed",
			slog.String("session", r.p.hctx.SessionID),
			slog.String("method", r.ex.method),
			slog.String("error", err.Error()))
	}
	resp := rest.ErrorResponse(f)
	if perrors.KindOf(err) == perrors.KindMethodNotAllowed {
		resp.Header.Set(rest.HeaderAllow, rest.Allowed)
	}
	return r.p.emit(r.ex, resp, f.Close)
}

func (p *Processor) suppressed(ex *exchange) error {
	p.cfg.Metrics.ResponseSuppressed()
	p.logger.Debug("Response suppressed, exchange already answered",
		slog.String("session", p.hctx.SessionID),
		slog.String("method", ex.method))
	return handler.ErrAlreadyResponded
}

// emit writes resp as the response of ex. The first response of an exchange
// wins. fatal forces the connection to close after the response.
func (p *Processor) emit(ex *exchange, resp *rest.Response, fatal bool) error {
	p.mu.Lock()
	if ex.claimed {
		p.mu.Unlock()
		return p.suppressed(ex)
	}
	ex.claimed = true
	keep := ex.keepAlive && !fatal && !ex.closeAfter &&
		resp.KeepAlive != rest.KeepAliveClose && p.state != Closing
	p.mu.Unlock()

	if p.isClosed() {
		return p.abandon(ex, resp)
	}

	p.writeMu.Lock()
	n, err := p.write(ex, resp, keep)
	p.writeMu.Unlock()

	p.mu.Lock()
	ex.emitted = true
	if err != nil || ex.closeAfter {
		keep = false
	}
	if !keep {
		p.state = Closing
	}
	if ex.contentDone {
		p.release(ex)
	}
	p.mu.Unlock()

	// The handler will not read any more content.
	if ex.sink != nil {
		ex.sink.Discard()
	}

	var in int64
	if ex.sink != nil {
		in = ex.sink.Size()
	}
	p.cfg.Metrics.ObserveRequest(ex.method, resp.Status, time.Since(ex.started))
	p.cfg.Metrics.ObserveContent(ex.method, in, n)

	if err != nil {
		p.logger.Debug("Failed to write response",
			slog.String("session", p.hctx.SessionID),
			slog.String("method", ex.method),
			slog.String("error", err.Error()))
	}
	if !keep {
		p.closeTransport()
	}
	return err
}

// write emits head, body and terminal event. A body fault after the head
// aborts the response without a terminal event. Must be called with writeMu
// held.
func (p *Processor) write(ex *exchange, resp *rest.Response, keep bool) (int64, error) {
	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	switch {
	case !keep:
		header.Set("Connection", "close")
	case ex.proto10:
		header.Set("Connection", "keep-alive")
	default:
		header.Del("Connection")
	}

	head := wire.ResponseHead{
		Proto:         "HTTP/1.1",
		Status:        resp.Status,
		Header:        header,
		ContentLength: resp.ContentLength(),
		NoBody:        ex.head,
	}
	if resp.Status == http.StatusNoContent || resp.Status == http.StatusNotModified {
		head.ContentLength = -1
		head.NoBody = true
	}
	if err := p.out.Write(head); err != nil {
		return 0, err
	}

	var n int64
	if resp.Body != nil && !head.NoBody {
		for {
			chunk, err := resp.Body.Next(p.ctx)
			if len(chunk) > 0 {
				if werr := p.out.Write(wire.Content{Data: chunk}); werr != nil {
					return n, werr
				}
				n += int64(len(chunk))
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				p.logger.Warn("Response body failed after head",
					slog.String("session", p.hctx.SessionID),
					slog.String("method", ex.method),
					slog.String("error", err.Error()))
				_ = p.out.Flush()
				return n, err
			}
		}
	}

	if err := p.out.Write(wire.LastContent{}); err != nil {
		return n, err
	}
	return n, p.out.Flush()
}

// abandon completes ex without a response once the transport is gone.
func (p *Processor) abandon(ex *exchange, resp *rest.Response) error {
	p.mu.Lock()
	ex.emitted = true
	if ex.contentDone {
		p.release(ex)
	}
	p.mu.Unlock()

	p.logger.Debug("Response dropped, transport closed",
		slog.String("session", p.hctx.SessionID),
		slog.String("method", ex.method),
		slog.Int("status", resp.Status))
	return perrors.ErrConnectionClosed
}
