// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ingress

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/absmach/blobgate/pkg/content"
	perrors "github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/metrics"
	"github.com/absmach/blobgate/pkg/rest"
	"github.com/absmach/blobgate/pkg/wire"
)

// Config holds the ingress configuration.
type Config struct {
	// SinkCapacity is the number of body chunks buffered per request before
	// the connection stops reading.
	SinkCapacity int

	// ChunkSize bounds the size of decoded body chunks.
	ChunkSize int

	// MaxHeaderBytes bounds a request line with its header block.
	MaxHeaderBytes int

	// IDs generates request identifiers. It should be shared by every
	// connection of a service instance.
	IDs rest.IDGenerator

	// Logger for ingress events
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.SinkCapacity <= 0 {
		c.SinkCapacity = content.DefaultCapacity
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = wire.DefaultChunkSize
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = wire.DefaultMaxHeaderBytes
	}
	if c.IDs == nil {
		c.IDs = rest.NewSequence()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// exchange is one request/response pair on a connection.
type exchange struct {
	req       *rest.Request // nil when assembly failed
	sink      *content.Sink // nil when assembly failed
	method    string
	proto10   bool
	head      bool
	keepAlive bool
	started   time.Time

	// expectBody is false for requests whose content must be empty.
	expectBody  bool
	contentDone bool
	discard     bool
	claimed     bool
	emitted     bool
	closeAfter  bool

	released chan struct{}
}

// Processor runs the HTTP/1.x ingress state machine of one connection.
//
// Process must be called from a single goroutine, the connection's read
// loop. Responses may be emitted from any goroutine through the
// handler.ResponseChannel given to the handler.
type Processor struct {
	cfg     Config
	logger  *slog.Logger
	asm     *rest.Assembler
	handler handler.Handler
	out     wire.Writer
	hctx    *handler.Context

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	ex        *exchange
	exchanges int
	keepAlive bool

	// writeMu serializes responses on out.
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewProcessor creates the processor of one connection. The processor's
// context, handed to the handler, is canceled when the transport closes.
func NewProcessor(ctx context.Context, cfg Config, h handler.Handler, out wire.Writer, hctx *handler.Context) *Processor {
	cfg.setDefaults()
	if hctx == nil {
		hctx = &handler.Context{}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Processor{
		cfg:       cfg,
		logger:    cfg.Logger,
		asm:       rest.NewAssembler(cfg.IDs, cfg.SinkCapacity),
		handler:   h,
		out:       out,
		hctx:      hctx,
		ctx:       ctx,
		cancel:    cancel,
		keepAlive: true,
		closed:    make(chan struct{}),
	}
}

// State returns the current protocol state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Closed is closed once the transport has been closed.
func (p *Processor) Closed() <-chan struct{} {
	return p.closed
}

// Process handles one inbound event. It blocks while the open request's
// content sink is full.
func (p *Processor) Process(ev wire.Inbound) error {
	switch ev := ev.(type) {
	case wire.StartLine:
		return p.startLine(ev)
	case wire.Content:
		return p.relay(ev.Data, false)
	case wire.LastContent:
		return p.relay(ev.Data, true)
	case wire.Unrecognized:
		p.unrecognized(ev)
		return nil
	case wire.Closed:
		p.transportClosed(ev.Err)
		return nil
	default:
		return perrors.ErrProtocolViolation
	}
}

// Serve reads events from src until the connection closes. A new start line
// is not read before the previous exchange has been released.
func (p *Processor) Serve(src wire.Source) error {
	defer p.cancel()
	for {
		ev := src.Next()
		// Reads fail once the transport was closed on this side.
		closedLocally := p.isClosed()
		if err := p.Process(ev); err != nil {
			p.closeTransport()
			return err
		}

		if c, ok := ev.(wire.Closed); ok {
			select {
			case <-p.closed:
			case <-p.ctx.Done():
				p.closeTransport()
			}
			if c.Err == nil || closedLocally || errors.Is(c.Err, net.ErrClosed) {
				return nil
			}
			return c.Err
		}

		if wait := p.pending(); wait != nil {
			select {
			case <-wait:
			case <-p.closed:
			case <-p.ctx.Done():
				p.closeTransport()
			}
		}
	}
}

func (p *Processor) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *Processor) pending() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ex != nil && p.ex.contentDone {
		return p.ex.released
	}
	return nil
}

func (p *Processor) startLine(sl wire.StartLine) error {
	p.mu.Lock()
	if p.state == Closing {
		p.mu.Unlock()
		return nil
	}
	if open := p.ex; open != nil {
		open.closeAfter = true
		claimed, emitted := open.claimed, open.emitted
		p.mu.Unlock()

		p.violation(reasonSecondStartLine, "start line received while a request is open")
		if open.sink != nil && !open.contentDone {
			open.sink.Fail(perrors.ErrProtocolViolation)
		}
		switch {
		case !claimed:
			_ = p.emit(open, rest.ErrorResponse(perrors.Map(perrors.ErrProtocolViolation)), true)
		case emitted:
			p.closeTransport()
		}
		return nil
	}

	method := rest.ParseMethod(sl.Method)
	ex := &exchange{
		method:    method.String(),
		proto10:   sl.Proto == "HTTP/1.0",
		head:      method == rest.MethodHead,
		keepAlive: rest.KeepAlive(sl.Proto, sl.Header),
		started:   time.Now(),
		released:  make(chan struct{}),
	}
	req, err := p.asm.Assemble(sl)
	if err == nil {
		ex.req = req
		ex.sink = req.Content()
		ex.expectBody = req.ExpectsContent()
	}

	var reject error
	switch {
	case err != nil:
		reject = err
		p.violation(reasonBadRequest, err.Error())
	case method == rest.MethodUnsupported:
		reject = perrors.New(perrors.KindMethodNotAllowed, "ingress.Assemble", perrors.ErrMethodNotAllowed)
		p.violation(reasonUnsupportedMethod, sl.Method)
	case method.Bodiless() && declaresBody(sl):
		reject = perrors.BadRequest("%s request with content", sl.Method)
		p.violation(reasonUnexpectedContent, sl.Method)
	}

	p.ex = ex
	p.keepAlive = ex.keepAlive
	p.state = ExpectingContent
	if reject != nil {
		ex.discard = true
		if ex.sink != nil {
			ex.sink.Discard()
			ex.sink.End()
		}
	} else if !ex.expectBody {
		ex.sink.End()
	}
	if sl.Complete {
		if !ex.discard && ex.expectBody && len(sl.Content) > 0 {
			// A fresh sink always has room for one chunk.
			if err := ex.sink.Push(p.ctx, sl.Content); err != nil {
				p.mu.Unlock()
				return err
			}
		}
		if ex.sink != nil {
			ex.sink.End()
		}
		ex.contentDone = true
		p.state = Idle
	}
	p.mu.Unlock()

	if reject != nil {
		resp := rest.ErrorResponse(perrors.Map(reject))
		if perrors.KindOf(reject) == perrors.KindMethodNotAllowed {
			resp.Header.Set(rest.HeaderAllow, rest.Allowed)
		}
		_ = p.emit(ex, resp, false)
		return nil
	}

	p.dispatch(ex)
	return nil
}

// declaresBody reports whether a start line announces non-empty content.
func declaresBody(sl wire.StartLine) bool {
	if sl.Complete {
		return len(sl.Content) > 0
	}
	if sl.Header.Get("Transfer-Encoding") != "" {
		return true
	}
	n, err := strconv.ParseInt(strings.TrimSpace(sl.Header.Get("Content-Length")), 10, 64)
	return err == nil && n > 0
}

func (p *Processor) dispatch(ex *exchange) {
	rc := &responder{p: p, ex: ex}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Handler panicked",
				slog.String("session", p.hctx.SessionID),
				slog.String("request", ex.req.ID),
				slog.Any("panic", r))
			_ = p.emit(ex, rest.ErrorResponse(perrors.Map(errors.New("handler panic"))), true)
		}
	}()
	p.handler.Handle(p.ctx, p.hctx, ex.req, rc)
}

func (p *Processor) unrecognized(ev wire.Unrecognized) {
	p.mu.Lock()
	if p.state == Closing {
		p.mu.Unlock()
		return
	}
	p.violation(reasonUnrecognized, ev.Reason)

	if open := p.ex; open != nil {
		open.closeAfter = true
		claimed, emitted := open.claimed, open.emitted
		p.mu.Unlock()
		if open.sink != nil && !open.contentDone {
			open.sink.Fail(perrors.ErrProtocolViolation)
		}
		switch {
		case !claimed:
			_ = p.emit(open, rest.ErrorResponse(perrors.Map(perrors.ErrProtocolViolation)), true)
		case emitted:
			p.closeTransport()
		}
		return
	}

	// Without a valid prior exchange there is nothing to keep alive.
	keep := p.keepAlive && p.exchanges > 0
	p.mu.Unlock()
	p.standalone(http.StatusBadRequest, keep)
}

// standalone answers an event that does not belong to any request.
func (p *Processor) standalone(status int, keep bool) {
	ex := &exchange{
		method:      "NONE",
		keepAlive:   keep,
		contentDone: true,
		started:     time.Now(),
		released:    make(chan struct{}),
	}
	_ = p.emit(ex, rest.ErrorResponse(perrors.Failure{Status: status}), false)
}

func (p *Processor) transportClosed(err error) {
	p.mu.Lock()
	ex := p.ex
	p.state = Closing
	waitResponse := err == nil && ex != nil && ex.contentDone && !ex.emitted
	if waitResponse {
		ex.closeAfter = true
	}
	p.mu.Unlock()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		p.logger.Debug("Connection read failed",
			slog.String("session", p.hctx.SessionID),
			slog.String("error", err.Error()))
	}
	if ex != nil && !ex.contentDone && ex.sink != nil {
		ex.sink.Fail(perrors.ErrConnectionClosed)
	}
	// A peer that only shut down its write side still gets its response.
	if !waitResponse {
		p.closeTransport()
	}
}

// release completes the open exchange. Must be called with mu held.
func (p *Processor) release(ex *exchange) {
	if p.ex != ex {
		return
	}
	p.ex = nil
	p.exchanges++
	if p.state != Closing {
		p.state = Idle
	}
	close(ex.released)
}

func (p *Processor) closeTransport() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = Closing
		ex := p.ex
		p.mu.Unlock()
		// Only the read loop may terminate a sink. Discarding unblocks it,
		// and canceling the context unblocks the handler.
		if ex != nil && ex.sink != nil {
			ex.sink.Discard()
		}

		close(p.closed)
		p.cancel()
		if err := p.out.Close(); err != nil {
			p.logger.Debug("Failed to close transport",
				slog.String("session", p.hctx.SessionID),
				slog.String("error", err.Error()))
		}
	})
}

func (p *Processor) violation(reason, detail string) {
	p.cfg.Metrics.ProtocolViolation(reason)
	p.logger.Debug("Protocol violation",
		slog.String("session", p.hctx.SessionID),
		slog.String("reason", reason),
		slog.String("detail", detail))
}
