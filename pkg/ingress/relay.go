// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ingress

import (
	"errors"
	"net/http"

	"github.com/absmach/blobgate/pkg/content"
	perrors "github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/rest"
)

// relay forwards one body event to the open request. Chunks are handed over
// to the sink without copying; a full sink blocks the caller.
func (p *Processor) relay(data []byte, last bool) error {
	p.mu.Lock()
	if p.state == Closing {
		p.mu.Unlock()
		return nil
	}

	ex := p.ex
	if ex == nil {
		keep := p.keepAlive
		p.mu.Unlock()
		p.violation(reasonUnsolicitedContent, "content received with no open request")
		p.standalone(http.StatusBadRequest, keep)
		return nil
	}
	if ex.contentDone {
		// The request is complete and waits for its response, which must go
		// out first. The connection is not reused afterwards.
		ex.closeAfter = true
		emitted := ex.emitted
		p.mu.Unlock()
		p.violation(reasonUnsolicitedContent, "content received after the terminal event")
		if emitted {
			p.closeTransport()
		}
		return nil
	}

	if ex.discard {
		if last {
			p.contentDone(ex)
		}
		p.mu.Unlock()
		return nil
	}

	if !ex.expectBody {
		if len(data) == 0 {
			if last {
				p.contentDone(ex)
			}
			p.mu.Unlock()
			return nil
		}
		ex.discard = true
		claimed := ex.claimed
		if last {
			p.contentDone(ex)
		}
		p.mu.Unlock()

		p.violation(reasonUnexpectedContent, ex.method+" request with content")
		if !claimed {
			_ = p.emit(ex, rest.ErrorResponse(perrors.Map(perrors.BadRequest("%s request with content", ex.method))), false)
		}
		return nil
	}
	sink := ex.sink
	p.mu.Unlock()

	if len(data) > 0 {
		err := sink.Push(p.ctx, data)
		switch {
		case err == nil:
		case errors.Is(err, content.ErrDiscarded):
			p.mu.Lock()
			ex.discard = true
			p.mu.Unlock()
		case p.ctx.Err() != nil:
			// Transport closed while the sink was full.
			return nil
		default:
			return err
		}
	}

	if last {
		sink.End()
		p.mu.Lock()
		p.contentDone(ex)
		p.mu.Unlock()
	}
	return nil
}

// contentDone records the terminal content event of ex and releases it if
// its response is already out. Must be called with mu held.
func (p *Processor) contentDone(ex *exchange) {
	ex.contentDone = true
	if p.state == ExpectingContent && p.ex == ex {
		p.state = Idle
	}
	if ex.emitted {
		p.release(ex)
	}
}
