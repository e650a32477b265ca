// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wiretest provides an in-memory wire.Writer for tests.
package wiretest

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/absmach/blobgate/pkg/wire"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("wiretest: recorder closed")

// Recorder records outbound events in order, like an embedded channel.
// Events become readable once they are flushed.
type Recorder struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []wire.Outbound
	flushed []wire.Outbound
	closed  bool

	// FailAfter makes Write fail once that many events were written; zero
	// disables the fault.
	FailAfter int
	written   int
}

var _ wire.Writer = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Write implements wire.Writer.
func (r *Recorder) Write(ev wire.Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.FailAfter > 0 && r.written >= r.FailAfter {
		return errors.New("wiretest: injected write fault")
	}
	r.written++
	r.pending = append(r.pending, ev)
	return nil
}

// Flush implements wire.Writer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.flushed = append(r.flushed, r.pending...)
	r.pending = nil
	r.cond.Broadcast()
	return nil
}

// Close implements wire.Writer. Unflushed events are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.pending = nil
	r.cond.Broadcast()
	return nil
}

// IsOpen reports whether Close has not been called.
func (r *Recorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// ReadOutbound removes and returns the oldest flushed event, waiting up to
// timeout for one to arrive. It returns nil on timeout or when the recorder
// is closed with nothing left to read.
func (r *Recorder) ReadOutbound(timeout time.Duration) wire.Outbound {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.flushed) == 0 {
		if r.closed || !time.Now().Before(deadline) {
			return nil
		}
		r.cond.Wait()
	}
	ev := r.flushed[0]
	r.flushed = r.flushed[1:]
	return ev
}

// Response is one recorded response.
type Response struct {
	Head wire.ResponseHead
	Body []byte
	// Terminated is false when the stream ended without a LastContent.
	Terminated bool
}

// ReadResponse reads one whole response, waiting up to timeout for each of
// its events. It returns nil if no ResponseHead arrives in time.
func (r *Recorder) ReadResponse(timeout time.Duration) *Response {
	ev := r.ReadOutbound(timeout)
	head, ok := ev.(wire.ResponseHead)
	if !ok {
		return nil
	}
	resp := &Response{Head: head}
	var body bytes.Buffer
	for {
		switch ev := r.ReadOutbound(timeout).(type) {
		case wire.Content:
			body.Write(ev.Data)
		case wire.LastContent:
			body.Write(ev.Data)
			resp.Body = body.Bytes()
			resp.Terminated = true
			return resp
		default:
			resp.Body = body.Bytes()
			return resp
		}
	}
}

// WaitClosed waits up to timeout for Close and reports whether it happened.
func (r *Recorder) WaitClosed(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !r.IsOpen() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return !r.IsOpen()
}
