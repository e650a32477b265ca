// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package content implements the per-request body channel between the
// connection that receives a request and the handler that consumes it.
//
// A Sink has exactly one producer (the connection's content relay) and one
// consumer (the request handler). It is bounded: when the consumer falls
// behind, Push blocks, which stops the connection from reading further input.
// That blocking is the admission control mechanism for slow consumers.
package content

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the number of chunks a sink buffers before Push blocks.
const DefaultCapacity = 16

var (
	// ErrClosed is returned by Push after the terminal signal.
	ErrClosed = errors.New("content: push after end of content")

	// ErrDiscarded is returned by Push once the consumer has gone away.
	ErrDiscarded = errors.New("content: consumer discarded the content")
)

// Sink is an ordered, finite, bounded channel of byte chunks.
type Sink struct {
	chunks chan []byte
	gone   chan struct{}

	mu    sync.Mutex
	ended bool
	err   error

	discardOnce sync.Once
	size        atomic.Int64
	count       atomic.Int64
}

// New creates a sink buffering up to capacity chunks.
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{
		chunks: make(chan []byte, capacity),
		gone:   make(chan struct{}),
	}
}

// Push appends a chunk. Ownership of p moves to the sink; the caller must not
// modify it afterwards. Push blocks while the sink is full and returns
// ErrDiscarded if the consumer goes away in the meantime.
func (s *Sink) Push(ctx context.Context, p []byte) error {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return ErrClosed
	}

	if len(p) == 0 {
		return nil
	}

	select {
	case <-s.gone:
		return ErrDiscarded
	default:
	}

	select {
	case s.chunks <- p:
		s.size.Add(int64(len(p)))
		s.count.Add(1)
		return nil
	case <-s.gone:
		return ErrDiscarded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End delivers the terminal end-of-content signal. Calling it again is a no-op.
func (s *Sink) End() {
	s.finish(nil)
}

// Fail terminates the content with err. The consumer receives err after
// draining the chunks already buffered.
func (s *Sink) Fail(err error) {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	s.finish(err)
}

func (s *Sink) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.chunks)
}

// Next returns the next chunk. At the end of the content it returns io.EOF,
// and keeps returning io.EOF on further calls. A failed sink returns its
// fault instead.
func (s *Sink) Next(ctx context.Context) ([]byte, error) {
	select {
	case p, ok := <-s.chunks:
		if ok {
			return p, nil
		}
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Discard signals that the consumer will not read any more chunks. Pending
// and future Push calls return ErrDiscarded.
func (s *Sink) Discard() {
	s.discardOnce.Do(func() {
		close(s.gone)
	})
}

// Discarded reports whether the consumer has gone away.
func (s *Sink) Discarded() bool {
	select {
	case <-s.gone:
		return true
	default:
		return false
	}
}

// Ended reports whether the terminal signal was delivered.
func (s *Sink) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Size returns the number of bytes pushed so far.
func (s *Sink) Size() int64 {
	return s.size.Load()
}

// Chunks returns the number of chunks pushed so far.
func (s *Sink) Chunks() int64 {
	return s.count.Load()
}

// Reader adapts a Sink to io.Reader.
type Reader struct {
	ctx  context.Context
	sink *Sink
	buf  []byte
	err  error
}

var _ io.Reader = (*Reader)(nil)

// NewReader returns a reader over the remaining content of s.
func NewReader(ctx context.Context, s *Sink) *Reader {
	return &Reader{ctx: ctx, sink: s}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.buf, r.err = r.sink.Next(r.ctx)
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
