// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/absmach/blobgate/pkg/errors"
)

// KeepAliveDirective lets a response override connection reuse.
type KeepAliveDirective int

const (
	// KeepAliveInherit keeps the connection open if the request asked for it.
	KeepAliveInherit KeepAliveDirective = iota
	// KeepAliveClose closes the connection after the response.
	KeepAliveClose
)

// Body is a finite, non-restartable sequence of chunks. Next returns io.EOF
// after the last chunk.
type Body interface {
	Next(ctx context.Context) ([]byte, error)
}

// Sized is implemented by bodies whose length is known up front.
type Sized interface {
	Len() int64
}

// Response is what a handler answers with.
type Response struct {
	Status    int
	Header    http.Header
	Body      Body
	KeepAlive KeepAliveDirective
}

// NewResponse creates a response with an empty header and no body.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: http.Header{}}
}

// Text creates a text/plain response.
func Text(status int, text string) *Response {
	r := NewResponse(status)
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	r.Body = Bytes([]byte(text))
	return r
}

// ErrorResponse creates the response for a mapped failure. The body is the
// status text only; fault details are never sent to the client.
func ErrorResponse(f errors.Failure) *Response {
	r := Text(f.Status, http.StatusText(f.Status)+"\n")
	if f.Close {
		r.KeepAlive = KeepAliveClose
	}
	return r
}

// ContentLength returns the body length if known, otherwise -1.
func (r *Response) ContentLength() int64 {
	if r.Body == nil {
		return 0
	}
	if s, ok := r.Body.(Sized); ok {
		return s.Len()
	}
	if v := r.Header.Get("Content-Length"); v != "" {
		if n, err := parseSize(v); err == nil {
			return n
		}
	}
	return -1
}

// BytesBody is an in-memory body emitted as a single chunk.
type BytesBody struct {
	p    []byte
	done bool
}

var (
	_ Body  = (*BytesBody)(nil)
	_ Sized = (*BytesBody)(nil)
)

// Bytes creates a body over p.
func Bytes(p []byte) *BytesBody {
	return &BytesBody{p: p}
}

// Next implements Body.
func (b *BytesBody) Next(context.Context) ([]byte, error) {
	if b.done || len(b.p) == 0 {
		b.done = true
		return nil, io.EOF
	}
	b.done = true
	return b.p, nil
}

// Len implements Sized.
func (b *BytesBody) Len() int64 {
	return int64(len(b.p))
}

// ReaderBody streams an io.Reader in chunks.
type ReaderBody struct {
	r     io.Reader
	size  int64
	chunk int
	err   error
}

var _ Body = (*ReaderBody)(nil)

const defaultReadChunk = 32 * 1024

// Reader creates a body over r. size is the known length or -1. If r is an
// io.Closer it is closed at the end of the body.
func Reader(r io.Reader, size int64) Body {
	rb := &ReaderBody{r: r, size: size, chunk: defaultReadChunk}
	if size >= 0 {
		return sizedReaderBody{rb}
	}
	return rb
}

// Next implements Body.
func (b *ReaderBody) Next(context.Context) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	buf := make([]byte, b.chunk)
	n, err := b.r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		return nil, nil
	}
	b.err = err
	if c, ok := b.r.(io.Closer); ok {
		c.Close()
	}
	return nil, err
}

type sizedReaderBody struct {
	*ReaderBody
}

func (b sizedReaderBody) Len() int64 {
	return b.size
}

// SetSize sets the X-Blob-Size header.
func (r *Response) SetSize(n int64) {
	r.Header.Set(HeaderBlobSize, strconv.FormatInt(n, 10))
}
