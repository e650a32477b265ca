// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"net/http"
)

// Direction indicates the direction of message flow.
type Direction int

const (
	// Upstream represents events flowing from the client to blobgate.
	Upstream Direction = iota

	// Downstream represents events flowing from blobgate to the client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Inbound is a decoded event received on a connection. The set of
// implementations is closed: StartLine, Content, LastContent, Unrecognized
// and Closed.
type Inbound interface {
	inbound()
}

// Outbound is an event written to a connection: ResponseHead, Content or
// LastContent.
type Outbound interface {
	outbound()
}

// StartLine is a request line plus its header block.
type StartLine struct {
	Method string
	Target string
	Proto  string
	Header http.Header

	// Complete marks a start line that also carries the whole body in
	// Content, i.e. it doubles as the terminal content event.
	Complete bool
	Content  []byte
}

// Content is a non-terminal body chunk.
type Content struct {
	Data []byte
}

// LastContent is the terminal body event. It may carry a final chunk.
type LastContent struct {
	Data []byte
}

// Unrecognized is an inbound object that is not a request, such as a
// response status line or an unparseable start line.
type Unrecognized struct {
	Reason string
}

// Closed signals the end of the inbound stream. Err is nil for an orderly
// close by the peer.
type Closed struct {
	Err error
}

// ResponseHead is the status line and header block of a response.
type ResponseHead struct {
	Proto  string
	Status int
	Header http.Header

	// ContentLength is the body size, or -1 when unknown.
	ContentLength int64

	// NoBody suppresses body framing, as for responses to HEAD.
	NoBody bool
}

func (StartLine) inbound()    {}
func (Content) inbound()      {}
func (LastContent) inbound()  {}
func (Unrecognized) inbound() {}
func (Closed) inbound()       {}

func (ResponseHead) outbound() {}
func (Content) outbound()      {}
func (LastContent) outbound()  {}

// Source produces inbound events for one connection, in wire order.
type Source interface {
	// Next blocks until the next event is available. After a Closed event
	// every call returns Closed again.
	Next() Inbound
}

// Writer consumes outbound events for one connection.
type Writer interface {
	// Write emits one event. Events of a response are written in order:
	// ResponseHead, zero or more Content, LastContent.
	Write(ev Outbound) error

	// Flush pushes buffered output to the peer.
	Flush() error

	// Close closes the underlying transport.
	Close() error
}
