// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ingress implements the HTTP/1.x protocol adapter in front of the
// blob service.
//
// # Architecture Overview
//
// Each connection owns one Processor. The connection's read loop feeds it
// decoded wire events one at a time; the Processor validates their order,
// assembles requests, dispatches them to a handler.Handler without waiting
// for the body, relays body chunks into the request's content sink and
// writes the handler's response back:
//
//	Decoder → Process ─┬─ StartLine → Assembler → Handler.Handle
//	                   ├─ Content / LastContent → content.Sink
//	                   ├─ Unrecognized → 400
//	                   └─ Closed → teardown
//	Handler → ResponseChannel → emitter → Encoder
//
// # States
//
//   - Idle: ready for a start line; a dispatched request may still be
//     waiting for its response
//   - ExpectingContent: body events belong to the open request
//   - Closing: inbound events are dropped and the transport is closed once
//     pending output is flushed
//
// At most one exchange is open per connection. An exchange is released once
// both its terminal content event has been received and its response has
// been written; Serve does not read the next start line before that.
//
// # Protocol Violations
//
//   - content with no open request: 400, connection kept
//   - content for a GET, HEAD or DELETE request: 400, remaining content
//     dropped, connection kept if the client asked for keep-alive
//   - unsupported method: 405 with an Allow header, body dropped
//   - unrecognized wire object: 400, connection closed unless an earlier
//     exchange succeeded
//   - a second start line while a request is open: 400 and close
//
// # Backpressure
//
// Body chunks are pushed into a bounded content sink. When the handler reads
// slower than the client sends, Process blocks, the read loop stops reading
// and TCP flow control slows the client down. Once a response has been
// written the handler is done with the body: the sink is discarded and the
// rest of the body is read and dropped.
//
// # Responses
//
// The first Send or Fail on a request's ResponseChannel wins; later calls are
// logged, counted and dropped. Faults are converted by errors.Map: generic
// faults answer 500 and close the connection, classified faults answer their
// status and keep it.
package ingress
