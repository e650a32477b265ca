// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the HTTP/1.x protocol events exchanged between a
// connection and the ingress processor, and the codec that produces and
// consumes them on a byte stream.
//
// # Architecture Overview
//
// The wire layer sits between the transport (TCP/TLS connections) and the
// ingress processor. It does not interpret requests; it only frames them:
//
//	Client → Decoder (bytes → Inbound) → Processor → Handler
//	Handler → Processor → Encoder (Outbound → bytes) → Client
//
// # Inbound Events
//
// Inbound is a closed set of event types, matched with a type switch:
//   - StartLine: request line and header block; Complete when the whole body
//     (possibly empty) travels with it
//   - Content: a non-terminal body chunk
//   - LastContent: the terminal body event, possibly carrying a last chunk
//   - Unrecognized: an object that is not a request (e.g. a status line)
//   - Closed: the end of the stream, orderly or not
//
// # Outbound Events
//
// A response is written as one ResponseHead, zero or more Content events and
// one LastContent, followed by Flush. The Encoder chooses Content-Length
// framing when the size is known and chunked transfer coding otherwise.
//
// # Decoder Behavior
//
// Bodiless requests are always reported as a Complete StartLine. Bodies that
// are already buffered together with the header block and fit in one chunk
// are fused into the StartLine as well. Larger bodies are emitted in chunks
// of at most the configured chunk size, so a body is never held in memory as
// a whole. A request line with its header block, and a chunked trailer
// section, may span at most SetMaxHeaderBytes bytes; a longer one is reported
// as Unrecognized. Once the Decoder reports Unrecognized, request framing is
// lost and every following call returns Closed with ErrMalformed.
//
// # Example
//
//	dec := wire.NewDecoder(conn, 0)
//	enc := wire.NewEncoder(conn)
//	for {
//		switch ev := dec.Next().(type) {
//		case wire.StartLine:
//			// assemble and dispatch
//		case wire.Content, wire.LastContent:
//			// relay
//		case wire.Closed:
//			return ev.Err
//		}
//	}
package wire
