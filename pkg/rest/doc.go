// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package rest contains the protocol-neutral request and response model used
// between the ingress processor and request handlers.
//
// The Assembler turns a decoded start line into a Request: it classifies the
// method, parses the target, validates the framing headers, infers the body
// size and decides whether content is expected. Handlers read the body from
// the request's content sink and answer with a Response whose Body is pulled
// lazily by the response emitter.
//
// Keep-alive follows HTTP/1.x defaults: HTTP/1.1 connections persist unless
// the client sends "Connection: close", HTTP/1.0 connections persist only
// with "Connection: keep-alive".
package rest
