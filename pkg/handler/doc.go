// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the core interface that links the ingress
// processor to business logic.
//
// # Architecture Overview
//
// The Handler interface serves as the bridge between the HTTP ingress and
// the application. When the ingress has assembled a request from its start
// line, it dispatches the request to the Handler without waiting for the
// body. The Handler reads the body from the request's content sink and
// answers through the ResponseChannel it was given.
//
// # Data Flow
//
//	Client → Decoder → Processor → Handler.Handle (request + sink)
//	Handler → ResponseChannel.Send / Fail → Emitter → Client
//
// # Completion
//
// Every dispatched request is answered exactly once:
//   - Send: emits the handler's response
//   - Fail: emits the status mapped from the error kind (pkg/errors), or
//     tears the connection down for connection-level faults
//
// Later calls return ErrAlreadyResponded and never reach the wire.
//
// # Context
//
// The Context struct carries connection metadata across all handler calls:
//   - SessionID: Unique identifier for this connection
//   - RemoteAddr: Client's network address
//   - Protocol: Listener flavour (http, https)
//   - Cert: Client certificate for mTLS connections
//
// # Blocking Handlers
//
// Handle runs on the connection's read loop and must return promptly.
// Handlers that block, for instance while reading the body, are wrapped with
// Async, which runs them on a bounded worker group and answers 503 when the
// group is full.
//
// # Example
//
//	h := handler.HandlerFunc(func(ctx context.Context, hctx *handler.Context, req *rest.Request, rc handler.ResponseChannel) {
//		if err := handler.Drain(ctx, req); err != nil {
//			rc.Fail(ctx, err)
//			return
//		}
//		rc.Send(ctx, rest.Text(http.StatusOK, "ok"))
//	})
//	srv := ingress.NewServer(cfg, handler.Async(h, 128))
package handler
