// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package gateway wires the transport, the HTTP/1.x ingress and a request
// handler into a runnable listener.
//
// # Architecture
//
//	Application
//	     ↓
//	┌─────────────┐
//	│  Gateway    │  (Coordinator)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│ tcp.Server  │  (Transport, admission control)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│  ingress    │  (Per-connection protocol processor)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│  Handler    │  (Blob service, optionally behind handler.Async)
//	└─────────────┘
//
// AdminServer runs the operator endpoints (metrics, health) on plain
// net/http next to the gateway.
//
// # Multiple Listeners
//
//	g, ctx := errgroup.WithContext(context.Background())
//	g.Go(func() error { return plain.Listen(ctx) })
//	g.Go(func() error { return secure.Listen(ctx) })
//	if err := g.Wait(); err != nil {
//		log.Fatal(err)
//	}
package gateway
