// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the connection acceptor of the gateway.
//
// # Overview
//
// The TCP server accepts connections, optionally terminates TLS, applies
// admission control and hands every admitted connection to a ConnHandler.
// The HTTP/1.x protocol adapter in package ingress is the ConnHandler used by
// the gateway.
//
// # Architecture
//
//	┌─────────┐         ┌──────────┐         ┌─────────────┐
//	│ Client  │ ←─TCP─→ │  Server  │ ──────→ │ ConnHandler │
//	└─────────┘         └──────────┘         └─────────────┘
//	                         ↓
//	                ┌─────────────────┐
//	                │ Limiter / slots │
//	                └─────────────────┘
//
// # Connection Flow
//
//  1. Client connects to server
//  2. Server checks the per-host limiter and the connection cap
//  3. Server builds a handler.Context with a fresh session id
//  4. For TLS listeners the handshake runs and the peer certificate is kept
//  5. ConnHandler.ServeConn runs until the connection closes
//
// Refused connections are closed right after accept without a response.
//
// # Graceful Shutdown
//
// When context is canceled:
//
//  1. Server stops accepting new connections
//  2. Server waits for existing connections (with timeout)
//  3. After ShutdownTimeout, cancels the context passed to ServeConn
//  4. Returns ErrShutdownTimeout if timeout exceeded
//
// Connection tracking uses sync.WaitGroup:
//
//	server.wg.Add(1)
//	go server.handleConn(...)
//	defer server.wg.Done()
//
// # TLS Support
//
//	cfg := tcp.Config{
//		Address:   ":8443",
//		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
//	}
//
// # Configuration
//
//   - Address: Server listen address (e.g., ":8080")
//   - TLSConfig: Optional TLS configuration
//   - ShutdownTimeout: Max wait time for graceful shutdown (default: 30s)
//   - HandshakeTimeout: Max TLS handshake time (default: 10s)
//   - MaxConnections: Concurrent connection cap (default: none)
//   - Limiter: Per remote host connection rate limiter
//   - Logger: Structured logger
//   - Metrics: Prometheus collectors
//
// # Example
//
//	srv := tcp.New(tcp.Config{Address: ":8080"}, ingress.NewServer(ingress.Config{}, h))
//	if err := srv.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
