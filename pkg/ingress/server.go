// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ingress

import (
	"context"
	"net"

	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/wire"
)

// Server serves HTTP/1.x connections with one Processor each.
type Server struct {
	cfg     Config
	handler handler.Handler
}

// NewServer creates a server dispatching requests to h. All connections
// share one request identifier sequence.
func NewServer(cfg Config, h handler.Handler) *Server {
	cfg.setDefaults()
	return &Server{cfg: cfg, handler: h}
}

// ServeConn runs the ingress state machine on conn until the connection
// closes or ctx is canceled.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, hctx *handler.Context) error {
	dec := wire.NewDecoder(conn, s.cfg.ChunkSize)
	dec.SetMaxHeaderBytes(s.cfg.MaxHeaderBytes)
	enc := wire.NewEncoder(conn)
	p := NewProcessor(ctx, s.cfg, s.handler, enc, hctx)

	go func() {
		select {
		case <-ctx.Done():
			p.closeTransport()
		case <-p.Closed():
		}
	}()

	return p.Serve(dec)
}
