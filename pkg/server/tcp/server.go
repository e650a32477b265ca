// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/metrics"
	"github.com/absmach/blobgate/pkg/ratelimit"
	"github.com/google/uuid"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// ConnHandler serves a single accepted connection until it closes or ctx is
// canceled.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn, hctx *handler.Context) error
}

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// HandshakeTimeout bounds the TLS handshake.
	HandshakeTimeout time.Duration

	// MaxConnections caps concurrently served connections. Zero means no cap.
	MaxConnections int

	// Limiter admits new connections per remote host. Optional.
	Limiter *ratelimit.Limiter

	// Logger for server events
	Logger *slog.Logger

	// Metrics collector. Optional.
	Metrics *metrics.Metrics
}

// Server accepts TCP connections and hands each one to a ConnHandler.
type Server struct {
	config  Config
	handler ConnHandler
	slots   chan struct{}
	wg      sync.WaitGroup
}

// New creates a new TCP server with the given configuration and connection
// handler.
func New(cfg Config, h ConnHandler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	s := &Server{
		config:  cfg,
		handler: h,
	}
	if cfg.MaxConnections > 0 {
		s.slots = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

func (s *Server) protocol() string {
	if s.config.TLSConfig != nil {
		return "https"
	}
	return "http"
}

// Listen binds the configured address and serves until the context is
// cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener and blocks until the context is
// cancelled. It implements graceful shutdown with connection draining.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// Wrap with TLS if configured
	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", listener.Addr().String()))
	}

	s.config.Logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
		slog.String("protocol", s.protocol()))

	// Active connections outlive ctx until the drain deadline.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.accept(ctx, connCtx, listener)
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	// Wait for active connections to drain with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
		return ErrShutdownTimeout
	}
}

func (s *Server) accept(ctx, connCtx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error during shutdown
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
			continue
		}

		if !s.admit(conn) {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			err := s.config.Metrics.ObserveConnection(s.protocol(), func() error {
				return s.handleConn(connCtx, conn)
			})
			if err != nil && !errors.Is(err, io.EOF) {
				s.config.Logger.Debug("connection handler error",
					slog.String("remote", conn.RemoteAddr().String()),
					slog.String("error", err.Error()))
			}
		}()
	}
}

// admit applies the connection cap and the per-host limiter.
func (s *Server) admit(conn net.Conn) bool {
	if s.config.Limiter != nil {
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			host = conn.RemoteAddr().String()
		}
		if !s.config.Limiter.Allow(host) {
			s.config.Metrics.RateLimited("per_host")
			s.config.Logger.Warn("connection rate limited", slog.String("remote", host))
			return false
		}
	}

	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		s.config.Metrics.ConnectionError(s.protocol(), "max_connections")
		s.config.Logger.Warn("connection limit reached",
			slog.String("remote", conn.RemoteAddr().String()),
			slog.Int("max", s.config.MaxConnections))
		return false
	}
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}

// handleConn builds the handler context of a connection, completes the TLS
// handshake and serves the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	hctx := &handler.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: conn.RemoteAddr().String(),
		Protocol:   s.protocol(),
	}

	// Extract client certificate if using TLS
	if tlsConn, ok := conn.(*tls.Conn); ok {
		hsCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			s.config.Metrics.ConnectionError(s.protocol(), "tls_handshake")
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) > 0 {
			hctx.Cert = state.PeerCertificates[0]
		}
	}

	s.config.Logger.Debug("connection established",
		slog.String("session", hctx.SessionID),
		slog.String("client", hctx.RemoteAddr))

	err := s.handler.ServeConn(ctx, conn, hctx)

	s.config.Logger.Debug("connection closed",
		slog.String("session", hctx.SessionID))

	return err
}
