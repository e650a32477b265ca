// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package blobgate holds the listener configuration shared by the gateway
// binaries.
package blobgate

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

var errNoCACerts = errors.New("no certificates found in client CA file")

// Config is the configuration of one ingress listener.
type Config struct {
	Host            string        `env:"HOST"             envDefault:""`
	Port            string        `env:"PORT"             envDefault:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConnections  int           `env:"MAX_CONNECTIONS"  envDefault:"0"`

	CertFile     string `env:"SERVER_CERT"    envDefault:""`
	KeyFile      string `env:"SERVER_KEY"     envDefault:""`
	ClientCAFile string `env:"CLIENT_CA_CERT" envDefault:""`

	// TLSConfig is built from the certificate files. It is nil when no
	// server certificate is configured.
	TLSConfig *tls.Config
}

// NewConfig parses a listener configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}

	tlsCfg, err := c.loadTLS()
	if err != nil {
		return Config{}, err
	}
	c.TLSConfig = tlsCfg
	return c, nil
}

func (c Config) loadTLS() (*tls.Config, error) {
	if c.CertFile == "" && c.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if c.ClientCAFile == "" {
		return tlsCfg, nil
	}
	pem, err := os.ReadFile(c.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errNoCACerts
	}
	tlsCfg.ClientCAs = pool
	tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	return tlsCfg, nil
}
