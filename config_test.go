// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package blobgate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCert writes a self-signed certificate and its key to dir.
func writeCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "blobgate-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestNewConfigPlain(t *testing.T) {
	cfg, err := NewConfig(env.Options{
		Prefix: "TEST_",
		Environment: map[string]string{
			"TEST_HOST": "127.0.0.1",
			"TEST_PORT": "8080",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Nil(t, cfg.TLSConfig)
}

func TestNewConfigMTLS(t *testing.T) {
	cert, key := writeCert(t, t.TempDir())
	cfg, err := NewConfig(env.Options{
		Prefix: "TEST_",
		Environment: map[string]string{
			"TEST_PORT":           "8443",
			"TEST_SERVER_CERT":    cert,
			"TEST_SERVER_KEY":     key,
			"TEST_CLIENT_CA_CERT": cert,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.TLSConfig)
	assert.Len(t, cfg.TLSConfig.Certificates, 1)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.TLSConfig.ClientAuth)
}

func TestNewConfigBadFiles(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeCert(t, dir)
	junk := filepath.Join(dir, "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not a certificate"), 0o600))

	cases := map[string]map[string]string{
		"missing key": {"TEST_SERVER_CERT": cert},
		"bad ca":      {"TEST_SERVER_CERT": cert, "TEST_SERVER_KEY": key, "TEST_CLIENT_CA_CERT": junk},
		"missing ca":  {"TEST_SERVER_CERT": cert, "TEST_SERVER_KEY": key, "TEST_CLIENT_CA_CERT": filepath.Join(dir, "none")},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfig(env.Options{Prefix: "TEST_", Environment: vars})
			assert.Error(t, err)
		})
	}
}
