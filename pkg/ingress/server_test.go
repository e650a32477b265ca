// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ingress

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/absmach/blobgate/pkg/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h handler.Handler) (net.Conn, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	srv := NewServer(Config{ChunkSize: 8}, h)

	done := make(chan error, 1)
	go func() {
		done <- srv.ServeConn(context.Background(), server, &handler.Context{SessionID: "pipe"})
	}()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func roundTrip(t *testing.T, conn net.Conn, br *bufio.Reader, raw, method string) (*http.Response, string) {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(timeout)))
	_, err := io.WriteString(conn, raw)
	require.NoError(t, err)

	req, _ := http.NewRequest(method, "/", nil)
	resp, err := http.ReadResponse(br, req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServeConnKeepAlive(t *testing.T) {
	conn, done := serve(t, echo())
	br := bufio.NewReader(conn)

	resp, body := roundTrip(t, conn, br, "GET /one HTTP/1.1\r\nHost: x\r\n\r\n", http.MethodGet)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GET /one ", body)

	resp, body = roundTrip(t, conn, br,
		"POST /two HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"+
			"b\r\nhello world\r\n6\r\n again\r\n0\r\n\r\n", http.MethodPost)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "POST /two hello world again", body)

	resp, body = roundTrip(t, conn, br, "HEAD /three HTTP/1.1\r\nConnection: close\r\n\r\n", http.MethodHead)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.Close)
	assert.Empty(t, body)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("ServeConn did not return after Connection: close")
	}
}

func TestServeConnResponseWhereRequestExpected(t *testing.T) {
	conn, done := serve(t, echo())
	br := bufio.NewReader(conn)

	resp, _ := roundTrip(t, conn, br, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", http.MethodGet)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("connection hangs after an unrecognized object")
	}
}

func TestServeConnPeerClose(t *testing.T) {
	conn, done := serve(t, echo())
	require.NoError(t, conn.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("ServeConn did not return after the peer closed")
	}
}

func TestServeConnContextCancel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- NewServer(Config{}, echo()).ServeConn(ctx, server, nil)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("ServeConn ignored context cancellation")
	}
}

func TestServeConnLargeBody(t *testing.T) {
	conn, _ := serve(t, echo())
	br := bufio.NewReader(conn)

	payload := strings.Repeat("x", 1000)
	raw := "POST /big HTTP/1.1\r\nContent-Length: 1000\r\n\r\n" + payload

	errc := make(chan error, 1)
	go func() {
		_, err := io.WriteString(conn, raw)
		errc <- err
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	resp, err := http.ReadResponse(br, req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	assert.Equal(t, "POST /big "+payload, string(body))
}

func TestServeConnHeaderTooLarge(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	srv := NewServer(Config{MaxHeaderBytes: 64}, echo())

	done := make(chan error, 1)
	go func() {
		done <- srv.ServeConn(context.Background(), server, &handler.Context{SessionID: "pipe"})
	}()

	go func() {
		_, _ = io.WriteString(client, "GET / HTTP/1.1\r\nX-Fill: "+strings.Repeat("a", 64<<10)+"\r\n\r\n")
	}()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(timeout)))
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	resp, err := http.ReadResponse(bufio.NewReader(client), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, resp.Close)

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("connection kept open after an oversized header block")
	}
}
