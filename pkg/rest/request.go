// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"net/http"
	"net/url"

	"github.com/absmach/blobgate/pkg/content"
)

// Custom headers understood by the ingress.
const (
	HeaderBlobSize  = "X-Blob-Size"
	HeaderServiceID = "X-Service-Id"
	HeaderAllow     = "Allow"
)

// Request is an assembled request. It is immutable once dispatched, except
// for its content sink.
type Request struct {
	// ID is unique per service instance.
	ID string

	Method Method
	// RawMethod is the method token as received.
	RawMethod string

	// URI is the request target as received.
	URI   string
	URL   *url.URL
	Query url.Values

	Proto  string
	Header http.Header

	// Size is the declared or inferred body size, -1 when unknown.
	Size int64

	// KeepAlive is the client's connection reuse preference.
	KeepAlive bool

	expectsContent bool
	content        *content.Sink
}

// Content returns the request body sink. Bodiless requests have an empty,
// already terminated sink.
func (r *Request) Content() *content.Sink {
	return r.content
}

// ExpectsContent reports whether body content follows the start line.
func (r *Request) ExpectsContent() bool {
	return r.expectsContent
}

// Path returns the unescaped request path.
func (r *Request) Path() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Path
}
