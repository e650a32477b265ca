// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/absmach/blobgate/pkg/content"
	"github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/wire"
)

// Assembler builds requests from decoded start lines.
type Assembler struct {
	ids          IDGenerator
	sinkCapacity int
}

// NewAssembler creates an assembler. A nil ids selects a new Sequence;
// sinkCapacity bounds the chunks buffered per request body.
func NewAssembler(ids IDGenerator, sinkCapacity int) *Assembler {
	if ids == nil {
		ids = NewSequence()
	}
	if sinkCapacity <= 0 {
		sinkCapacity = content.DefaultCapacity
	}
	return &Assembler{ids: ids, sinkCapacity: sinkCapacity}
}

// Assemble validates a start line and returns the request it describes.
// Every rejection is a KindBadRequest error. Unsupported methods are not
// rejected here; the returned request carries MethodUnsupported.
func (a *Assembler) Assemble(sl wire.StartLine) (*Request, error) {
	major, _, ok := http.ParseHTTPVersion(sl.Proto)
	if !ok || major != 1 {
		return nil, errors.BadRequest("unsupported protocol version %q", sl.Proto)
	}

	u, err := url.ParseRequestURI(sl.Target)
	if err != nil {
		return nil, errors.BadRequest("invalid request target %q", sl.Target)
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, errors.BadRequest("invalid query in %q", sl.Target)
	}

	header := sl.Header
	if header == nil {
		header = http.Header{}
	}

	cl := header.Get("Content-Length")
	te := header.Get("Transfer-Encoding")
	if cl != "" && te != "" {
		return nil, errors.BadRequest("both Content-Length and Transfer-Encoding present")
	}

	size := int64(-1)
	if cl != "" {
		n, err := parseSize(cl)
		if err != nil {
			return nil, errors.BadRequest("invalid Content-Length %q", cl)
		}
		size = n
	}
	if bs := header.Get(HeaderBlobSize); bs != "" {
		n, err := parseSize(bs)
		if err != nil {
			return nil, errors.BadRequest("invalid %s %q", HeaderBlobSize, bs)
		}
		if size < 0 {
			size = n
		}
	}

	method := ParseMethod(sl.Method)
	expects := false
	switch {
	case method.Bodiless():
	case method == MethodPost:
		expects = true
	default:
		expects = cl != "" || te != ""
	}

	return &Request{
		ID:             a.ids.Next(),
		Method:         method,
		RawMethod:      sl.Method,
		URI:            sl.Target,
		URL:            u,
		Query:          query,
		Proto:          sl.Proto,
		Header:         header,
		Size:           size,
		KeepAlive:      KeepAlive(sl.Proto, header),
		expectsContent: expects,
		content:        content.New(a.sinkCapacity),
	}, nil
}

func parseSize(v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
