// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/absmach/blobgate/pkg/blob/store"
	perrors "github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/rest"
	"github.com/absmach/blobgate/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	resp *rest.Response
	err  error
}

// channel records the outcome of one exchange and discards the rest of the
// request content the way the ingress does.
type channel struct {
	req  *rest.Request
	done chan result
}

func (c *channel) Send(_ context.Context, resp *rest.Response) error {
	c.req.Content().Discard()
	c.done <- result{resp: resp}
	return nil
}

func (c *channel) Fail(_ context.Context, err error) error {
	c.req.Content().Discard()
	c.done <- result{err: err}
	return nil
}

type notifier struct {
	mu      sync.Mutex
	created []store.Blob
	deleted []string
}

func (n *notifier) OnBlobCreated(_ context.Context, b store.Blob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, b)
}

func (n *notifier) OnBlobDeleted(_ context.Context, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, id)
}

type fixture struct {
	svc      *Service
	store    *store.Memory
	notifier *notifier
}

func newFixture(maxSize int64) *fixture {
	f := &fixture{store: store.NewMemory(), notifier: &notifier{}}
	f.svc = NewService(Config{
		MaxSize:  maxSize,
		IDs:      rest.NewSequence(),
		Notifier: f.notifier,
	}, f.store)
	return f
}

// do runs one request through the service, feeding body in small chunks.
func (f *fixture) do(t *testing.T, method, target string, header http.Header, body []byte) result {
	t.Helper()
	if header == nil {
		header = http.Header{}
	}
	if body != nil && header.Get("Content-Length") == "" && header.Get("Transfer-Encoding") == "" {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	req, err := rest.NewAssembler(nil, 4).Assemble(wire.StartLine{
		Method: method,
		Target: target,
		Proto:  "HTTP/1.1",
		Header: header,
	})
	require.NoError(t, err)

	go func() {
		sink := req.Content()
		for len(body) > 0 {
			n := min(7, len(body))
			if sink.Push(context.Background(), body[:n]) != nil {
				break
			}
			body = body[n:]
		}
		sink.End()
	}()

	rc := &channel{req: req, done: make(chan result, 2)}
	f.svc.Handle(context.Background(), &handler.Context{SessionID: "test"}, req, rc)
	select {
	case r := <-rc.done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return result{}
	}
}

func readBody(t *testing.T, resp *rest.Response) string {
	t.Helper()
	if resp.Body == nil {
		return ""
	}
	var buf bytes.Buffer
	for {
		p, err := resp.Body.Next(context.Background())
		buf.Write(p)
		if err == io.EOF {
			return buf.String()
		}
		require.NoError(t, err)
	}
}

func serviceHeader() http.Header {
	h := http.Header{}
	h.Set(rest.HeaderServiceID, "test-service")
	return h
}

func TestPostGetDelete(t *testing.T) {
	f := newFixture(0)
	h := serviceHeader()
	h.Set("Content-Type", "text/plain")
	h.Set(rest.HeaderBlobSize, "11")

	r := f.do(t, "POST", "/", h, []byte("hello world"))
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusCreated, r.resp.Status)
	assert.Equal(t, "/1", r.resp.Header.Get("Location"))
	assert.Equal(t, "11", r.resp.Header.Get(rest.HeaderBlobSize))
	require.Len(t, f.notifier.created, 1)
	assert.Equal(t, "test-service", f.notifier.created[0].ServiceID)

	r = f.do(t, "GET", "/1", nil, nil)
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusOK, r.resp.Status)
	assert.Equal(t, "text/plain", r.resp.Header.Get("Content-Type"))
	assert.Equal(t, "11", r.resp.Header.Get(rest.HeaderBlobSize))
	assert.Equal(t, int64(11), r.resp.ContentLength())
	assert.Equal(t, "hello world", readBody(t, r.resp))

	r = f.do(t, "HEAD", "/1", nil, nil)
	require.NoError(t, r.err)
	assert.Equal(t, int64(11), r.resp.ContentLength())

	r = f.do(t, "GET", "/1/BlobInfo", nil, nil)
	require.NoError(t, r.err)
	assert.Equal(t, "test-service", r.resp.Header.Get(rest.HeaderServiceID))
	assert.Nil(t, r.resp.Body)

	r = f.do(t, "DELETE", "/1", nil, nil)
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusAccepted, r.resp.Status)
	assert.Equal(t, []string{"1"}, f.notifier.deleted)

	r = f.do(t, "GET", "/1", nil, nil)
	assert.Equal(t, http.StatusNotFound, perrors.Map(r.err).Status)
}

func TestMultipartEqualsRaw(t *testing.T) {
	f := newFixture(0)
	payload := bytes.Repeat([]byte("0123456789"), 50)

	r := f.do(t, "POST", "/", serviceHeader(), payload)
	require.NoError(t, r.err)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	require.NoError(t, mw.WriteField("note", "ignored"))
	part, err := mw.CreateFormFile(BlobPart, BlobPart)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	h := serviceHeader()
	h.Set("Content-Type", mw.FormDataContentType())
	h.Set(rest.HeaderBlobSize, strconv.Itoa(len(payload)))
	r = f.do(t, "POST", "/", h, form.Bytes())
	require.NoError(t, r.err)
	assert.Equal(t, "/2", r.resp.Header.Get("Location"))

	raw, err := f.store.Get(context.Background(), "1")
	require.NoError(t, err)
	multi, err := f.store.Get(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, raw.Data, multi.Data)
	assert.Equal(t, "application/octet-stream", raw.ContentType)
	assert.Equal(t, "application/octet-stream", multi.ContentType)
}

func TestChunkedPost(t *testing.T) {
	f := newFixture(0)
	h := serviceHeader()
	h.Set("Transfer-Encoding", "chunked")

	r := f.do(t, "POST", "/", h, []byte("streamed without a length"))
	require.NoError(t, r.err)
	assert.Equal(t, "25", r.resp.Header.Get(rest.HeaderBlobSize))
}

func TestOptions(t *testing.T) {
	f := newFixture(0)
	r := f.do(t, "OPTIONS", "/", nil, nil)
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusOK, r.resp.Status)
	assert.Equal(t, rest.Allowed, r.resp.Header.Get(rest.HeaderAllow))
}

func TestFaults(t *testing.T) {
	oversize := serviceHeader()
	oversize.Set(rest.HeaderBlobSize, "100")
	mismatch := serviceHeader()
	mismatch.Set(rest.HeaderBlobSize, "3")
	noPart := serviceHeader()
	noPart.Set("Content-Type", "multipart/form-data; boundary=xyz")

	cases := []struct {
		desc   string
		method string
		target string
		header http.Header
		body   []byte
		status int
	}{
		{"missing service id", "POST", "/", nil, []byte("abc"), http.StatusBadRequest},
		{"post to blob path", "POST", "/abc", serviceHeader(), []byte("abc"), http.StatusBadRequest},
		{"declared oversize", "POST", "/", oversize, []byte("abc"), http.StatusRequestEntityTooLarge},
		{"actual oversize", "POST", "/", serviceHeader(), bytes.Repeat([]byte("x"), 17), http.StatusRequestEntityTooLarge},
		{"size mismatch", "POST", "/", mismatch, []byte("abcd"), http.StatusBadRequest},
		{"no blob part", "POST", "/", noPart, []byte("--xyz--\r\n"), http.StatusBadRequest},
		{"missing id", "GET", "/", nil, nil, http.StatusBadRequest},
		{"unknown sub-resource", "GET", "/1/Nope", nil, nil, http.StatusBadRequest},
		{"unknown blob", "GET", "/nope", nil, nil, http.StatusNotFound},
		{"delete unknown", "DELETE", "/nope", nil, nil, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture(16)
			r := f.do(t, tc.method, tc.target, tc.header, tc.body)
			require.Error(t, r.err)
			failure := perrors.Map(r.err)
			assert.Equal(t, tc.status, failure.Status)
			assert.False(t, failure.Close)
		})
	}
}

func TestStoreFailureIsInternal(t *testing.T) {
	svc := NewService(Config{}, brokenStore{store.NewMemory()})
	f := &fixture{svc: svc, notifier: &notifier{}}

	r := f.do(t, "POST", "/", serviceHeader(), []byte("abc"))
	failure := perrors.Map(r.err)
	assert.Equal(t, http.StatusInternalServerError, failure.Status)
	assert.True(t, failure.Close)
	assert.Empty(t, f.notifier.created)
}

type brokenStore struct{ *store.Memory }

func (brokenStore) Put(context.Context, store.Blob) error { return io.ErrClosedPipe }
