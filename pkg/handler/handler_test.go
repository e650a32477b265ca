// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	perrors "github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/rest"
	"github.com/absmach/blobgate/pkg/wire"
)

type mockChannel struct {
	mu    sync.Mutex
	resps []*rest.Response
	errs  []error
	done  chan struct{}
	once  sync.Once
}

func newMockChannel() *mockChannel {
	return &mockChannel{done: make(chan struct{})}
}

func (m *mockChannel) Send(ctx context.Context, resp *rest.Response) error {
	m.mu.Lock()
	m.resps = append(m.resps, resp)
	m.mu.Unlock()
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *mockChannel) Fail(ctx context.Context, err error) error {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *mockChannel) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
	}
}

func newRequest(t *testing.T, method string) *rest.Request {
	t.Helper()
	req, err := rest.NewAssembler(nil, 4).Assemble(wire.StartLine{
		Method: method,
		Target: "/",
		Proto:  "HTTP/1.1",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	return req
}

func TestNoopHandler(t *testing.T) {
	ctx := context.Background()
	hctx := &Context{SessionID: "test-session", RemoteAddr: "127.0.0.1:1234", Protocol: "http"}

	req := newRequest(t, http.MethodPost)
	sink := req.Content()
	if err := sink.Push(ctx, []byte("payload")); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	sink.End()

	rc := newMockChannel()
	(&NoopHandler{}).Handle(ctx, hctx, req, rc)
	rc.wait(t)

	if len(rc.resps) != 1 || rc.resps[0].Status != http.StatusOK {
		t.Fatalf("expected a single 200 response, got %+v", rc.resps)
	}
	if len(rc.errs) != 0 {
		t.Errorf("unexpected failures: %v", rc.errs)
	}
}

func TestNoopHandler_FailedContent(t *testing.T) {
	ctx := context.Background()
	req := newRequest(t, http.MethodPost)
	req.Content().Fail(perrors.ErrConnectionClosed)

	rc := newMockChannel()
	(&NoopHandler{}).Handle(ctx, &Context{}, req, rc)
	rc.wait(t)

	if len(rc.errs) != 1 || !errors.Is(rc.errs[0], perrors.ErrConnectionClosed) {
		t.Errorf("expected connection fault, got %v", rc.errs)
	}
}

func TestHandlerFunc(t *testing.T) {
	called := false
	h := HandlerFunc(func(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel) {
		called = true
		_ = rc.Send(ctx, rest.NewResponse(http.StatusNoContent))
	})

	rc := newMockChannel()
	h.Handle(context.Background(), &Context{}, newRequest(t, http.MethodGet), rc)
	if !called {
		t.Fatal("function not called")
	}
	if rc.resps[0].Status != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rc.resps[0].Status)
	}
}

func TestAsync_RunsOffCallerGoroutine(t *testing.T) {
	release := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel) {
		<-release
		_ = rc.Send(ctx, rest.NewResponse(http.StatusOK))
	})
	a := Async(h, 1)

	rc := newMockChannel()
	returned := make(chan struct{})
	go func() {
		a.Handle(context.Background(), &Context{}, newRequest(t, http.MethodGet), rc)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked on a blocking handler")
	}

	close(release)
	rc.wait(t)
	a.Wait()
}

func TestAsync_FullPool(t *testing.T) {
	release := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel) {
		<-release
		_ = rc.Send(ctx, rest.NewResponse(http.StatusOK))
	})
	rejected := 0
	a := Async(h, 1, WithRejectHook(func() { rejected++ }))

	first := newMockChannel()
	a.Handle(context.Background(), &Context{}, newRequest(t, http.MethodGet), first)

	second := newMockChannel()
	a.Handle(context.Background(), &Context{}, newRequest(t, http.MethodGet), second)
	second.wait(t)

	if len(second.errs) != 1 {
		t.Fatalf("expected rejection, got %+v", second)
	}
	f := perrors.Map(second.errs[0])
	if f.Status != http.StatusServiceUnavailable || f.Close {
		t.Errorf("rejection mapped to %+v, want 503 keeping the connection", f)
	}
	if rejected != 1 {
		t.Errorf("reject hook called %d times, want 1", rejected)
	}

	close(release)
	first.wait(t)
	a.Wait()
}

func TestAsync_RecoversPanic(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, hctx *Context, req *rest.Request, rc ResponseChannel) {
		panic("boom")
	})
	a := Async(h, 0)

	rc := newMockChannel()
	a.Handle(context.Background(), &Context{}, newRequest(t, http.MethodGet), rc)
	rc.wait(t)
	a.Wait()

	if len(rc.errs) != 1 {
		t.Fatalf("expected a failure, got %+v", rc)
	}
	f := perrors.Map(rc.errs[0])
	if f.Status != http.StatusInternalServerError || !f.Close {
		t.Errorf("panic mapped to %+v, want 500 and close", f)
	}
}
