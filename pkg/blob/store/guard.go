// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"

	"github.com/absmach/blobgate/pkg/breaker"
	"github.com/absmach/blobgate/pkg/metrics"
)

var _ Store = (*guarded)(nil)

type guarded struct {
	next    Store
	backend string
	cb      *breaker.CircuitBreaker
	metrics *metrics.Metrics
}

// Guard routes every call to s through cb and records it under backend in m.
// cb and m may be nil.
func Guard(s Store, backend string, cb *breaker.CircuitBreaker, m *metrics.Metrics) Store {
	return &guarded{next: s, backend: backend, cb: cb, metrics: m}
}

func (g *guarded) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return g.metrics.ObserveStore(g.backend, op, func() error {
		if g.cb == nil {
			return fn(ctx)
		}
		return g.cb.Call(ctx, fn)
	})
}

func (g *guarded) Put(ctx context.Context, b Blob) error {
	return g.call(ctx, "put", func(ctx context.Context) error {
		return g.next.Put(ctx, b)
	})
}

func (g *guarded) Get(ctx context.Context, id string) (b Blob, err error) {
	err = g.call(ctx, "get", func(ctx context.Context) error {
		b, err = g.next.Get(ctx, id)
		return err
	})
	return b, err
}

func (g *guarded) Delete(ctx context.Context, id string) error {
	return g.call(ctx, "delete", func(ctx context.Context) error {
		return g.next.Delete(ctx, id)
	})
}

// Ping bypasses the breaker so health checks see the backend itself.
func (g *guarded) Ping(ctx context.Context) error {
	return g.next.Ping(ctx)
}
