// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/blobgate/pkg/breaker"
	perrors "github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"bolt":   b,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Ping(ctx))

			in := Blob{
				ID:          "b1",
				ServiceID:   "svc",
				ContentType: "text/plain",
				Created:     created,
				Data:        []byte("hello"),
			}
			require.NoError(t, s.Put(ctx, in))

			out, err := s.Get(ctx, "b1")
			require.NoError(t, err)
			assert.Equal(t, in.ServiceID, out.ServiceID)
			assert.Equal(t, in.ContentType, out.ContentType)
			assert.True(t, created.Equal(out.Created))
			assert.Equal(t, "hello", string(out.Data))
			assert.Equal(t, int64(5), out.Size())

			require.NoError(t, s.Delete(ctx, "b1"))
			_, err = s.Get(ctx, "b1")
			assert.ErrorIs(t, err, perrors.ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "b1"), perrors.ErrNotFound)
		})
	}
}

func TestMemoryCopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	data := []byte("abc")
	require.NoError(t, s.Put(ctx, Blob{ID: "x", Data: data}))
	data[0] = 'z'

	b, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b.Data))
}

func TestBoltReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blobs.db")

	s, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, Blob{ID: "kept", Data: []byte("data")}))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()
	b, err := s.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, "data", string(b.Data))
}

type failingStore struct {
	*Memory
	err error
}

func (f *failingStore) Put(context.Context, Blob) error { return f.err }

func TestGuard(t *testing.T) {
	ctx := context.Background()
	m := metrics.New("test", prometheus.NewRegistry())
	down := &failingStore{Memory: NewMemory(), err: errors.New("disk on fire")}
	cb := breaker.New(breaker.Config{Name: "memory", MaxFailures: 1, ResetTimeout: time.Hour})
	s := Guard(down, "memory", cb, m)

	assert.Error(t, s.Put(ctx, Blob{ID: "a"}))
	err := s.Put(ctx, Blob{ID: "a"})
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.Equal(t, 503, perrors.Map(err).Status)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.NoError(t, s.Ping(ctx))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreRequestsTotal.WithLabelValues("memory", "put", "error")))
}

func TestGuardPassesNotFound(t *testing.T) {
	ctx := context.Background()
	s := Guard(NewMemory(), "memory", breaker.New(breaker.Config{MaxFailures: 1}), nil)

	for i := 0; i < 3; i++ {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, perrors.ErrNotFound)
	}
}
