// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package store provides the storage backends of the reference blob service.
package store

import (
	"context"
	"time"
)

// Blob is a stored object and its properties.
type Blob struct {
	ID          string
	ServiceID   string
	ContentType string
	Created     time.Time
	Data        []byte
}

// Size returns the number of bytes in the blob.
func (b Blob) Size() int64 {
	return int64(len(b.Data))
}

// Store persists blobs by id. Get and Delete fail with an error matching
// errors.ErrNotFound from pkg/errors when the id is unknown.
type Store interface {
	Put(ctx context.Context, b Blob) error
	Get(ctx context.Context, id string) (Blob, error)
	Delete(ctx context.Context, id string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
