// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/absmach/blobgate/pkg/errors"
)

var _ Store = (*Memory)(nil)

// Memory keeps blobs in a map.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]Blob)}
}

func (m *Memory) Put(_ context.Context, b Blob) error {
	b.Data = append([]byte(nil), b.Data...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[b.ID] = b
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[id]
	if !ok {
		return Blob{}, fmt.Errorf("%.40q: %w", id, errors.ErrNotFound)
	}
	return b, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		return fmt.Errorf("%.40q: %w", id, errors.ErrNotFound)
	}
	delete(m.blobs, id)
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}
