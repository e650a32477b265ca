// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces request and resource identifiers.
type IDGenerator interface {
	Next() string
}

// Sequence is a monotonic counter scoped to one service instance.
type Sequence struct {
	n atomic.Uint64
}

var _ IDGenerator = (*Sequence)(nil)

// NewSequence creates a sequence whose first identifier is "1".
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next implements IDGenerator.
func (s *Sequence) Next() string {
	return strconv.FormatUint(s.n.Add(1), 10)
}

// UUIDGenerator generates random UUIDv4 identifiers.
type UUIDGenerator struct{}

var _ IDGenerator = UUIDGenerator{}

// Next implements IDGenerator.
func (UUIDGenerator) Next() string {
	return uuid.NewString()
}
