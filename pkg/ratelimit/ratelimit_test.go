// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_PerClient(t *testing.T) {
	l := NewLimiter(1, 2, 0)
	defer l.Close()

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if l.Allow("a") {
		t.Error("third event within a second should be limited")
	}
	if !l.Allow("b") {
		t.Error("clients must not share buckets")
	}
	if got := l.Stats(); got != 2 {
		t.Errorf("Stats() = %d, want 2", got)
	}
}

func TestLimiter_Refill(t *testing.T) {
	l := NewLimiter(1, 1, 0)
	defer l.Close()

	now := time.Now()
	l.now = func() time.Time { return now }
	if !l.Allow("a") {
		t.Fatal("first event should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("bucket should be empty")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("bucket should refill after a second")
	}
}

func TestLimiter_MaxClients(t *testing.T) {
	l := NewLimiter(10, 10, 1)
	defer l.Close()

	if !l.Allow("a") {
		t.Fatal("first client should be tracked")
	}
	if l.Allow("b") {
		t.Error("client over the cap should be refused")
	}
	l.Remove("a")
	if !l.Allow("b") {
		t.Error("slot should be free after Remove")
	}
}

func TestLimiter_Global(t *testing.T) {
	l := NewLimiter(10, 10, 0).WithGlobal(1, 1)
	defer l.Close()

	if !l.Allow("a") {
		t.Fatal("first event should be allowed")
	}
	if l.Allow("b") {
		t.Error("global limit should apply across clients")
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	l := NewLimiter(1, 1, 0)
	defer l.Close()

	now := time.Now()
	l.now = func() time.Time { return now }
	l.Allow("idle")
	now = now.Add(2 * cleanupInterval)
	l.Allow("active")

	l.cleanup()
	if got := l.Stats(); got != 1 {
		t.Errorf("Stats() = %d after cleanup, want 1", got)
	}
}
