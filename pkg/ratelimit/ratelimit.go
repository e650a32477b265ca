// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides per-client admission control using token
// buckets from golang.org/x/time/rate.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrRateLimitExceeded is returned when rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

const (
	defaultMaxClients = 10000
	cleanupInterval   = 5 * time.Minute
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages per-client rate limiters and an optional global one.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*entry
	limit        rate.Limit
	burst        int
	maxClients   int
	global       *rate.Limiter
	cleanupTimer *time.Timer
	now          func() time.Time
}

// NewLimiter creates a limiter that allows each client perSecond events with
// bursts of up to burst events. At most maxClients clients are tracked at
// once; zero selects a default.
func NewLimiter(perSecond float64, burst, maxClients int) *Limiter {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	if burst <= 0 {
		burst = 1
	}

	l := &Limiter{
		limiters:   make(map[string]*entry),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		maxClients: maxClients,
		now:        time.Now,
	}

	// Periodic cleanup of inactive limiters
	l.cleanupTimer = time.AfterFunc(cleanupInterval, l.cleanup)

	return l
}

// WithGlobal adds a limit shared by all clients.
func (l *Limiter) WithGlobal(perSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	l.global = rate.NewLimiter(rate.Limit(perSecond), burst)
	return l
}

// Allow checks if an event from the given client should be allowed.
func (l *Limiter) Allow(clientID string) bool {
	return l.AllowN(clientID, 1)
}

// AllowN checks if n events from the given client should be allowed.
func (l *Limiter) AllowN(clientID string, n int) bool {
	now := l.now()

	l.mu.Lock()
	e, exists := l.limiters[clientID]
	if !exists {
		// Check if we've exceeded max clients
		if len(l.limiters) >= l.maxClients {
			l.mu.Unlock()
			return false
		}
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[clientID] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	if l.global != nil && !l.global.AllowN(now, n) {
		return false
	}
	return e.limiter.AllowN(now, n)
}

// Remove removes a client's rate limiter.
func (l *Limiter) Remove(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, clientID)
}

// cleanup removes limiters that have been idle for a whole interval.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-cleanupInterval)
	for k, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
		}
	}

	// Schedule next cleanup
	l.cleanupTimer = time.AfterFunc(cleanupInterval, l.cleanup)
}

// Stats returns the number of tracked clients.
func (l *Limiter) Stats() (clients int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Close stops the cleanup timer.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cleanupTimer != nil {
		l.cleanupTimer.Stop()
	}
}
