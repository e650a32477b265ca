// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health provides health check and readiness endpoints for the
// gateway's operator surface.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const probeTimeout = 5 * time.Second

// Check represents a single health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Critical    bool          `json:"critical"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) error

type registered struct {
	fn       CheckFunc
	critical bool
}

// Checker manages health checks.
type Checker struct {
	mu       sync.Mutex
	checks   map[string]registered
	cache    map[string]*Check
	ttl      time.Duration
	draining atomic.Bool
}

// NewChecker creates a new health checker.
func NewChecker(cacheTTL time.Duration) *Checker {
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Second
	}
	return &Checker{
		checks: make(map[string]registered),
		cache:  make(map[string]*Check),
		ttl:    cacheTTL,
	}
}

// Register adds a health check. A failing check degrades the service.
func (c *Checker) Register(name string, check CheckFunc) {
	c.register(name, check, false)
}

// RegisterCritical adds a health check whose failure makes the service
// unhealthy.
func (c *Checker) RegisterCritical(name string, check CheckFunc) {
	c.register(name, check, true)
}

func (c *Checker) register(name string, check CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{fn: check, critical: critical}
	delete(c.cache, name)
}

// Drain marks the service as shutting down. Readiness fails from now on.
func (c *Checker) Drain() {
	c.draining.Store(true)
}

// Health returns the overall health status.
func (c *Checker) Health(ctx context.Context) (Status, []Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	checks := make([]Check, 0, len(c.checks))
	overallStatus := StatusHealthy

	for name, r := range c.checks {
		check, ok := c.cache[name]
		if !ok || time.Since(check.LastChecked) >= c.ttl {
			check = run(ctx, name, r)
			c.cache[name] = check
		}
		checks = append(checks, *check)

		if check.Status == StatusHealthy {
			continue
		}
		if check.Critical {
			overallStatus = StatusUnhealthy
		} else if overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return overallStatus, checks
}

func run(ctx context.Context, name string, r registered) *Check {
	start := time.Now()
	err := r.fn(ctx)

	check := &Check{
		Name:        name,
		Status:      StatusHealthy,
		Critical:    r.critical,
		LastChecked: time.Now(),
		Duration:    time.Since(start),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// HTTPHandler returns an HTTP handler for health checks. A degraded service
// still answers 200.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		status, checks := c.Health(ctx)

		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status": status,
			"checks": checks,
		})
	}
}

// LivenessHandler returns a simple liveness probe.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessHandler returns a readiness probe handler.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.draining.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": StatusUnhealthy,
				"reason": "draining",
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		status, checks := c.Health(ctx)

		code := http.StatusOK
		if status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status": status,
			"checks": checks,
		})
	}
}

// Mux returns a mux serving /health, /ready and /live.
func (c *Checker) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.HTTPHandler())
	mux.HandleFunc("/ready", c.ReadinessHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}

// GoroutineCheck fails when more than max goroutines are running.
func GoroutineCheck(max int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > max {
			return fmt.Errorf("%d goroutines running, limit %d", n, max)
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
