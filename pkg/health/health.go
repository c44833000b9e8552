// Package health exposes liveness and readiness probes over HTTP.
//
// Registered checks are evaluated periodically by a single background
// scheduler. A check flips to unhealthy only after failing several runs in a
// row and recovers on the first success, so a transient blip does not bounce
// the service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Thresholds applied to every check.
const (
	failAfter = 3 // consecutive failures before a check is marked unhealthy
	okAfter   = 1 // consecutive successes before it is marked healthy again
)

// Check reports on one dependency. A nil return means healthy.
type Check func(ctx context.Context) error

// probe is a registered check plus its sliding state. All fields behind mu
// are shared between the scheduler goroutine and the HTTP endpoints.
type probe struct {
	name    string
	timeout time.Duration
	check   Check

	mu      sync.Mutex
	ok      bool
	lastErr error
	fails   int
	streak  int
}

func newProbe(name string, timeout time.Duration, check Check) *probe {
	// Checks start healthy so a slow dependency at boot does not flap the
	// probe before the first evaluation completes.
	return &probe{name: name, timeout: timeout, check: check, ok: true}
}

func (p *probe) eval(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if err != nil {
		p.streak = 0
		p.fails++
		if p.fails >= failAfter {
			p.ok = false
		}
		return
	}
	p.fails = 0
	p.streak++
	if p.streak >= okAfter {
		p.ok = true
	}
}

// status returns the probe's health flag and the error from its latest run.
func (p *probe) status() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ok, p.lastErr
}

// Health aggregates liveness and readiness probes for one service.
type Health struct {
	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	ready     bool
	cancel    context.CancelFunc
}

// New returns a Health with no checks registered. The service reports
// not-ready until SetReady(true) is called.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process itself
// is still functioning (goroutine leaks, GC stalls).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a check that decides whether the service can
// accept traffic (database reachable, cache warmed).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start launches the background scheduler. Every interval it evaluates all
// registered checks, each bounded by its own timeout. Register checks before
// calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.liveness)+len(h.readiness))
	probes = append(probes, h.liveness...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	go func() {
		for _, p := range probes {
			p.eval(ctx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, p := range probes {
					p.eval(ctx)
				}
			}
		}
	}()
}

// Stop cancels the scheduler. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Call with true once startup
// finishes and with false at the beginning of graceful shutdown so load
// balancers drain the instance.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

// IsReady reports whether the manual gate is open and every readiness probe
// is passing.
func (h *Health) IsReady() bool {
	h.mu.Lock()
	ready := h.ready
	probes := h.readiness
	h.mu.Unlock()

	if !ready {
		return false
	}
	for _, p := range probes {
		if ok, _ := p.status(); !ok {
			return false
		}
	}
	return true
}

type probeReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves the liveness probe: 200 while all liveness checks pass,
// 503 with per-check errors otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	probes := append([]*probe(nil), h.liveness...)
	h.mu.Unlock()

	writeReport(w, failing(probes))
}

// ReadyEndpoint serves the readiness probe: 200 once SetReady(true) has been
// called and all readiness checks pass, 503 otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	ready := h.ready
	probes := append([]*probe(nil), h.readiness...)
	h.mu.Unlock()

	failures := failing(probes)
	if !ready {
		failures["_readiness"] = "service is not ready"
	}
	writeReport(w, failures)
}

func failing(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		ok, err := p.status()
		if ok {
			continue
		}
		if err != nil {
			failures[p.name] = err.Error()
		} else {
			failures[p.name] = "check is unhealthy"
		}
	}
	return failures
}

func writeReport(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	report := probeReport{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		report.Status = "unhealthy"
		report.Checks = failures
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
