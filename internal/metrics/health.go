package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Pinger is a dependency that can be probed for liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type probe struct {
	target    Pinger
	ok        bool
	latencyMs float64
	lastErr   string
}

// HealthStatus records the liveness of named dependencies (redis, sqlite,
// upstream) for /healthz.
type HealthStatus struct {
	mu          sync.RWMutex
	probes      map[string]*probe
	lastCheckAt time.Time
	startedAt   time.Time
	now         func() time.Time
}

// NewHealthStatus returns a health status with no dependencies.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		probes:    make(map[string]*probe),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Register adds a dependency. It reports unhealthy until the first check.
func (h *HealthStatus) Register(name string, p Pinger) {
	h.mu.Lock()
	h.probes[name] = &probe{target: p}
	h.mu.Unlock()
}

// Check pings every dependency once and records latency and result.
func (h *HealthStatus) Check(ctx context.Context) {
	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	targets := make([]Pinger, 0, len(h.probes))
	for name, p := range h.probes {
		names = append(names, name)
		targets = append(targets, p.target)
	}
	h.mu.RUnlock()

	for i, name := range names {
		start := h.now()
		err := targets[i].Ping(ctx)
		latency := h.now().Sub(start)

		h.mu.Lock()
		if p, ok := h.probes[name]; ok {
			p.ok = err == nil
			p.latencyMs = float64(latency.Microseconds()) / 1000.0
			p.lastErr = ""
			if err != nil {
				p.lastErr = err.Error()
			}
		}
		h.lastCheckAt = h.now()
		h.mu.Unlock()
	}
}

// Healthy reports whether every registered dependency passed its last check.
func (h *HealthStatus) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.probes {
		if !p.ok {
			return false
		}
	}
	return true
}

// StartLivenessChecker checks once immediately, then every interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		check := func() {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			h.Check(probeCtx)
			cancel()
		}
		check()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

type dependencyStatus struct {
	Name      string  `json:"name"`
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	deps := make([]dependencyStatus, 0, len(h.probes))
	failing := 0
	for name, p := range h.probes {
		if !p.ok {
			failing++
		}
		deps = append(deps, dependencyStatus{Name: name, OK: p.ok, LatencyMs: p.latencyMs, Error: p.lastErr})
	}
	lastCheck := h.lastCheckAt
	uptime := h.now().Sub(h.startedAt).Round(time.Second)
	h.mu.RUnlock()

	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })

	overall := "healthy"
	code := http.StatusOK
	switch {
	case failing > 0 && failing == len(deps):
		overall = "unhealthy"
		code = http.StatusServiceUnavailable
	case failing > 0:
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	status := struct {
		Status       string             `json:"status"`
		Uptime       string             `json:"uptime"`
		LastCheckAt  string             `json:"last_check_at"`
		Dependencies []dependencyStatus `json:"dependencies"`
	}{
		Status:       overall,
		Uptime:       uptime.String(),
		LastCheckAt:  lastCheck.Format(time.RFC3339),
		Dependencies: deps,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
