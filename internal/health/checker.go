package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Checker aggregates dependency probes and the upstream breaker for /readyz.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	breaker *Breaker
	timeout time.Duration
}

func NewChecker(breaker *Breaker, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		checks:  make(map[string]CheckFunc),
		breaker: breaker,
		timeout: timeout,
	}
}

// Register adds a named probe (e.g. "postgres", "redis").
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

type componentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readyResponse struct {
	Status     string                     `json:"status"`
	Upstream   *Snapshot                  `json:"upstream,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// Ready runs every probe and reports whether all of them passed. An open
// upstream breaker degrades the result but does not fail readiness.
func (c *Checker) Ready(ctx context.Context) (bool, readyResponse) {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()
	sort.Strings(names)

	resp := readyResponse{Status: "ok"}
	ok := true

	if len(names) > 0 {
		resp.Components = make(map[string]componentStatus, len(names))
	}
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := checks[name](cctx)
		cancel()
		if err != nil {
			ok = false
			resp.Components[name] = componentStatus{Status: "down", Error: err.Error()}
			slog.Warn("readiness check failed", "component", name, "error", err)
			continue
		}
		resp.Components[name] = componentStatus{Status: "up"}
	}

	if c.breaker != nil {
		snap := c.breaker.Snapshot()
		resp.Upstream = &snap
		if snap.State != StateClosed.String() && ok {
			resp.Status = "degraded"
		}
	}
	if !ok {
		resp.Status = "unavailable"
	}
	return ok, resp
}

// LiveHandler serves GET /healthz.
func LiveHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ReadyHandler serves GET /readyz.
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ok, resp := c.Ready(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}
