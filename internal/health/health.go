// Package health serves liveness and readiness probes.
//
//   - /healthz reports that the process is up, with its uptime.
//   - /readyz reports 200 only while every registered [Checker] passes;
//     for the relay that means it holds an open connection to its endpoint.
//
// Responses are JSON objects with a "status" field ("ok" or "fail") and, for
// readiness, a "checks" map with one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. Safe for concurrent use.
type Handler struct {
	started time.Time

	mu       sync.RWMutex
	checkers []Checker
}

// New creates a Handler with the given checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{
		started:  time.Now(),
		checkers: append([]Checker(nil), checkers...),
	}
}

// Add registers another checker. Components created after the HTTP server
// register themselves here.
func (h *Handler) Add(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// Healthz always answers 200 while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{
		Status: "ok",
		Uptime: time.Since(h.started).Truncate(time.Second).String(),
	})
}

// Readyz runs every checker concurrently, each under [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	outcomes := make([]string, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if err := c.Check(ctx); err != nil {
				outcomes[i] = "fail: " + err.Error()
				return err
			}
			outcomes[i] = "ok"
			return nil
		})
	}
	failed := g.Wait() != nil

	res := result{Status: "ok", Checks: make(map[string]string, len(checkers))}
	for i, c := range checkers {
		res.Checks[c.Name] = outcomes[i]
	}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Names returns the registered checker names, sorted.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.checkers))
	for i, c := range h.checkers {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
