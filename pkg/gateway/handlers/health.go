package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck probes one dependency. A nil error means ready.
type ReadyCheck func(ctx context.Context) error

// ReadyHandler reports whether the process should receive new interviews.
// A draining process is never ready; otherwise every check must pass.
type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Checks    map[string]ReadyCheck
	Timeout   time.Duration
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool              `json:"ok"`
		Draining      bool              `json:"draining,omitempty"`
		DrainingSince *time.Time        `json:"draining_since,omitempty"`
		Checks        map[string]string `json:"checks,omitempty"`
	}

	if since, ok := h.Lifecycle.DrainingSince(); ok {
		writeJSON(w, http.StatusServiceUnavailable, readyResp{Draining: true, DrainingSince: &since})
		return
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	results := make(map[string]string, len(names))
	for _, name := range names {
		check := h.Checks[name]
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			ok = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{OK: ok, Checks: results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
