package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-phone/pkg/gateway/calls/registry"
	"github.com/vango-go/vai-phone/pkg/gateway/lifecycle"
)

const readyPingTimeout = 2 * time.Second

// HealthHandler reports liveness plus the number of calls in flight.
type HealthHandler struct {
	Registry  *registry.Registry
	Lifecycle *lifecycle.Lifecycle
	Now       func() time.Time
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type healthResp struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
		UptimeSeconds  int64  `json:"uptime_seconds"`
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	active := 0
	if h.Registry != nil {
		active = h.Registry.Count()
	}
	writeJSON(w, http.StatusOK, healthResp{
		Status:         "ok",
		ActiveSessions: active,
		UptimeSeconds:  int64(h.Lifecycle.Uptime(now()).Seconds()),
	})
}

// Pinger checks a backing dependency, typically the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Store     Pinger
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues,omitempty"`
	}

	var issues []string
	if h.Lifecycle.IsDraining() {
		issues = append(issues, "draining")
	}
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
		err := h.Store.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, "database unreachable")
		}
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{OK: ok, Issues: issues})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
