// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/arinova/bridge/internal/registry"
)

// SessionLister is the subset of *registry.Registry the health handler
// needs to report live session count.
type SessionLister interface {
	ListSessions() []registry.Info
}

// HealthHandler serves GET /healthz: an unauthenticated liveness endpoint
// reporting process uptime and the number of currently live sessions.
type HealthHandler struct {
	reg     SessionLister
	started time.Time
}

// NewHealthHandler creates a HealthHandler. started is recorded once, at
// process startup.
func NewHealthHandler(reg SessionLister, started time.Time) *HealthHandler {
	return &HealthHandler{reg: reg, started: started}
}

type healthResponse struct {
	Status       string  `json:"status"`
	UptimeSecs   float64 `json:"uptime_seconds"`
	LiveSessions int     `json:"live_sessions"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	live := 0
	for _, info := range h.reg.ListSessions() {
		if info.Alive {
			live++
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		UptimeSecs:   time.Since(h.started).Seconds(),
		LiveSessions: live,
	})
}
