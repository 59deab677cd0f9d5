package handlers

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the store ping of a readiness check.
const readyTimeout = 2 * time.Second

// Healthz is a liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether the controller can serve workflow traffic: the
// store answers within readyTimeout and a default engine variant is
// registered to run initiations and recovered work.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log(r).Warn("readiness: store ping failed", "error", err)
		h.httpError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	if _, err := h.engines.Resolve(""); err != nil {
		h.log(r).Warn("readiness: no default engine", "error", err)
		h.httpError(w, "No default engine registered", http.StatusServiceUnavailable)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
}
