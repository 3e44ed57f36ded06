package handlers

import (
	"net/http"
	"time"

	"donation-logistics-service/internal/platform/clock"
)

type HealthHandler struct {
	Clock clock.Clock
}

// Health provides a minimal liveness check endpoint. It reports the
// engine clock so operators can spot skew between replicas.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	res := map[string]string{
		"status": "ok",
		"time":   h.Clock.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, r, http.StatusOK, res)
}
