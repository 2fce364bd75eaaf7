package api

import "net/http"

// health is the liveness probe.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports 503 while the LLM backend is unavailable, so
// orchestrators keep traffic away until the probe recovers.
func readiness(b Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.Available(r.Context()) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"backend": b.Name(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ready",
			"backend": b.Name(),
		})
	}
}
