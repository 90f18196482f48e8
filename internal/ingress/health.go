package ingress

import "net/http"

// handleHealth mirrors main.py's /health: a static liveness probe with no
// backend checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "HLAS Insurance Chatbot",
	})
}

// handleReady is a [EXPANDED] addition absent from the Python original:
// readiness composed from Postgres and Redis connectivity, so an
// orchestrator can distinguish "process is up" from "process can actually
// serve a turn".
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	components := map[string]string{}
	ready := true

	if s.deps.PGPool != nil {
		if err := s.deps.PGPool.Ping(ctx); err != nil {
			components["postgres"] = "error: " + err.Error()
			ready = false
		} else {
			components["postgres"] = "ok"
		}
	}

	if s.deps.RedisClient != nil {
		if err := s.deps.RedisClient.Ping(ctx).Err(); err != nil {
			components["redis"] = "error: " + err.Error()
			ready = false
		} else {
			components["redis"] = "ok"
		}
	}

	status := http.StatusOK
	overall := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	respondJSON(w, status, map[string]any{"status": overall, "components": components})
}
