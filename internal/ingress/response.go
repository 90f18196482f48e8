package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/apierr"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// statusFromError maps an apierr.Kind to the REST status code spec.md §7
// names for it: Validation is a 4xx the caller can fix, ContentionTimeout
// is a 503 ("try again shortly"), everything else (Transient,
// LLMContractViolation — the latter should never actually surface here,
// since every sub-flow recovers it locally) is a 500.
func statusFromError(err error) int {
	switch apierr.KindOf(err) {
	case apierr.Validation:
		return http.StatusBadRequest
	case apierr.ContentionTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
