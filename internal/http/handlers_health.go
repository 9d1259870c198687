package httpx

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Phase  string `json:"phase"`
}

// healthHandler reports liveness together with the session phase. It stays
// 200 while bootstrapping; the phase tells readiness probes when loading ended.
func healthHandler(sessions SessionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			return
		}
		WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Phase: string(sessions.Snapshot().Phase())})
	}
}
