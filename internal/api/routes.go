package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

type statsResponse struct {
	Summary  any   `json:"summary"`
	InFlight int64 `json:"in_flight"`
	Shared   int64 `json:"shared"`
	Canceled bool  `json:"canceled"`
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Summary: s.stats.Summary()}
	if s.controller != nil {
		resp.InFlight = s.controller.InFlight()
		resp.Shared = s.controller.Shared()
		resp.Canceled = s.controller.IsCanceled()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleHosts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Hosts())
}

// handleCancel stops admission of new checks; checks in flight finish.
func (s *APIServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no run in progress"})
		return
	}
	s.controller.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]bool{"canceled": true})
}
