package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleHealthSnapshot serves the latest snapshot; with no history yet
// it runs one check inline.
func (s *Server) handleHealthSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.monitor.Latest()
	if !ok {
		snapshot = s.monitor.PerformHealthCheck(r.Context())
	}
	s.respond(w, http.StatusOK, snapshot)
}

func (s *Server) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"hours":     hours,
		"snapshots": s.monitor.History(hours),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{
		"alerts": s.monitor.ActiveAlerts(),
	})
}

type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AcknowledgedBy == "" {
		s.respondError(w, http.StatusBadRequest, "acknowledged_by required")
		return
	}

	alert, err := s.monitor.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id"), req.AcknowledgedBy)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	s.respond(w, http.StatusOK, alert)
}
