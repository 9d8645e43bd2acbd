package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type identityRequest struct {
	Identity string `json:"identity"`
}

type rateLimitRequest struct {
	Identity    string `json:"identity"`
	ActionClass string `json:"action_class"`
}

type banRequest struct {
	Identity        string `json:"identity"`
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// handleValidate returns only a boolean: every internal failure has
// already collapsed to deny inside the guard.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		s.respondError(w, http.StatusBadRequest, "identity required")
		return
	}

	allowed := s.guard.ValidateCaller(r.Context(), req.Identity)
	if !allowed {
		s.metrics.GuardDenials.WithLabelValues("validate").Inc()
	}
	s.respond(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" || req.ActionClass == "" {
		s.respondError(w, http.StatusBadRequest, "identity and action_class required")
		return
	}

	limited := s.guard.CheckRateLimit(r.Context(), req.Identity, req.ActionClass)
	if limited {
		s.metrics.GuardDenials.WithLabelValues("rate_limit").Inc()
	}
	s.respond(w, http.StatusOK, map[string]bool{"limited": limited})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		s.respondError(w, http.StatusBadRequest, "identity required")
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	if err := s.guard.BanUser(r.Context(), req.Identity, req.Reason, duration); err != nil {
		s.respondError(w, http.StatusInternalServerError, "ban failed")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "banned"})
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		s.respondError(w, http.StatusBadRequest, "identity required")
		return
	}

	if err := s.guard.UnbanUser(r.Context(), req.Identity); err != nil {
		s.respondError(w, http.StatusInternalServerError, "unban failed")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "unbanned"})
}
