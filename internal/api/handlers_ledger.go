package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/ledger"
)

const actionSchema = `{
	"type": "object",
	"required": ["identity", "action"],
	"properties": {
		"identity": {"type": "string", "minLength": 1, "maxLength": 256},
		"action":   {"type": "string", "minLength": 1, "maxLength": 128},
		"details":  {"type": "object"},
		"session_id": {"type": "string", "maxLength": 128}
	},
	"additionalProperties": false
}`

var actionSchemaLoader = gojsonschema.NewStringLoader(actionSchema)

type actionRequest struct {
	Identity  string                 `json:"identity"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details"`
	SessionID string                 `json:"session_id"`
}

func (s *Server) handleLogAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	result, err := gojsonschema.Validate(actionSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !result.Valid() {
		s.respondError(w, http.StatusBadRequest, result.Errors()[0].String())
		return
	}

	var req actionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	entry := s.ledger.LogAction(r.Context(), req.Identity, req.Action, req.Details, ledger.Source{
		Origin:    r.RemoteAddr,
		Agent:     r.UserAgent(),
		SessionID: req.SessionID,
	})
	s.respond(w, http.StatusCreated, entry)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"identity": identity,
		"entries":  s.ledger.AuditLog(r.Context(), identity, limit),
	})
}

type reportRequest struct {
	Regulation string    `json:"regulation"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Regulation == "" {
		s.respondError(w, http.StatusBadRequest, "regulation, start and end required")
		return
	}

	report, err := s.ledger.GenerateComplianceReport(r.Context(), req.Regulation, req.Start, req.End)
	if err != nil {
		s.logger.Warn("report generation failed", zap.String("regulation", req.Regulation), zap.Error(err))
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respond(w, http.StatusOK, report)
}

func (s *Server) handleDeletionRequest(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		s.respondError(w, http.StatusBadRequest, "identity required")
		return
	}

	ticket, err := s.ledger.HandleDataDeletionRequest(r.Context(), req.Identity, ledger.Source{
		Origin: r.RemoteAddr,
		Agent:  r.UserAgent(),
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "could not open ticket")
		return
	}
	s.respond(w, http.StatusAccepted, ticket)
}

func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		s.respondError(w, http.StatusBadRequest, "identity required")
		return
	}

	ticket, err := s.ledger.HandleDataAccessRequest(r.Context(), req.Identity, ledger.Source{
		Origin: r.RemoteAddr,
		Agent:  r.UserAgent(),
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "could not open ticket")
		return
	}

	export, err := s.ledger.ExportData(r.Context(), req.Identity)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.json.gz"`)
	w.Header().Set("X-Ticket-Id", ticket.ID.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(export); err != nil {
		s.logger.Error("failed to write export", zap.Error(err))
	}
}
