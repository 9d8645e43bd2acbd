// Package api exposes the control plane over HTTP: guard decisions,
// health snapshots, audit access, compliance reports, and privacy
// requests.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/config"
	"github.com/FairForge/warden/internal/guard"
	"github.com/FairForge/warden/internal/health"
	"github.com/FairForge/warden/internal/ledger"
	"github.com/FairForge/warden/internal/store"
)

type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	router   chi.Router
	guard    *guard.Guard
	monitor  *health.Monitor
	ledger   *ledger.Ledger
	store    store.Store
	metrics  *Metrics
	smoother *burstSmoother

	httpServer *http.Server
	startTime  time.Time
}

func NewServer(cfg *config.Config, logger *zap.Logger, g *guard.Guard, m *health.Monitor, l *ledger.Ledger, s store.Store) *Server {
	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		guard:     g,
		monitor:   m,
		ledger:    l,
		store:     s,
		metrics:   NewMetrics(),
		smoother:  newBurstSmoother(),
		startTime: time.Now(),
	}

	srv.setupRoutes()

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.smootherMiddleware)

	s.router.Get("/health", s.handleLiveness)
	s.router.Get("/ready", s.handleReadiness)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/guard/validate", s.handleValidate)
		r.Post("/guard/ratelimit", s.handleRateLimit)

		r.Post("/actions", s.handleLogAction)
		r.Get("/audit/{identity}", s.handleAuditLog)

		r.Get("/health", s.handleHealthSnapshot)
		r.Get("/health/history", s.handleHealthHistory)
		r.Get("/alerts", s.handleAlerts)

		r.Post("/privacy/deletion", s.handleDeletionRequest)
		r.Post("/privacy/access", s.handleAccessRequest)

		r.Group(func(admin chi.Router) {
			admin.Use(s.adminMiddleware)
			admin.Post("/guard/ban", s.handleBan)
			admin.Post("/guard/unban", s.handleUnban)
			admin.Post("/alerts/{id}/ack", s.handleAcknowledgeAlert)
			admin.Post("/compliance/reports", s.handleComplianceReport)
		})
	})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// MetricsSource exposes the request counters to the health monitor.
func (s *Server) MetricsSource() health.MetricsSource {
	return s.metrics.Source
}

func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.Int("port", s.cfg.Server.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respond(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"reason": "shared store unreachable",
		})
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, map[string]string{"error": message})
}
