// Package api serves the operational HTTP surface: health and readiness
// probes, Prometheus metrics, pipeline statistics, connector status, and
// synchronous event submission.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/bus"
	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/event"
	"github.com/lvonguyen/sentinelsoc/internal/scheduler"
)

// Pipeline is the slice of the analysis stage the API needs.
type Pipeline interface {
	Process(ctx context.Context, ev event.Event) (event.Analysis, error)
	SummarizeIncident(ctx context.Context, inc event.Incident) (event.Summary, error)
}

// StatusSource reports per-connector collection state.
type StatusSource interface {
	Statuses() map[string]scheduler.Status
}

// BusInfo is the slice of the bus the API needs for readiness and stats.
type BusInfo interface {
	Ping(ctx context.Context) error
	Stats() bus.Stats
}

// Server is the operational HTTP server.
type Server struct {
	cfg      config.ServerConfig
	version  string
	pipeline Pipeline
	statuses StatusSource
	busInfo  BusInfo
	logger   *zap.Logger
	http     *http.Server
}

// New builds the server and its routes. The Redis client is used only for
// request rate limiting and may be nil.
func New(cfg config.ServerConfig, version string, pipeline Pipeline, statuses StatusSource, busInfo BusInfo, redisClient *redis.Client, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		version:  version,
		pipeline: pipeline,
		statuses: statuses,
		busInfo:  busInfo,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.WriteTimeout))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	limiter := newRateLimiter(redisClient, cfg.RateLimitPerMinute, s.logger)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/connectors", s.handleConnectors)
		r.Get("/connectors/{name}", s.handleConnectorStatus)

		r.Group(func(r chi.Router) {
			r.Use(limiter.middleware)
			r.Post("/events", s.handleSubmitEvent)
			r.Post("/incidents/summarize", s.handleSummarizeIncident)
		})
	})

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api server listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": s.version,
	})
}

// handleReady reports ready only when the bus is reachable; the pipeline
// cannot make progress without it.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.busInfo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.busInfo.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"bus": map[string]int64{
			"published": stats.Published,
			"consumed":  stats.Consumed,
			"nacked":    stats.Nacked,
		},
		"connectors": s.statuses.Statuses(),
	})
}

func (s *Server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statuses.Statuses())
}

func (s *Server) handleConnectorStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, ok := s.statuses.Statuses()[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connector not found"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSubmitEvent analyzes a directly submitted canonical event through
// the same path consumed events take, returning the analysis synchronously.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	result, err := s.pipeline.Process(r.Context(), ev)
	if err != nil {
		s.logger.Error("submitted event processing failed",
			zap.String("event_id", ev.ID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"event_id": ev.ID,
		"analysis": result,
	})
}

func (s *Server) handleSummarizeIncident(w http.ResponseWriter, r *http.Request) {
	var inc event.Incident
	if err := json.NewDecoder(r.Body).Decode(&inc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid incident payload"})
		return
	}
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}

	summary, err := s.pipeline.SummarizeIncident(r.Context(), inc)
	if err != nil {
		s.logger.Error("incident summarization failed",
			zap.String("incident_id", inc.ID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"incident_id": inc.ID,
		"summary":     summary,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
