// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP surface: health and readiness
// probes, Prometheus metrics, run history, and the generated guide
// document.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/th0ma7/gracenote2epg/internal/config"
	"github.com/th0ma7/gracenote2epg/internal/log"
	"github.com/th0ma7/gracenote2epg/internal/pipeline"
	"github.com/th0ma7/gracenote2epg/internal/runlog"
)

// Server holds the HTTP surface's state. Run summaries arrive via
// SetSummary after each pipeline pass.
type Server struct {
	cfg        config.ServerConfig
	outputPath string
	version    string
	runs       *runlog.Store // nil disables /api/runs history

	last    atomic.Pointer[pipeline.Summary]
	ready   atomic.Bool
	trigger chan struct{}
	started time.Time
}

// New builds a server. runs may be nil when run history is not persisted.
func New(cfg config.ServerConfig, outputPath, version string, runs *runlog.Store) *Server {
	return &Server{
		cfg:        cfg,
		outputPath: outputPath,
		version:    version,
		runs:       runs,
		trigger:    make(chan struct{}, 1),
		started:    time.Now(),
	}
}

// SetSummary publishes the latest run result. The server reports ready
// once any run has produced data.
func (s *Server) SetSummary(sum *pipeline.Summary) {
	s.last.Store(sum)
	if sum.Status == pipeline.StatusOK || sum.Status == pipeline.StatusPartial {
		s.ready.Store(true)
	}
}

// TriggerC delivers manual refresh requests accepted on the API.
func (s *Server) TriggerC() <-chan struct{} { return s.trigger }

// Router assembles the route tree with the ingress middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(rateLimit(s.cfg.RateLimit, s.cfg.RateWindow))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/runs", s.handleRuns)
	r.Post("/api/refresh", s.handleRefresh)
	r.Get("/xmltv", s.handleXMLTV)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sum := s.last.Load()
	if sum == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "run history not configured", http.StatusNotFound)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("event", "runs.query_failed").
			Msg("run history query failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleRefresh requests an out-of-schedule run. Returns 202 when queued
// and 409 when a request is already pending.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	select {
	case s.trigger <- struct{}{}:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Info().
			Str("event", "refresh.requested").
			Msg("manual refresh queued")
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
	default:
		writeJSON(w, http.StatusConflict, map[string]any{"status": "already_pending"})
	}
}

// maxGuideSize bounds the in-memory read of the guide document.
const maxGuideSize = 100 * 1024 * 1024

func (s *Server) handleXMLTV(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	info, err := os.Stat(s.outputPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "guide not generated yet", http.StatusNotFound)
			return
		}
		logger.Error().Err(err).Str("event", "xmltv.stat_failed").Msg("guide file stat failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if info.Size() > maxGuideSize {
		logger.Warn().
			Int64("size", info.Size()).
			Str("event", "xmltv.too_large").
			Msg("guide file exceeds serve limit")
		http.Error(w, "guide file too large", http.StatusRequestEntityTooLarge)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	http.ServeFile(w, r, s.outputPath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
