// Package api exposes the local admin surface of the sync core: manual sync
// triggers, queue statistics, retry/cleanup actions, health, and Prometheus
// metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"synckit/internal/authretry"
	"synckit/internal/breaker"
	"synckit/internal/config"
	"synckit/internal/connectivity"
	"synckit/internal/queue"
	"synckit/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type AdminServer struct {
	cfg          config.MonitoringConfig
	queue        *queue.Queue
	orchestrator *syncer.Orchestrator
	circuits     *breaker.Metrics
	coordinator  *authretry.Coordinator
	monitor      *connectivity.Monitor
	logger       *zerolog.Logger
	server       *http.Server
}

func NewAdminServer(cfg config.MonitoringConfig, q *queue.Queue, orchestrator *syncer.Orchestrator, circuits *breaker.Metrics, coordinator *authretry.Coordinator, monitor *connectivity.Monitor, logger *zerolog.Logger) *AdminServer {
	srv := &AdminServer{
		cfg:          cfg,
		queue:        q,
		orchestrator: orchestrator,
		circuits:     circuits,
		coordinator:  coordinator,
		monitor:      monitor,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/sync", srv.handleSync)
	mux.HandleFunc("/sync/retry", srv.handleRetry)
	mux.HandleFunc("/sync/cleanup", srv.handleCleanup)
	if cfg.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AdminPort),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *AdminServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("admin server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": s.monitor.IsOnline(),
	})
}

func (s *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load queue stats")
		return
	}

	byPriority := make(map[string]int, len(stats.ByPriority))
	for priority, count := range stats.ByPriority {
		byPriority[priority.String()] = count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_pending": stats.TotalPending,
		"by_priority":   byPriority,
		"expired_count": stats.ExpiredCount,
		"open_circuits": s.circuits.OpenCircuits(),
		"auth_state":    s.coordinator.State(),
		"parked":        s.coordinator.QueueDepth(),
		"online":        s.monitor.IsOnline(),
	})
}

func (s *AdminServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.orchestrator.TriggerSync()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sync requested"})
}

func (s *AdminServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.orchestrator.RetryFailedOperations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *AdminServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	days := 7
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "older_than_days must be a non-negative integer")
			return
		}
		days = parsed
	}

	removed, err := s.orchestrator.CleanupCompletedOperations(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *AdminServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("admin request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
