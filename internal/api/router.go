package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the chi router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.accessLogMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/dead-letters", s.handleDeadLetters)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "no such endpoint")
	})

	return r
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// handleHealth reports 200 only while the broker session is Ready and the
// database answers. InfluxDB is reported but never fails the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	healthy := true
	checks := map[string]string{}

	if state := s.session.State(); state == session.Ready {
		checks["broker"] = "ok"
	} else {
		checks["broker"] = state.String()
		healthy = false
	}

	if err := s.db.HealthCheck(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if s.influx != nil {
		if err := s.influx.HealthCheck(ctx); err != nil {
			checks["influxdb"] = err.Error()
		} else {
			checks["influxdb"] = "ok"
		}
	}

	resp := HealthResponse{Status: "ok", Version: s.version, Checks: checks}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
