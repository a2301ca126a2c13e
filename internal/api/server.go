// Package api exposes the supervisor's query and command surface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthgrid/hearthd/internal/monitoring"
	"github.com/hearthgrid/hearthd/internal/tuning"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// CycleSource provides closed-cycle diagnostics; the store implements it.
type CycleSource interface {
	RecentCycles(zone string, limit int) ([]tuning.CycleRecord, error)
}

// Server routes HTTP requests to the zone registry.
type Server struct {
	reg    *tuning.Registry
	cycles CycleSource
}

// NewServer builds the API server. cycles may be nil, disabling the
// diagnostics endpoint.
func NewServer(reg *tuning.Registry, cycles CycleSource) *Server {
	return &Server{reg: reg, cycles: cycles}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux wires up all routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/zones", s.listZones)
	mux.HandleFunc("GET /api/zones/{zone}/status", s.zoneStatus)
	mux.HandleFunc("GET /api/zones/{zone}/history", s.zoneHistory)
	mux.HandleFunc("GET /api/zones/{zone}/cycles", s.zoneCycles)
	mux.HandleFunc("POST /api/zones/{zone}/analyze", s.analyzeZone)
	mux.HandleFunc("POST /api/zones/{zone}/apply", s.applyZone)
	mux.HandleFunc("POST /api/zones/{zone}/rollback", s.rollbackZone)
	mux.HandleFunc("POST /api/zones/{zone}/reset", s.resetZone)
	mux.HandleFunc("POST /api/analyze", s.analyzeAll)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) zone(w http.ResponseWriter, r *http.Request) (*tuning.Supervisor, bool) {
	zone := r.PathValue("zone")
	sup, ok := s.reg.Get(zone)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown zone "+zone)
		return nil, false
	}
	return sup, true
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	var out []tuning.ZoneStatus
	for _, sup := range s.reg.All() {
		status := sup.Status()
		monitoring.Confidence.WithLabelValues(status.Zone).Set(float64(status.Confidence))
		out = append(out, status)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) zoneStatus(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.zone(w, r)
	if !ok {
		return
	}
	status := sup.Status()
	monitoring.Confidence.WithLabelValues(status.Zone).Set(float64(status.Confidence))
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) zoneHistory(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.zone(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sup.History())
}

func (s *Server) zoneCycles(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.zone(w, r)
	if !ok {
		return
	}
	if s.cycles == nil {
		writeError(w, http.StatusNotImplemented, "cycle diagnostics not available")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	records, err := s.cycles.RecentCycles(sup.Zone(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) analyzeZone(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.zone(w, r)
	if !ok {
		return
	}
	result := sup.TriggerAnalysis()
	if !result.Decision.Allowed {
		monitoring.GateDenialsTotal.WithLabelValues(sup.Zone(), string(result.Decision.Reason)).Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) analyzeAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.AnalyzeAll())
}

// applyRequest optionally carries an explicit parameter set; absent, the
// analysis candidate is committed.
type applyRequest struct {
	Params     *tuning.ParameterSet `json:"params,omitempty"`
	Validation bool                 `json:"validation,omitempty"`
}

func (s *Server) applyZone(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.zone(w, r)
	if !ok {
		return
	}
	var req applyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if err := sup.Apply(req.Params, req.Validation); err != nil {
		if errors.Is(err, tuning.ErrInvalidCandidate) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": sup.LiveParams()})
}

func (s *Server) rollbackZone(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.zone(w, r)
	if !ok {
		return
	}
	params, err := sup.Rollback()
	if err != nil {
		if errors.Is(err, tuning.ErrNoHistory) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reverted_to": params})
}

func (s *Server) resetZone(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.zone(w, r)
	if !ok {
		return
	}
	if err := sup.ResetToPhysics(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": sup.LiveParams()})
}
