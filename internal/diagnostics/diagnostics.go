// Package diagnostics exposes a small local HTTP server for liveness
// probes, Prometheus scraping, and operator inspection of the LoRa cache.
package diagnostics

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dynamicdevices/uwb-bridge/internal/loracache"
	"github.com/dynamicdevices/uwb-bridge/internal/metrics"
	"github.com/dynamicdevices/uwb-bridge/internal/resilience"
	"github.com/dynamicdevices/uwb-bridge/pkg/log"
)

// Server is the diagnostics HTTP server. It never participates in the
// ingestion or publish path; a failure here never affects the bridge.
type Server struct {
	health  *resilience.Health
	metrics *metrics.Registry
	cache   *loracache.Cache
	http    http.Server
}

func New(addr string, health *resilience.Health, reg *metrics.Registry, cache *loracache.Cache) *Server {
	s := &Server{health: health, metrics: reg, cache: cache}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	r.HandleFunc("/debug/cache", s.handleDebugCache)

	handler := handlers.CustomLoggingHandler(log.InfoWriter, r, func(w io.Writer, params handlers.LogFormatterParams) {
		log.Finfof(w, "%s %s (Response: %d, Size: %d)", params.Request.Method, params.URL.RequestURI(), params.StatusCode, params.Size)
	})

	s.http = http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

func (s *Server) Close() error {
	return s.http.Close()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	doc := s.health.Snapshot(time.Now())
	w.Header().Set("Content-Type", "application/json")
	if doc.Status == resilience.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(doc)
}

func (s *Server) handleDebugCache(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	snapshot := s.cache.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"stats":   stats,
		"entries": snapshot,
	})
}
