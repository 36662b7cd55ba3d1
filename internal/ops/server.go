// Package ops is the read-mostly operational surface: health and status
// endpoints, blocklist inspection with manual unblock, live session
// views, Prometheus metrics, and a WebSocket event feed.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/security"
)

// Server wires the HTTP surface over a running pipeline manager.
type Server struct {
	log     zerolog.Logger
	mgr     *security.Manager
	stream  *Stream
	srv     *http.Server
	router  *mux.Router
	started atomic.Bool
}

// NewServer builds the router. The gatherer serves /metrics; pass the
// registry the pipeline metrics were created against.
func NewServer(cfg config.OpsConfig, mgr *security.Manager, bus *events.Bus, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{
		log:    log.With().Str("component", "ops").Logger(),
		mgr:    mgr,
		stream: NewStream(bus, log),
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/blocklist", s.handleBlocklist).Methods("GET")
	r.HandleFunc("/blocklist/{ip}", s.handleUnblock).Methods("DELETE")
	r.HandleFunc("/sessions", s.handleSessions).Methods("GET")
	r.HandleFunc("/verifications", s.handleVerifications).Methods("GET")
	r.HandleFunc("/events", s.stream.HandleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router = r
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the event hub and the listener. Returns immediately;
// listen errors other than a clean shutdown are logged.
func (s *Server) Start() {
	s.started.Store(true)
	go s.stream.Run()
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("ops server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("ops server failed")
		}
	}()
}

// Stop drains the listener and closes the event hub. A no-op when the
// server was never started.
func (s *Server) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.stream.Stop()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.mgr.Status())
}

func (s *Server) handleBlocklist(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.mgr.BlockedEntries())
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	if !s.mgr.Unblock(ip) {
		http.Error(w, "not blocked", http.StatusNotFound)
		return
	}
	s.log.Info().Str("ip", ip).Msg("manually unblocked")
	writeJSON(w, map[string]string{"unblocked": ip})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.mgr.Sessions())
}

func (s *Server) handleVerifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.mgr.Verifications())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
