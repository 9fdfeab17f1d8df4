// Package api implements the Status API: the read-only HTTP/WebSocket
// surface exposed to an external dashboard, plus the control endpoints
// that pause, resume, and emergency-stop the engine fleet. Routing,
// middleware, and the WebSocket upgrade path follow the teacher's
// gorilla/mux + rs/cors + gorilla/websocket shape; the endpoint set and
// payload shapes follow §6.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/benedict-anokye/forgetrade/internal/broker"
	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/engine"
	"github.com/benedict-anokye/forgetrade/internal/persistence"
	"github.com/benedict-anokye/forgetrade/internal/status"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the Status API's HTTP server. Backtest runs never construct
// one: §6 disables the Status API entirely for mode=backtest.
type Server struct {
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub

	projection *status.Projection
	manager    *engine.Manager
	store      *persistence.Store
	brk        broker.Broker
}

// NewServer constructs the Status API server bound to addr. It does not
// start listening; call Start for that.
func NewServer(logger *zap.Logger, addr string, projection *status.Projection, manager *engine.Manager, store *persistence.Store, brk broker.Broker) *Server {
	s := &Server{
		logger:     logger.Named("status-api"),
		router:     mux.NewRouter(),
		projection: projection,
		manager:    manager,
		store:      store,
		brk:        brk,
		hub:        newHub(logger),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.corsHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) corsHandler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}).Handler(s.router)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	s.router.HandleFunc("/signals/pending", s.handleSignalsPending).Methods(http.MethodGet)
	s.router.HandleFunc("/signals/history", s.handleSignalsHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/trades/closed", s.handleTradesClosed).Methods(http.MethodGet)
	s.router.HandleFunc("/strategy/insight", s.handleStrategyInsight).Methods(http.MethodGet)
	s.router.HandleFunc("/account", s.handleAccount).Methods(http.MethodGet)
	s.router.HandleFunc("/settings", s.handleSettingsGet).Methods(http.MethodGet)
	s.router.HandleFunc("/settings", s.handleSettingsPost).Methods(http.MethodPost)
	s.router.HandleFunc("/stream-settings", s.handleStreamSettingsGet).Methods(http.MethodGet)
	s.router.HandleFunc("/stream-settings", s.handleStreamSettingsPost).Methods(http.MethodPost)

	s.router.HandleFunc("/control/pause", s.handleControlPause).Methods(http.MethodPost)
	s.router.HandleFunc("/control/resume", s.handleControlResume).Methods(http.MethodPost)
	s.router.HandleFunc("/control/emergency-stop", s.handleEmergencyStop).Methods(http.MethodPost)
	s.router.HandleFunc("/control/stream/{name}/pause", s.handleStreamPause).Methods(http.MethodPost)
	s.router.HandleFunc("/control/stream/{name}/resume", s.handleStreamResume).Methods(http.MethodPost)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the hub and begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	go s.hub.run()
	s.logger.Info("status api listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.projection.Streams())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	trades, err := s.projection.Positions(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleSignalsPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.projection.PendingSignals())
}

func (s *Server) handleSignalsHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.projection.SignalHistory())
}

func (s *Server) handleTradesClosed(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	trades, err := s.projection.ClosedTrades(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleStrategyInsight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.projection.Insights())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.projection.Account())
}

// handleSettingsGet returns every stream's current configuration, the
// closest read-only analogue to a process-level settings document.
func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	names := s.manager.StreamNames()
	out := make([]types.StreamConfig, 0, len(names))
	for _, n := range names {
		if cfg, ok := s.manager.StreamConfig(n); ok {
			out = append(out, cfg)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSettingsPost acknowledges a process-level settings document
// without mutating per-stream configuration; per-stream mutation is the
// job of /stream-settings.
func (s *Server) handleSettingsPost(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleStreamSettingsGet(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.handleSettingsGet(w, r)
		return
	}
	cfg, ok := s.manager.StreamConfig(name)
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Sprintf("unknown stream %q", name))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleStreamSettingsPost(w http.ResponseWriter, r *http.Request) {
	var cfg types.StreamConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.manager.ApplySettings(cfg); err != nil {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
}

func (s *Server) handleControlPause(w http.ResponseWriter, r *http.Request) {
	s.manager.PauseAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleControlResume(w http.ResponseWriter, r *http.Request) {
	s.manager.ResumeAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// handleEmergencyStop stops every engine, then closes every open position
// each was shadowing through the broker directly, per §5's cancellation
// policy.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	closedCount := s.manager.EmergencyStop(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "emergency_stopped", "positions_closed": closedCount})
}

func (s *Server) handleStreamPause(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.manager.Pause(name); err != nil {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused", "stream": name})
}

func (s *Server) handleStreamResume(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.manager.Resume(name); err != nil {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed", "stream": name})
}
