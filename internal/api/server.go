// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/atlas-desktop/trading-core/internal/supervisor"
	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/pkg/corerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the out-of-core HTTP/WebSocket wrapper around the Trader
// Supervisor and Telemetry Bus.
type Server struct {
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	supervisor *supervisor.Supervisor
	bus        *telemetry.Bus
	registry   *prometheus.Registry
}

// NewServer constructs the API server and registers its routes.
func NewServer(logger *zap.Logger, config types.ServerConfig, sup *supervisor.Supervisor, bus *telemetry.Bus) *Server {
	s := &Server{
		logger:     logger.Named("api-server"),
		config:     config,
		router:     mux.NewRouter(),
		supervisor: sup,
		bus:        bus,
		hub:        NewHub(logger, bus),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if config.MetricsEnabled {
		s.registry = prometheus.NewRegistry()
		s.registerMetrics()
	}

	s.setupRoutes()
	return s
}

// registerMetrics wires gauge funcs that poll the Supervisor's fleet on
// every scrape; there is no separate metrics-update path to keep in sync.
func (s *Server) registerMetrics() {
	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "trading_core_fleet_size",
			Help: "Number of traders currently indexed in memory.",
		},
		func() float64 { return float64(s.supervisor.Count()) },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "trading_core_ws_clients",
			Help: "Number of connected WebSocket clients.",
		},
		func() float64 { return float64(s.hub.ClientCount()) },
	))
}

// Router exposes the underlying mux.Router for additional route
// registration by the process entrypoint.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/traders", s.handleListTraders).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/traders", s.handleCreateTrader).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/traders/{id}", s.handleGetTrader).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/traders/{id}", s.handleUpdateTrader).Methods(http.MethodPut)
	s.router.HandleFunc("/api/v1/traders/{id}", s.handleDeleteTrader).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/v1/traders/{id}/start", s.handleStartTrader).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/traders/{id}/stop", s.handleStopTrader).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/traders/{id}/metrics", s.handleTraderMetrics).Methods(http.MethodGet)

	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	if s.config.APIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != s.config.APIKey {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP on the configured address. Blocks until the
// server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(s.router))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"fleetSize":  s.supervisor.Count(),
		"wsClients":  s.hub.ClientCount(),
		"serverTime": types.Now(),
	})
}

func (s *Server) handleListTraders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"traders": s.supervisor.HealthAll()})
}

func (s *Server) handleCreateTrader(w http.ResponseWriter, r *http.Request) {
	var config types.TraderConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, corerr.Wrap(corerr.KindInvalidArgument, "invalid request body", err))
		return
	}

	id, err := s.supervisor.Create(r.Context(), config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleGetTrader(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	config, position, err := s.supervisor.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	health, err := s.supervisor.Health(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"config":   config,
		"health":   health,
		"position": position,
	})
}

func (s *Server) handleUpdateTrader(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var config types.TraderConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, corerr.Wrap(corerr.KindInvalidArgument, "invalid request body", err))
		return
	}

	if err := s.supervisor.Update(r.Context(), id, config); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "updated"})
}

func (s *Server) handleDeleteTrader(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.supervisor.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "deleted"})
}

func (s *Server) handleStartTrader(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.supervisor.Start(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "started"})
}

func (s *Server) handleStopTrader(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.supervisor.Stop(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "stopped"})
}

func (s *Server) handleTraderMetrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	metrics, err := s.supervisor.Metrics(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	channels := telemetry.Channels
	if q := r.URL.Query()["channel"]; len(q) > 0 {
		channels = toChannels(q)
	}
	s.hub.Serve(conn, channels)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]any{"error": err.Error()})
}

func httpStatus(err error) int {
	var ce *corerr.CoreError
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError
	}
	switch ce.Kind {
	case corerr.KindNotFound:
		return http.StatusNotFound
	case corerr.KindInvalidArgument, corerr.KindInvariantViolation:
		return http.StatusBadRequest
	case corerr.KindLimitExceeded, corerr.KindRiskRejected, corerr.KindBadState:
		return http.StatusConflict
	case corerr.KindTimeout:
		return http.StatusGatewayTimeout
	case corerr.KindUnavailable, corerr.KindEmergency:
		return http.StatusServiceUnavailable
	case corerr.KindAuthenticationFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
