// Package api provides the HTTP/WebSocket API for live analytics snapshots and backtest runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/internal/backtester"
	"github.com/atlas-desktop/alpha-engine/internal/dispatcher"
	"github.com/atlas-desktop/alpha-engine/internal/events"
	"github.com/atlas-desktop/alpha-engine/internal/feed"
	"github.com/atlas-desktop/alpha-engine/internal/sink"
	"github.com/atlas-desktop/alpha-engine/internal/strategy"
	"github.com/atlas-desktop/alpha-engine/internal/workers"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// Dependencies are the components the API serves. Backtester and Strategies are required;
// the rest are optional and their endpoints answer 503 when absent.
type Dependencies struct {
	Dispatcher *dispatcher.Dispatcher
	Store      *feed.Store
	Backtester *backtester.Engine
	Strategies *strategy.StrategyRegistry
	Pool       *workers.Pool
	Sink       sink.Sink
	Bus        *events.EventBus
	Gatherer   prometheus.Gatherer
}

// Server is the API server
type Server struct {
	logger     *zap.Logger
	config     types.ServerConfig
	deps       Dependencies
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	validate   *validator.Validate
	quality    *feed.QualityValidator
	started    time.Time

	runsMu   sync.RWMutex
	runs     map[string]*RunRecord
	runOrder []string

	hubCancel context.CancelFunc
}

// NewServer creates the API server and starts its WebSocket hub
func NewServer(logger *zap.Logger, config types.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Backtester == nil {
		return nil, errors.New("api: backtester is required")
	}
	if deps.Strategies == nil {
		return nil, errors.New("api: strategy registry is required")
	}
	if deps.Sink == nil {
		deps.Sink = sink.Nop{}
	}
	if config.WebSocketPath == "" {
		config.WebSocketPath = "/ws"
	}
	if config.MaxBacktestRuns <= 0 {
		config.MaxBacktestRuns = 1000
	}
	if config.BacktestTimeout <= 0 {
		config.BacktestTimeout = 2 * time.Minute
	}

	s := &Server{
		logger: logger.Named("api"),
		config: config,
		deps:   deps,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		validate: validator.New(),
		quality:  feed.NewQualityValidator(),
		started:  time.Now(),
		runs:     make(map[string]*RunRecord),
	}

	s.hub = NewHub(s.logger)
	ctx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel
	go s.hub.Run(ctx)
	if deps.Bus != nil {
		s.hub.Attach(deps.Bus)
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Live analytics
	api.HandleFunc("/symbols", s.handleGetSymbols).Methods("GET")
	api.HandleFunc("/snapshots", s.handleGetSnapshots).Methods("GET")
	api.HandleFunc("/snapshots/{symbol}", s.handleGetSnapshot).Methods("GET")

	// Stored tick data
	api.HandleFunc("/data/symbols", s.handleGetDataSymbols).Methods("GET")
	api.HandleFunc("/data/ticks/{symbol}", s.handleGetTicks).Methods("GET")
	api.HandleFunc("/data/quality/{symbol}", s.handleGetQuality).Methods("GET")

	// Backtesting
	api.HandleFunc("/strategies", s.handleGetStrategies).Methods("GET")
	api.HandleFunc("/backtest/run", s.handleRunBacktest).Methods("POST")
	api.HandleFunc("/backtest/walkforward", s.handleRunWalkForward).Methods("POST")
	api.HandleFunc("/backtest/montecarlo", s.handleRunMonteCarlo).Methods("POST")
	api.HandleFunc("/backtest/optimize", s.handleRunOptimize).Methods("POST")
	api.HandleFunc("/backtests", s.handleListBacktests).Methods("GET")
	api.HandleFunc("/backtest/{id}", s.handleGetBacktest).Methods("GET")
	api.HandleFunc("/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)

	if s.config.EnableMetrics && s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Router returns the HTTP router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router wrapped in the CORS policy
func (s *Server) Handler() http.Handler {
	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server and the WebSocket hub
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Detach()
	s.hubCancel()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
		"live":      s.deps.Dispatcher != nil,
	})
}

// handleStats returns dispatcher, event bus, worker pool and hub counters
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"wsClients": s.hub.ClientCount(),
	}
	if s.deps.Dispatcher != nil {
		stats["dispatcher"] = s.deps.Dispatcher.Stats()
	}
	if s.deps.Bus != nil {
		stats["eventBus"] = s.deps.Bus.GetStats()
	}
	if s.deps.Pool != nil {
		stats["workers"] = s.deps.Pool.Stats()
	}
	s.runsMu.RLock()
	stats["backtestRuns"] = len(s.runs)
	s.runsMu.RUnlock()

	writeJSON(w, http.StatusOK, stats)
}

// handleGetSymbols returns every symbol known to the live dispatcher or the tick store
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	if s.deps.Dispatcher != nil {
		for _, sym := range s.deps.Dispatcher.Symbols() {
			seen[sym] = true
		}
	}
	if s.deps.Store != nil {
		for _, sym := range s.deps.Store.Symbols() {
			seen[sym] = true
		}
	}

	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	writeJSON(w, http.StatusOK, symbols)
}

// handleGetSnapshots returns the latest snapshot of every live symbol
func (s *Server) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "live analytics not running")
		return
	}
	snaps := s.deps.Dispatcher.Snapshots()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

// handleGetSnapshot returns the latest snapshot of one symbol
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "live analytics not running")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	snap, ok := s.deps.Dispatcher.Snapshot(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no snapshot for %s", symbol))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetDataSymbols returns stored symbols with their coverage
func (s *Server) handleGetDataSymbols(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "tick store not configured")
		return
	}
	out := make([]feed.SymbolMetadata, 0)
	for _, sym := range s.deps.Store.Symbols() {
		if meta, err := s.deps.Store.Metadata(sym); err == nil {
			out = append(out, meta)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetTicks returns stored ticks for a symbol, optionally bounded by start/end in milliseconds
func (s *Server) handleGetTicks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "tick store not configured")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ticks, err := s.deps.Store.LoadTicks(r.Context(), symbol, start, end)
	if err != nil {
		if errors.Is(err, feed.ErrNoData) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"ticks":  ticks,
		"count":  len(ticks),
	})
}

// handleGetQuality runs the quality validator over a stored symbol
func (s *Server) handleGetQuality(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "tick store not configured")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	ticks, err := s.deps.Store.LoadTicks(r.Context(), symbol, 0, 0)
	if err != nil {
		if errors.Is(err, feed.ErrNoData) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.quality.Validate(symbol, ticks))
}

// handleGetStrategies lists the registered strategies and their parameters
func (s *Server) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Strategies.Describe())
}

func parseRange(r *http.Request) (start, end int64, err error) {
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		if start, err = strconv.ParseInt(v, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid start %q", v)
		}
	}
	if v := q.Get("end"); v != "" {
		if end, err = strconv.ParseInt(v, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid end %q", v)
		}
	}
	if end != 0 && end < start {
		return 0, 0, fmt.Errorf("end %d before start %d", end, start)
	}
	return start, end, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
