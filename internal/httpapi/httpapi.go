// Package httpapi is the read-only REST surface: a plain chi router, a
// small middleware stack, and one handler per route registered under
// /api/v1. It never touches core locks directly — every handler goes
// through candle.Store's snapshot-returning query methods.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
	"tokenfan/internal/wire"
)

// Stats is a process-wide telemetry snapshot: a small set of counters
// initialized at startup and exposed at /api/v1/stats.
type Stats struct {
	TradesProcessed func() int64
	ActiveSessions  func() int
	BusDrops        func() int64
	LateTradeDrops  func() int64
}

// Server is the httpapi router plus everything it needs to answer
// requests: the candle store it reads and the stats it reports.
type Server struct {
	store     *candle.Store
	tokens    []string
	stats     Stats
	logger    *zap.Logger
	startedAt time.Time
	router    chi.Router
}

// New builds the router and registers every route. store is read-only from
// this package's point of view. tokens is the configured symbol list, in
// the order the /tokens response should list them.
func New(store *candle.Store, tokens []string, stats Stats, logger *zap.Logger) *Server {
	s := &Server{
		store:     store,
		tokens:    append([]string(nil), tokens...),
		stats:     stats,
		logger:    logger.Named("httpapi"),
		startedAt: time.Now(),
	}
	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the http.Handler to mount on the main server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(middleware.SetHeader("Access-Control-Allow-Origin", "*"))
	s.router.Use(middleware.SetHeader("Access-Control-Allow-Methods", "GET, OPTIONS"))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/klines", s.handleKlines)
		r.Get("/klines/latest", s.handleKlinesLatest)
		r.Get("/klines/current", s.handleKlinesCurrent)
		r.Get("/tokens", s.handleTokens)
		r.Get("/stats", s.handleStats)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseQuery extracts the mandatory token/interval query parameters, or
// writes a 400 response and reports failure to the caller.
func (s *Server) parseQuery(w http.ResponseWriter, r *http.Request) (token string, interval calendar.Interval, ok bool) {
	token = r.URL.Query().Get("token")
	if token == "" {
		s.writeError(w, http.StatusBadRequest, "missing required query parameter: token")
		return "", "", false
	}
	name := r.URL.Query().Get("interval")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "missing required query parameter: interval")
		return "", "", false
	}
	iv, err := calendar.Parse(name)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return token, iv, true
}

const defaultKlineLimit = 100

func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	token, interval, ok := s.parseQuery(w, r)
	if !ok {
		return
	}

	limit := defaultKlineLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	candles, err := s.store.QueryHistory(token, interval, limit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make([]wire.Candle, len(candles))
	for i, c := range candles {
		out[i] = wire.FromCandle(c)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":    token,
		"interval": interval.String(),
		"data":     out,
	})
}

func (s *Server) handleKlinesLatest(w http.ResponseWriter, r *http.Request) {
	token, interval, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	c, found, err := s.store.QueryLatestClosed(token, interval)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "no closed candle yet for this token/interval")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":    token,
		"interval": interval.String(),
		"data":     wire.FromCandle(c),
	})
}

func (s *Server) handleKlinesCurrent(w http.ResponseWriter, r *http.Request) {
	token, interval, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	c, found, err := s.store.QueryCurrent(token, interval)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "no open candle yet for this token/interval")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":    token,
		"interval": interval.String(),
		"data":     wire.FromCandle(c),
		"is_open":  true,
	})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": s.tokens,
		"count":  len(s.tokens),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades_processed": s.stats.TradesProcessed(),
		"active_sessions":  s.stats.ActiveSessions(),
		"bus_drops":        s.stats.BusDrops(),
		"late_trade_drops": s.stats.LateTradeDrops(),
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "tokenfan",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	})
}
