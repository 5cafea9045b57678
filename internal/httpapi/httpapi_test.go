package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := candle.NewStore(zap.NewNop(), []string{"DOGE"}, []calendar.Interval{calendar.Interval1m}, 1)
	_, err := store.ApplyTrade(candle.Trade{
		Symbol: "DOGE", Price: 0.15, Volume: 10,
		Timestamp: time.Date(2025, 5, 28, 4, 0, 31, 500_000_000, time.UTC),
		Side:      candle.Buy,
	})
	require.NoError(t, err)

	stats := Stats{
		TradesProcessed: func() int64 { return 1 },
		ActiveSessions:  func() int { return 0 },
		BusDrops:        func() int64 { return 0 },
		LateTradeDrops:  func() int64 { return 0 },
	}
	return New(store, []string{"DOGE"}, stats, zap.NewNop())
}

func TestHandleKlinesCurrentReturnsOpenCandle(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/klines/current?token=DOGE&interval=1m", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"is_open":true`)
}

func TestHandleKlinesLatestReturns404WhenNothingClosed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/klines/latest?token=DOGE&interval=1m", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleKlinesRejectsUnknownInterval(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/klines?token=DOGE&interval=3m", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "error")
}

func TestHandleKlinesRequiresTokenAndInterval(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/klines", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTokensListsConfiguredSymbols(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tokens", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "DOGE")
	require.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"trades_processed":1`)
}
