// Package metrics exposes Prometheus counters/gauges for the fan-out
// service on a dedicated HTTP server, kept separate from the main REST
// API and its own listen port.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds every Prometheus collector this service registers. The
// service updates only CandlesClosed (for candles closed by the sweep loop),
// MirrorPublished and MirrorFailures; the other collectors are registered
// and exported, but nothing in the service increments them.
type Metrics struct {
	TradesIngested  *prometheus.CounterVec
	TradesRejected  *prometheus.CounterVec
	CandlesClosed   *prometheus.CounterVec
	CandleFoldTime  *prometheus.HistogramVec
	ActiveSessions  prometheus.Gauge
	BusDrops        prometheus.Counter
	LateTradeDrops  prometheus.Counter
	MirrorPublished prometheus.Counter
	MirrorFailures  prometheus.Counter

	server *http.Server
	logger *zap.Logger
}

// New constructs and registers every collector against a private registry
// (not the global default), so repeated construction in tests never
// panics on duplicate registration.
func New(logger *zap.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		logger: logger.Named("metrics"),
		TradesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenfan_trades_ingested_total",
			Help: "Total number of trades accepted by the ingest path.",
		}, []string{"symbol"}),
		TradesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenfan_trades_rejected_total",
			Help: "Total number of trades rejected at ingest.",
		}, []string{"reason"}),
		CandlesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenfan_candles_closed_total",
			Help: "Total number of candles closed, by symbol and interval.",
		}, []string{"symbol", "interval"}),
		CandleFoldTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenfan_candle_fold_seconds",
			Help:    "Time spent folding one trade into the candle store.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}, []string{"symbol"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tokenfan_active_sessions",
			Help: "Number of currently connected WebSocket sessions.",
		}),
		BusDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokenfan_bus_drops_total",
			Help: "Total events dropped by the broadcast bus due to a full subscriber queue.",
		}),
		LateTradeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokenfan_late_trade_drops_total",
			Help: "Total trades silently dropped for arriving behind an already-closed window.",
		}),
		MirrorPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokenfan_mirror_published_total",
			Help: "Total candle updates successfully published to the Redis mirror.",
		}),
		MirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokenfan_mirror_publish_failures_total",
			Help: "Total Redis mirror publish attempts that failed.",
		}),
	}

	registry.MustRegister(
		m.TradesIngested, m.TradesRejected, m.CandlesClosed, m.CandleFoldTime,
		m.ActiveSessions, m.BusDrops, m.LateTradeDrops, m.MirrorPublished, m.MirrorFailures,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Handler: mux}
	return m
}

// Start listens on addr (e.g. ":9090") and serves /metrics until Stop.
func (m *Metrics) Start(addr string) error {
	m.server.Addr = addr
	m.logger.Info("starting metrics server", zap.String("addr", addr))
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the metrics server down.
func (m *Metrics) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.server.Shutdown(shutdownCtx)
}
