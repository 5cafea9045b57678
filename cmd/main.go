// Command tokenfan runs the meme-token candle fan-out service: it ingests
// a trade stream (the built-in synthetic generator by default), folds it
// into multi-interval OHLCV candles, and serves both a read-only REST API
// and a live WebSocket feed over the result.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tokenfan/internal/broadcast"
	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
	"tokenfan/internal/config"
	"tokenfan/internal/generator"
	"tokenfan/internal/httpapi"
	"tokenfan/internal/ingest"
	"tokenfan/internal/metrics"
	"tokenfan/internal/mirror"
	"tokenfan/internal/session"
	"tokenfan/internal/supervisor"
)

// Service is the top-level application: config and every long-lived
// component it wires together, following an
// initialize -> start -> waitForShutdown -> shutdown lifecycle.
type Service struct {
	config *config.Config
	logger *zap.Logger

	store      *candle.Store
	bus        *broadcast.Bus
	ingestPath *ingest.Path
	hub        *session.Hub
	httpAPI    *httpapi.Server
	metrics    *metrics.Metrics
	mirror     *mirror.Mirror
	supervisor *supervisor.Supervisor

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	fmt.Println("tokenfan: starting candle fan-out service")

	svc := &Service{}
	if err := svc.initialize(); err != nil {
		fmt.Printf("failed to initialize tokenfan: %v\n", err)
		os.Exit(1)
	}
	if err := svc.start(); err != nil {
		fmt.Printf("failed to start tokenfan: %v\n", err)
		os.Exit(1)
	}

	svc.waitForShutdown()

	if err := svc.shutdown(); err != nil {
		fmt.Printf("error during shutdown: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("tokenfan stopped gracefully")
}

func (s *Service) initialize() error {
	var err error
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger, err = newLogger("info")
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	s.logger.Info("initializing tokenfan")

	configPath := resolveConfigPath()
	loader := config.NewLoader()
	s.config, err = loader.LoadLayered(configPath, os.Getenv("APP_ENV"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if logger, err := newLogger(s.config.Logging.Level); err == nil {
		s.logger = logger
	} else {
		s.logger.Warn("invalid logging.level, keeping default", zap.Error(err))
	}
	s.logger.Info("configuration loaded",
		zap.String("path", configPath),
		zap.Int("tokens", len(s.config.Tokens.SupportedTokens)),
	)

	intervals := append([]calendar.Interval(nil), calendar.All...)
	s.store = candle.NewStore(s.logger, s.config.Tokens.Symbols(), intervals, s.config.Performance.KlineRetentionHours)
	s.bus = broadcast.NewBus(s.logger)
	s.ingestPath = ingest.New(s.store, s.bus, s.logger)

	s.hub = session.NewHub(
		s.bus,
		s.logger,
		time.Duration(s.config.Performance.WebSocketHeartbeatInterval)*time.Second,
		time.Duration(s.config.Performance.ClientTimeout)*time.Second,
		s.config.Performance.MaxWebSocketConnections,
	)

	s.httpAPI = httpapi.New(s.store, s.config.Tokens.Symbols(), httpapi.Stats{
		TradesProcessed: s.ingestPath.Processed,
		ActiveSessions:  s.hub.Count,
		BusDrops:        s.bus.TotalDropped,
		LateTradeDrops:  s.store.LateDrops,
	}, s.logger)

	if s.config.Monitoring.MetricsEnabled {
		s.metrics = metrics.New(s.logger)
	}

	if s.config.Mirror.Enabled {
		s.mirror, err = mirror.New(mirror.Config{
			Enabled:       true,
			RedisURL:      s.config.Mirror.RedisURL,
			ChannelPrefix: s.config.Mirror.ChannelPrefix,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("connect redis mirror: %w", err)
		}
		if s.metrics != nil {
			s.mirror.OnPublished(func(n int) { s.metrics.MirrorPublished.Add(float64(n)) })
			s.mirror.OnFailure(func() { s.metrics.MirrorFailures.Inc() })
		}
	}

	s.supervisor = supervisor.New(s.logger)
	s.logger.Info("core components initialized")
	return nil
}

// newLogger builds the process-wide structured logger at the given level,
// reading the level from configuration instead of hard-coding it.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	return cfg.Build()
}

func resolveConfigPath() string {
	if p := os.Getenv("TOKENFAN_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	execPath, _ := os.Executable()
	return filepath.Join(filepath.Dir(execPath), "config.yaml")
}

func (s *Service) start() error {
	s.logger.Info("starting tokenfan")

	mux := http.NewServeMux()
	mux.Handle("/", s.httpAPI.Handler())
	mux.Handle("/ws", s.hub)

	s.httpServer = &http.Server{
		Addr:    s.config.Addr(),
		Handler: mux,
	}
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.config.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	if s.metrics != nil {
		if err := s.metrics.Start(s.config.MetricsAddr()); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	if err := s.supervisor.AddWorker(supervisor.WorkerConfig{
		Name:           "sweep",
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2,
	}, s.runSweepLoop); err != nil {
		return fmt.Errorf("register sweep worker: %w", err)
	}

	if s.config.DataGeneration.Enabled {
		gen := s.buildGenerator()
		if err := s.supervisor.AddWorker(supervisor.WorkerConfig{
			Name:           "generator",
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2,
		}, gen.Run); err != nil {
			return fmt.Errorf("register generator worker: %w", err)
		}
	}

	if err := s.supervisor.Start(); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	s.printStartupSummary()
	return nil
}

func (s *Service) buildGenerator() *generator.Generator {
	profiles := make([]generator.TokenProfile, len(s.config.Tokens.SupportedTokens))
	for i, t := range s.config.Tokens.SupportedTokens {
		volatility := t.Volatility
		if volatility == 0 {
			volatility = s.config.DataGeneration.Volatility
		}
		profiles[i] = generator.TokenProfile{Symbol: t.Symbol, BasePrice: t.BasePrice, Volatility: volatility}
	}
	return generator.New(s.ingestPath, generator.Config{
		Tokens:     profiles,
		Interval:   time.Duration(s.config.DataGeneration.IntervalMs) * time.Millisecond,
		VolumeMin:  s.config.DataGeneration.VolumeRange.Min,
		VolumeMax:  s.config.DataGeneration.VolumeRange.Max,
	}, s.logger, time.Now().UnixNano())
}

// runSweepLoop periodically walks every (symbol, interval) pair to close
// candles the wall clock has moved past, emitting a CandleUpdate for each.
func (s *Service) runSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			updates := s.store.SweepClosures(time.Now().UTC())
			for _, u := range updates {
				s.bus.PublishCandle(u.Candle, u.Candle.Interval, u.IsTerminal)
				if s.metrics != nil && u.IsTerminal {
					s.metrics.CandlesClosed.WithLabelValues(u.Candle.Symbol, u.Candle.Interval.String()).Inc()
				}
				if s.mirror != nil {
					s.mirror.Publish(u.Candle, u.Candle.Interval, u.IsTerminal)
				}
			}
		}
	}
}

func (s *Service) printStartupSummary() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("tokenfan started")
	fmt.Printf("tokens: %v\n", s.config.Tokens.Symbols())
	fmt.Printf("http: http://%s  ws: ws://%s/ws\n", s.config.Addr(), s.config.Addr())
	fmt.Println(strings.Repeat("=", 72))
}

func (s *Service) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
}

func (s *Service) shutdown() error {
	s.logger.Info("shutting down tokenfan")
	s.cancel()

	if err := s.supervisor.Stop(); err != nil {
		s.logger.Error("error stopping supervisor", zap.Error(err))
	}

	s.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error stopping http server", zap.Error(err))
	}

	if s.metrics != nil {
		if err := s.metrics.Stop(shutdownCtx); err != nil {
			s.logger.Error("error stopping metrics server", zap.Error(err))
		}
	}

	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			s.logger.Error("error closing redis mirror", zap.Error(err))
		}
	}

	s.logger.Info("tokenfan shutdown complete")
	return nil
}
