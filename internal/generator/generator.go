// Package generator produces a synthetic stream of trades for the
// configured tokens, standing in for a real exchange feed. It is one
// ingest source among possibly many: it only calls ingest.Path.Ingest, the
// same entry point any future real feed would use.
package generator

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"tokenfan/internal/candle"
	"tokenfan/internal/ingest"
)

// TokenProfile is one symbol's random-walk parameters.
type TokenProfile struct {
	Symbol     string
	BasePrice  float64
	Volatility float64
}

// Config controls the generator's pacing and trade sizing.
type Config struct {
	Tokens      []TokenProfile
	Interval    time.Duration
	VolumeMin   float64
	VolumeMax   float64
}

// Generator drives a random walk per token and pushes each tick through an
// ingest.Path as a Trade.
type Generator struct {
	path   *ingest.Path
	config Config
	logger *zap.Logger
	rng    *rand.Rand

	prices map[string]float64
}

// New constructs a Generator seeded from the configured base prices.
func New(path *ingest.Path, config Config, logger *zap.Logger, seed int64) *Generator {
	prices := make(map[string]float64, len(config.Tokens))
	for _, t := range config.Tokens {
		prices[t.Symbol] = t.BasePrice
	}
	return &Generator{
		path:   path,
		config: config,
		logger: logger.Named("generator"),
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
	}
}

// Run ticks every config.Interval until ctx is canceled, generating one
// trade per configured token on each tick. It matches the
// supervisor.WorkerFunc signature so it can be supervised like any other
// background worker.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *Generator) tick() {
	for _, t := range g.config.Tokens {
		price := g.walk(t)
		volume := g.config.VolumeMin + g.rng.Float64()*(g.config.VolumeMax-g.config.VolumeMin)
		side := candle.Buy
		if g.rng.Float64() < 0.5 {
			side = candle.Sell
		}

		if err := g.path.Ingest(candle.Trade{
			Symbol:    t.Symbol,
			Price:     price,
			Volume:    volume,
			Timestamp: time.Now().UTC(),
			Side:      side,
		}); err != nil {
			g.logger.Warn("generated trade rejected", zap.String("symbol", t.Symbol), zap.Error(err))
		}
	}
}

// walk advances the per-symbol random walk and returns the new price,
// floored at a tiny fraction of the base price so it can never cross zero.
func (g *Generator) walk(t TokenProfile) float64 {
	last := g.prices[t.Symbol]
	change := (g.rng.Float64()*2 - 1) * t.Volatility * last
	next := last + change
	if floor := t.BasePrice * 0.01; next < floor {
		next = floor
	}
	g.prices[t.Symbol] = next
	return next
}
