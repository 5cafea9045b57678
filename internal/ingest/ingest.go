// Package ingest is the entry point every trade source (the synthetic
// generator, and any future real feed) pushes through: validate, fold into
// the candle store, then publish the resulting events onto the broadcast
// bus in a fixed order — the Trade event first, followed by one
// CandleUpdate per configured interval. It is safe for concurrent use by
// multiple source goroutines.
package ingest

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"tokenfan/internal/broadcast"
	"tokenfan/internal/candle"
)

// Path wires a candle.Store to a broadcast.Bus. It holds no trade-level
// locking of its own: the store already serializes per (symbol, interval),
// so concurrent Ingest calls from independent sources interleave safely.
type Path struct {
	store  *candle.Store
	bus    *broadcast.Bus
	logger *zap.Logger

	processed int64
	rejected  int64
}

// New builds an ingest path over store, publishing resulting events to bus.
func New(store *candle.Store, bus *broadcast.Bus, logger *zap.Logger) *Path {
	return &Path{
		store:  store,
		bus:    bus,
		logger: logger.Named("ingest"),
	}
}

// Ingest validates trade against the store's registered symbols, folds it
// into every configured interval, and publishes the Trade event followed by
// each interval's resulting CandleUpdate. A trade for an unregistered
// symbol is rejected without being published anywhere. A trade that lands
// behind an already-closed window is silently absorbed by the store (the
// one quiet-drop case in the system) and produces no CandleUpdate for that
// interval, but the Trade event is still published — the drop is scoped to
// candle aggregation, not to the raw trade feed.
func (p *Path) Ingest(trade candle.Trade) error {
	if !p.store.HasSymbol(trade.Symbol) {
		atomic.AddInt64(&p.rejected, 1)
		return fmt.Errorf("ingest: rejecting trade for unregistered symbol %q", trade.Symbol)
	}

	updates, err := p.store.ApplyTrade(trade)
	if err != nil {
		atomic.AddInt64(&p.rejected, 1)
		return fmt.Errorf("ingest: apply trade: %w", err)
	}
	atomic.AddInt64(&p.processed, 1)

	p.bus.PublishTrade(trade)
	for _, u := range updates {
		p.bus.PublishCandle(u.Candle, u.Candle.Interval, u.IsTerminal)
	}
	return nil
}

// Processed returns the number of trades successfully folded into the
// store, for /api/v1/stats.
func (p *Path) Processed() int64 { return atomic.LoadInt64(&p.processed) }

// Rejected returns the number of trades rejected at ingest (unknown
// symbol), for /api/v1/stats.
func (p *Path) Rejected() int64 { return atomic.LoadInt64(&p.rejected) }
