// Package candle owns the concurrent (symbol, interval) candle store: the
// core aggregation engine of this service. It folds trades into OHLCV
// bars, keeps a bounded retention window per key, and closes candles on
// schedule even when no trade arrives.
package candle

import (
	"errors"
	"time"

	"tokenfan/internal/calendar"
)

// Side is the aggressor side of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Trade is an immutable external trade event. It is never mutated after
// creation; the store only ever reads it.
type Trade struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
	Side      Side
}

// Candle is a single OHLCV bar for one (symbol, interval, window-start).
// Values returned to callers are always snapshots taken under the series
// guard; no pointer to a live Candle escapes the store.
type Candle struct {
	Symbol      string
	Interval    calendar.Interval
	WindowStart time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Closed      bool
}

// Update is what the store emits for every candle it touches while folding
// a trade or sweeping closures: the current state of the candle plus
// whether this is its terminal (closed) update.
type Update struct {
	Candle     Candle
	IsTerminal bool
}

// Sentinel input errors. These are never fatal; callers translate them to a
// 400 response or an {type:"error"} frame.
var (
	ErrUnknownSymbol   = errors.New("candle: unknown symbol")
	ErrUnknownInterval = errors.New("candle: unknown interval")
)

func newOpenCandle(symbol string, interval calendar.Interval, windowStart time.Time, price, volume float64) Candle {
	return Candle{
		Symbol:      symbol,
		Interval:    interval,
		WindowStart: windowStart,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		Volume:      volume,
		Closed:      false,
	}
}

// foldTrade applies trade to an in-progress open candle. It is the only
// place OHLCV fields are mutated; the caller holds the series guard.
func foldTrade(c *Candle, price, volume float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += volume
}

// checkInvariant panics on a corrupted candle. Invariant violations are
// programming bugs per the error handling design; they must never be
// observable as silently-accepted bad data.
func checkInvariant(c Candle) {
	lo := c.Low
	hi := c.High
	minOC := c.Open
	if c.Close < minOC {
		minOC = c.Close
	}
	maxOC := c.Open
	if c.Close > maxOC {
		maxOC = c.Close
	}
	if lo > minOC || maxOC > hi || c.Volume < 0 {
		panic("candle: invariant violated: low <= min(open,close) <= max(open,close) <= high, volume >= 0")
	}
}
