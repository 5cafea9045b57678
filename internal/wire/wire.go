// Package wire defines the JSON shapes crossing the REST and WebSocket
// boundary. Nothing here touches the core's internal types directly at
// rest; conversion happens at the edge so the candle store and broadcast
// bus stay free of encoding concerns.
package wire

import (
	"time"

	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
)

// Candle is the wire form of a candle.Candle.
type Candle struct {
	Token     string  `json:"token"`
	Timestamp string  `json:"timestamp"`
	Interval  string  `json:"interval"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsClosed  bool    `json:"is_closed"`
}

// Trade is the wire form of a candle.Trade.
type Trade struct {
	Token     string  `json:"token"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp string  `json:"timestamp"`
	IsBuy     bool    `json:"is_buy"`
}

// FromCandle converts a core candle to its wire form.
func FromCandle(c candle.Candle) Candle {
	return Candle{
		Token:     c.Symbol,
		Timestamp: c.WindowStart.UTC().Format(time.RFC3339Nano),
		Interval:  c.Interval.String(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		IsClosed:  c.Closed,
	}
}

// ToCandle converts a wire candle back to its core form. Used by round-trip
// tests; the service never needs to parse candles it did not produce.
func ToCandle(w Candle) (candle.Candle, error) {
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return candle.Candle{}, err
	}
	iv, err := calendar.Parse(w.Interval)
	if err != nil {
		return candle.Candle{}, err
	}
	return candle.Candle{
		Symbol:      w.Token,
		Interval:    iv,
		WindowStart: ts.UTC(),
		Open:        w.Open,
		High:        w.High,
		Low:         w.Low,
		Close:       w.Close,
		Volume:      w.Volume,
		Closed:      w.IsClosed,
	}, nil
}

// FromTrade converts a core trade to its wire form.
func FromTrade(t candle.Trade) Trade {
	return Trade{
		Token:     t.Symbol,
		Price:     t.Price,
		Volume:    t.Volume,
		Timestamp: t.Timestamp.UTC().Format(time.RFC3339Nano),
		IsBuy:     t.Side == candle.Buy,
	}
}
