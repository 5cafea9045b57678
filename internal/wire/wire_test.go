package wire

import (
	"testing"
	"time"

	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
)

func TestCandleRoundTrip(t *testing.T) {
	c := candle.Candle{
		Symbol:      "DOGE",
		Interval:    calendar.Interval1m,
		WindowStart: time.Date(2025, 5, 28, 4, 0, 0, 0, time.UTC),
		Open:        0.10, High: 0.20, Low: 0.09, Close: 0.15,
		Volume: 42,
		Closed: true,
	}
	back, err := ToCandle(FromCandle(c))
	if err != nil {
		t.Fatal(err)
	}
	if back != c {
		t.Fatalf("round trip mismatch: got %+v, want %+v", back, c)
	}
}
