package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tokenfan/internal/broadcast"
	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
)

func newTestPath(t *testing.T) (*Path, *broadcast.Bus) {
	t.Helper()
	store := candle.NewStore(zap.NewNop(), []string{"DOGE"}, []calendar.Interval{calendar.Interval1m}, 1)
	bus := broadcast.NewBus(zap.NewNop())
	return New(store, bus, zap.NewNop()), bus
}

func TestIngestPublishesTradeThenCandle(t *testing.T) {
	path, bus := newTestPath(t)
	sub := bus.Subscribe("sub", broadcast.Union(broadcast.AllTrades(), broadcast.Candles("DOGE", calendar.Interval1m)))

	err := path.Ingest(candle.Trade{
		Symbol: "DOGE", Price: 0.1, Volume: 5,
		Timestamp: time.Date(2025, 5, 28, 4, 0, 30, 0, time.UTC),
		Side:      candle.Buy,
	})
	require.NoError(t, err)

	first := <-sub.Events()
	require.NotNil(t, first.Trade)

	second := <-sub.Events()
	require.NotNil(t, second.Candle)
	require.Equal(t, "DOGE", second.Candle.Candle.Symbol)
}

func TestIngestRejectsUnknownSymbol(t *testing.T) {
	path, _ := newTestPath(t)
	err := path.Ingest(candle.Trade{Symbol: "NOPE", Price: 1, Volume: 1, Timestamp: time.Now()})
	require.Error(t, err)
}
