package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
)

func TestScenarioSubscriptionFilter(t *testing.T) {
	bus := NewBus(zap.NewNop())
	subA := bus.Subscribe("A", TradesFor("DOGE"))
	subB := bus.Subscribe("B", Candles("SHIB", calendar.Interval1m))

	bus.PublishTrade(candle.Trade{Symbol: "DOGE", Price: 1, Volume: 1, Timestamp: time.Now()})
	bus.PublishTrade(candle.Trade{Symbol: "SHIB", Price: 1, Volume: 1, Timestamp: time.Now()})
	bus.PublishCandle(candle.Candle{Symbol: "SHIB", Interval: calendar.Interval1m}, calendar.Interval1m, false)

	aEvents := drain(subA)
	require.Len(t, aEvents, 1)
	assert.NotNil(t, aEvents[0].Trade)
	assert.Equal(t, "DOGE", aEvents[0].Trade.Trade.Symbol)

	bEvents := drain(subB)
	require.Len(t, bEvents, 1)
	assert.NotNil(t, bEvents[0].Candle)
	assert.Equal(t, "SHIB", bEvents[0].Candle.Candle.Symbol)
}

func drain(sub *Subscriber) []Event {
	var out []Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestUnionOfMultipleFilters(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sub := bus.Subscribe("C", TradesFor("DOGE"))
	bus.AddFilter("C", Candles("DOGE", calendar.Interval1m))

	bus.PublishTrade(candle.Trade{Symbol: "DOGE", Price: 1, Volume: 1, Timestamp: time.Now()})
	bus.PublishCandle(candle.Candle{Symbol: "DOGE", Interval: calendar.Interval1m}, calendar.Interval1m, false)

	events := drain(sub)
	assert.Len(t, events, 2, "subscriber with two filters should receive the union")
}

func TestUnregisterIsIdempotent(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Subscribe("D", AllTrades())
	bus.Unregister("D")
	assert.NotPanics(t, func() { bus.Unregister("D") })
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	slow := bus.Subscribe("slow", AllTrades())
	fast := bus.Subscribe("fast", AllTrades())

	// Fill the slow subscriber's buffer past capacity without draining it.
	for i := 0; i < subscriberBufferSize+10; i++ {
		bus.PublishTrade(candle.Trade{Symbol: "DOGE", Price: 1, Volume: 1, Timestamp: time.Now()})
	}

	assert.Greater(t, slow.Dropped(), int64(0))
	assert.Equal(t, subscriberBufferSize, len(fast.Events()))
}
