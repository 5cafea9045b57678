package session

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tokenfan/internal/broadcast"
	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
)

func newTestHub(t *testing.T) (*Hub, *broadcast.Bus, *httptest.Server) {
	t.Helper()
	bus := broadcast.NewBus(zap.NewNop())
	hub := NewHub(bus, zap.NewNop(), 50*time.Millisecond, 500*time.Millisecond, 0)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, bus, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscribeAllTradesReceivesTransaction(t *testing.T) {
	hub, bus, srv := newTestHub(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":       "subscribe",
		"subscription": map[string]interface{}{"type": "all_trades"},
	}))

	var confirm map[string]interface{}
	require.NoError(t, conn.ReadJSON(&confirm))
	require.Equal(t, "subscribed", confirm["type"])

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	bus.PublishTrade(candle.Trade{
		Symbol: "DOGE", Price: 0.2, Volume: 10,
		Timestamp: time.Now().UTC(), Side: candle.Buy,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "transaction", frame["type"])
	data := frame["data"].(map[string]interface{})
	require.Equal(t, "DOGE", data["token"])
}

func TestSubscribeCandlesFiltersBySymbolAndInterval(t *testing.T) {
	_, bus, srv := newTestHub(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"subscription": map[string]interface{}{
			"type": "candles", "symbol": "SHIB", "interval": "1m",
		},
	}))
	var confirm map[string]interface{}
	require.NoError(t, conn.ReadJSON(&confirm))
	require.Equal(t, "subscribed", confirm["type"])

	time.Sleep(20 * time.Millisecond)

	// Non-matching candle (wrong symbol) must not arrive.
	bus.PublishCandle(candle.Candle{Symbol: "DOGE", Interval: calendar.Interval1m}, calendar.Interval1m, true)
	// Matching candle must arrive.
	want := candle.Candle{
		Symbol: "SHIB", Interval: calendar.Interval1m,
		WindowStart: time.Now().UTC(), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Closed: true,
	}
	bus.PublishCandle(want, calendar.Interval1m, true)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "kline", frame["type"])
	data := frame["data"].(map[string]interface{})
	require.Equal(t, "SHIB", data["token"])
}

func TestUnknownActionReturnsErrorWithoutClosing(t *testing.T) {
	_, _, srv := newTestHub(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "bogus"}))

	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "error", frame["type"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":       "subscribe",
		"subscription": map[string]interface{}{"type": "all_trades"},
	}))
	var confirm map[string]interface{}
	require.NoError(t, conn.ReadJSON(&confirm))
	require.Equal(t, "subscribed", confirm["type"])
}

func TestInvalidSubscriptionTypeIsRejected(t *testing.T) {
	_, _, srv := newTestHub(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":       "subscribe",
		"subscription": map[string]interface{}{"type": "not_a_real_type"},
	}))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "error", frame["type"])
}

func TestCloseRemovesSessionFromHub(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":       "subscribe",
		"subscription": map[string]interface{}{"type": "all_trades"},
	}))
	var confirm map[string]interface{}
	require.NoError(t, conn.ReadJSON(&confirm))

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeatTimeoutClosesSession(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	// The client answers pings only while this read is in progress (gorilla's
	// default ping handler). Once its own 2s read deadline fails the read, it
	// stops answering, and the server's clientTimeout (500ms) closes the session.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}
