package session

import (
	"encoding/json"
	"fmt"

	"tokenfan/internal/broadcast"
	"tokenfan/internal/calendar"
	"tokenfan/internal/wire"
)

// inboundMessage is the envelope every client frame must match: an action
// plus the subscription it applies to.
type inboundMessage struct {
	Action       string          `json:"action"`
	Subscription json.RawMessage `json:"subscription"`
}

// subscriptionSpec names one of the three filter variants a client can
// request.
type subscriptionSpec struct {
	Type     string   `json:"type"`
	Symbols  []string `json:"symbols,omitempty"`
	Symbol   string   `json:"symbol,omitempty"`
	Interval string   `json:"interval,omitempty"`
}

const (
	subTypeAllTrades = "all_trades"
	subTypeTradesFor = "trades_for"
	subTypeCandles   = "candles"
)

// toFilter builds the broadcast.Filter a subscriptionSpec describes.
func (s subscriptionSpec) toFilter() (broadcast.Filter, error) {
	switch s.Type {
	case subTypeAllTrades:
		return broadcast.AllTrades(), nil
	case subTypeTradesFor:
		if len(s.Symbols) == 0 {
			return broadcast.Filter{}, fmt.Errorf("trades_for requires a non-empty symbols list")
		}
		return broadcast.TradesFor(s.Symbols...), nil
	case subTypeCandles:
		if s.Symbol == "" {
			return broadcast.Filter{}, fmt.Errorf("candles subscription requires a symbol")
		}
		iv, err := calendar.Parse(s.Interval)
		if err != nil {
			return broadcast.Filter{}, err
		}
		return broadcast.Candles(s.Symbol, iv), nil
	default:
		return broadcast.Filter{}, fmt.Errorf("unknown subscription type %q", s.Type)
	}
}

type confirmMessage struct {
	Type         string          `json:"type"`
	Subscription json.RawMessage `json:"subscription"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type transactionMessage struct {
	Type string     `json:"type"`
	Data wire.Trade `json:"data"`
}

type klineMessage struct {
	Type string      `json:"type"`
	Data wire.Candle `json:"data"`
}
