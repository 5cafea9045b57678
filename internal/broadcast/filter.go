package broadcast

import "tokenfan/internal/calendar"

// Filter is the union of subscription filters a subscriber has registered.
// It is a closed set of three variants (all trades, trades for a symbol
// subset, candles for one (symbol, interval)) dispatched by a single
// matcher, not an open hierarchy of filter types.
type Filter struct {
	allTrades    bool
	tradeSymbols map[string]struct{}
	candleKeys   map[candleKey]struct{}
}

type candleKey struct {
	symbol   string
	interval calendar.Interval
}

// AllTrades builds a filter matching every Trade event.
func AllTrades() Filter {
	return Filter{allTrades: true}
}

// TradesFor builds a filter matching Trade events for the given symbols.
func TradesFor(symbols ...string) Filter {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return Filter{tradeSymbols: set}
}

// Candles builds a filter matching CandleUpdate events for one
// (symbol, interval) pair.
func Candles(symbol string, interval calendar.Interval) Filter {
	return Filter{candleKeys: map[candleKey]struct{}{{symbol, interval}: {}}}
}

// Empty reports whether the filter matches nothing at all.
func (f Filter) Empty() bool {
	return !f.allTrades && len(f.tradeSymbols) == 0 && len(f.candleKeys) == 0
}

// MatchesTrade reports whether the filter selects a trade event for symbol.
func (f Filter) MatchesTrade(symbol string) bool {
	if f.allTrades {
		return true
	}
	if f.tradeSymbols != nil {
		_, ok := f.tradeSymbols[symbol]
		return ok
	}
	return false
}

// MatchesCandle reports whether the filter selects CandleUpdate events for
// (symbol, interval).
func (f Filter) MatchesCandle(symbol string, interval calendar.Interval) bool {
	if f.candleKeys == nil {
		return false
	}
	_, ok := f.candleKeys[candleKey{symbol, interval}]
	return ok
}

// Union returns a filter matching everything either a or b matches.
func Union(a, b Filter) Filter {
	out := Filter{allTrades: a.allTrades || b.allTrades}
	out.tradeSymbols = mergeSymbols(a.tradeSymbols, b.tradeSymbols)
	out.candleKeys = mergeCandleKeys(a.candleKeys, b.candleKeys)
	return out
}

// Subtract removes from a each component b names (the all-trades flag, each
// trade symbol, each candle key), used for unsubscribe. An all-trades a
// stays all-trades when b names only specific symbols.
func Subtract(a, b Filter) Filter {
	out := Filter{allTrades: a.allTrades && !b.allTrades}
	if a.tradeSymbols != nil {
		out.tradeSymbols = make(map[string]struct{})
		for sym := range a.tradeSymbols {
			if b.tradeSymbols != nil {
				if _, removed := b.tradeSymbols[sym]; removed {
					continue
				}
			}
			out.tradeSymbols[sym] = struct{}{}
		}
		if len(out.tradeSymbols) == 0 {
			out.tradeSymbols = nil
		}
	}
	if a.candleKeys != nil {
		out.candleKeys = make(map[candleKey]struct{})
		for k := range a.candleKeys {
			if b.candleKeys != nil {
				if _, removed := b.candleKeys[k]; removed {
					continue
				}
			}
			out.candleKeys[k] = struct{}{}
		}
		if len(out.candleKeys) == 0 {
			out.candleKeys = nil
		}
	}
	return out
}

func mergeSymbols(a, b map[string]struct{}) map[string]struct{} {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(a)+len(b))
	for s := range a {
		out[s] = struct{}{}
	}
	for s := range b {
		out[s] = struct{}{}
	}
	return out
}

func mergeCandleKeys(a, b map[candleKey]struct{}) map[candleKey]struct{} {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[candleKey]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}
