package candle

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"tokenfan/internal/calendar"
)

type seriesKey struct {
	symbol   string
	interval calendar.Interval
}

// series is the bounded ordered candle history for one (symbol, interval).
// It is guarded independently of every other series, so different keys
// fold in parallel; the sequence of candles for one key is only ever
// touched under series.mu.
type series struct {
	mu        sync.Mutex
	candles   []Candle
	retention int
}

func (s *series) trim() {
	if over := len(s.candles) - s.retention; over > 0 {
		s.candles = s.candles[over:]
	}
}

// Store is the concurrent mapping (symbol, interval) -> bounded candle
// history for that pair. All symbols and intervals are registered at
// construction time; ApplyTrade never creates a key dynamically.
type Store struct {
	logger    *zap.Logger
	series    map[seriesKey]*series
	symbols   map[string]struct{}
	intervals []calendar.Interval

	dropped dropCounter
}

type dropCounter struct {
	mu    sync.Mutex
	count int64
}

func (d *dropCounter) inc() {
	d.mu.Lock()
	d.count++
	d.mu.Unlock()
}

// Load returns the number of trades silently discarded because they
// arrived for a window that had already closed.
func (d *dropCounter) Load() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// NewStore builds a store pre-registered for every (symbol, interval) pair
// formed from symbols x intervals, with retention derived from
// retentionHours for each interval's own duration.
func NewStore(logger *zap.Logger, symbols []string, intervals []calendar.Interval, retentionHours float64) *Store {
	st := &Store{
		logger:    logger.Named("candle_store"),
		series:    make(map[seriesKey]*series),
		symbols:   make(map[string]struct{}, len(symbols)),
		intervals: append([]calendar.Interval(nil), intervals...),
	}
	for _, sym := range symbols {
		st.symbols[sym] = struct{}{}
		for _, iv := range intervals {
			cap := retentionCap(retentionHours, iv)
			st.series[seriesKey{sym, iv}] = &series{
				candles:   make([]Candle, 0, minInt(cap, 256)),
				retention: cap,
			}
		}
	}
	return st
}

func retentionCap(hours float64, iv calendar.Interval) int {
	secs := hours * 3600
	n := int(secs / iv.Duration().Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// LateDrops returns the number of trades discarded for arriving behind the
// already-advanced window of their interval.
func (st *Store) LateDrops() int64 { return st.dropped.Load() }

// Intervals returns the intervals this store was configured with.
func (st *Store) Intervals() []calendar.Interval {
	return append([]calendar.Interval(nil), st.intervals...)
}

// HasSymbol reports whether symbol was registered at construction.
func (st *Store) HasSymbol(symbol string) bool {
	_, ok := st.symbols[symbol]
	return ok
}

func (st *Store) lookup(symbol string, interval calendar.Interval) (*series, error) {
	if _, ok := st.symbols[symbol]; !ok {
		return nil, ErrUnknownSymbol
	}
	if !interval.Valid() {
		return nil, ErrUnknownInterval
	}
	s, ok := st.series[seriesKey{symbol, interval}]
	if !ok {
		return nil, ErrUnknownInterval
	}
	return s, nil
}

// ApplyTrade folds trade into every configured interval's series for its
// symbol and returns one Update per interval describing the resulting
// candle (plus any terminal updates produced by rolling into a new
// window). The Trade itself is never republished here; the ingest path is
// responsible for emitting the Trade event ahead of these Updates.
func (st *Store) ApplyTrade(trade Trade) ([]Update, error) {
	if _, ok := st.symbols[trade.Symbol]; !ok {
		return nil, ErrUnknownSymbol
	}

	updates := make([]Update, 0, len(st.intervals))
	for _, iv := range st.intervals {
		s := st.series[seriesKey{trade.Symbol, iv}]
		s.mu.Lock()
		us := st.foldInto(s, trade, iv)
		s.mu.Unlock()
		updates = append(updates, us...)
	}
	return updates, nil
}

// foldInto applies the fold-in algorithm for a single
// series. Caller holds s.mu.
func (st *Store) foldInto(s *series, trade Trade, iv calendar.Interval) []Update {
	w := calendar.Align(trade.Timestamp, iv)

	n := len(s.candles)
	if n == 0 || s.candles[n-1].WindowStart.Before(w) {
		var out []Update
		if n > 0 && !s.candles[n-1].Closed {
			s.candles[n-1].Closed = true
			checkInvariant(s.candles[n-1])
			out = append(out, Update{Candle: s.candles[n-1], IsTerminal: true})
		}
		if n > 0 {
			// Synthesize empty candles for any skipped windows, carrying
			// forward the close of the last known candle.
			last := s.candles[len(s.candles)-1]
			for next := calendar.Next(last.WindowStart, iv); next.Before(w); next = next.Add(iv.Duration()) {
				gap := Candle{
					Symbol:      trade.Symbol,
					Interval:    iv,
					WindowStart: next,
					Open:        last.Close,
					High:        last.Close,
					Low:         last.Close,
					Close:       last.Close,
					Volume:      0,
					Closed:      true,
				}
				checkInvariant(gap)
				s.candles = append(s.candles, gap)
				s.trim()
				out = append(out, Update{Candle: gap, IsTerminal: true})
				last = gap
			}
		}
		fresh := newOpenCandle(trade.Symbol, iv, w, trade.Price, trade.Volume)
		checkInvariant(fresh)
		s.candles = append(s.candles, fresh)
		s.trim()
		out = append(out, Update{Candle: fresh, IsTerminal: false})
		return out
	}

	if s.candles[n-1].WindowStart.Equal(w) && !s.candles[n-1].Closed {
		foldTrade(&s.candles[n-1], trade.Price, trade.Volume)
		checkInvariant(s.candles[n-1])
		return []Update{{Candle: s.candles[n-1], IsTerminal: false}}
	}

	// Trade belongs to a window that is already closed for this interval
	// (older than the last window, or the last window closed by a sweep):
	// the only quiet drop in the system.
	st.dropped.inc()
	return nil
}

// QueryHistory returns up to limit of the newest closed candles for
// (symbol, interval), oldest-first.
func (st *Store) QueryHistory(symbol string, interval calendar.Interval, limit int) ([]Candle, error) {
	s, err := st.lookup(symbol, interval)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	closed := s.candles
	if n := len(closed); n > 0 && !closed[n-1].Closed {
		closed = closed[:n-1]
	}
	if limit <= 0 || limit > len(closed) {
		limit = len(closed)
	}
	start := len(closed) - limit
	out := make([]Candle, limit)
	copy(out, closed[start:])
	return out, nil
}

// QueryLatestClosed returns the newest closed candle, if any.
func (st *Store) QueryLatestClosed(symbol string, interval calendar.Interval) (Candle, bool, error) {
	s, err := st.lookup(symbol, interval)
	if err != nil {
		return Candle{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.candles) - 1; i >= 0; i-- {
		if s.candles[i].Closed {
			return s.candles[i], true, nil
		}
	}
	return Candle{}, false, nil
}

// QueryCurrent returns the open (not yet closed) candle, if any.
func (st *Store) QueryCurrent(symbol string, interval calendar.Interval) (Candle, bool, error) {
	s, err := st.lookup(symbol, interval)
	if err != nil {
		return Candle{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.candles); n > 0 && !s.candles[n-1].Closed {
		return s.candles[n-1], true, nil
	}
	return Candle{}, false, nil
}

// SweepClosures closes any series whose open candle's window has fully
// elapsed as of now, synthesizing empty intermediate windows up to (but not
// including) the window containing now. It returns one Update per candle
// that just closed or was synthesized.
func (st *Store) SweepClosures(now time.Time) []Update {
	var all []Update
	for key, s := range st.series {
		s.mu.Lock()
		all = append(all, st.sweepSeries(s, key.interval, now)...)
		s.mu.Unlock()
	}
	return all
}

func (st *Store) sweepSeries(s *series, iv calendar.Interval, now time.Time) []Update {
	n := len(s.candles)
	if n == 0 {
		return nil
	}
	last := s.candles[n-1]
	if last.Closed {
		return nil
	}
	if !calendar.Next(last.WindowStart, iv).After(now) {
		// The open candle's window has fully elapsed; close it and fill
		// forward up to (not including) the window containing now.
		var out []Update
		s.candles[n-1].Closed = true
		checkInvariant(s.candles[n-1])
		out = append(out, Update{Candle: s.candles[n-1], IsTerminal: true})

		closeVal := s.candles[n-1].Close
		cursor := calendar.Next(s.candles[n-1].WindowStart, iv)
		nowWindow := calendar.Align(now, iv)
		for cursor.Before(nowWindow) {
			gap := Candle{
				Symbol:      last.Symbol,
				Interval:    iv,
				WindowStart: cursor,
				Open:        closeVal,
				High:        closeVal,
				Low:         closeVal,
				Close:       closeVal,
				Volume:      0,
				Closed:      true,
			}
			checkInvariant(gap)
			s.candles = append(s.candles, gap)
			out = append(out, Update{Candle: gap, IsTerminal: true})
			cursor = cursor.Add(iv.Duration())
		}
		s.trim()
		return out
	}
	return nil
}
