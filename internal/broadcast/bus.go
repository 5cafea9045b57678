// Package broadcast is the publish/subscribe hub at the center of the
// fan-out path: single writer per event, many readers, each reader
// filtered to the subset of events it asked for. It delivers typed Trade
// and CandleUpdate events through per-subscriber filters instead of an
// unconditional fan-out to every connection.
package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
)

// Event is the tagged union the bus ships: exactly one of TradeEvent or
// CandleEvent is populated.
type Event struct {
	Trade  *TradeEvent
	Candle *CandleEvent
}

// TradeEvent wraps a trade for delivery; the trade is carried by value so
// subscribers can never observe a mutation racing the publisher.
type TradeEvent struct {
	Trade candle.Trade
}

// CandleEvent wraps a by-value candle snapshot plus its terminal flag.
type CandleEvent struct {
	Candle     candle.Candle
	IsTerminal bool
}

// Subscriber receives events matching its filter through a bounded channel.
// The bus never blocks waiting on a subscriber: when its channel is full,
// the event is dropped for that subscriber only and the drop is counted.
type Subscriber struct {
	ID     string
	Filter Filter
	ch     chan Event

	mu      sync.Mutex
	dropped int64
}

// Events returns the subscriber's receive-only event channel.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Dropped returns how many events this subscriber has missed to backpressure.
func (s *Subscriber) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) countDrop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

const subscriberBufferSize = 256

func newSubscriber(id string, filter Filter) *Subscriber {
	return &Subscriber{
		ID:     id,
		Filter: filter,
		ch:     make(chan Event, subscriberBufferSize),
	}
}

// Bus is the process-wide publish/subscribe hub. Registration and
// deregistration are idempotent by subscriber ID; the subscriber table is
// guarded, but publish delivery itself never blocks on a subscriber.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	totalDropped int64
	dropMu       sync.Mutex
}

// NewBus constructs an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:      logger.Named("broadcast_bus"),
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber (or extends the filter of an existing
// one) and returns its handle. Calling Subscribe again with the same id adds the new filter
// as an additional one the subscriber receives the union of — it does not
// replace prior filters added via AddFilter.
func (b *Bus) Subscribe(id string, filter Filter) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.subscribers[id]; ok {
		existing.Filter = Union(existing.Filter, filter)
		return existing
	}
	sub := newSubscriber(id, filter)
	b.subscribers[id] = sub
	return sub
}

// AddFilter adds an additional filter to an already-registered subscriber;
// it receives the union of every filter it has registered.
func (b *Bus) AddFilter(id string, filter Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		sub.Filter = Union(sub.Filter, filter)
	}
}

// RemoveFilter narrows a subscriber's filter, removing exactly the given
// one from its union (idempotent: removing an absent filter is a no-op).
func (b *Bus) RemoveFilter(id string, filter Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		sub.Filter = Subtract(sub.Filter, filter)
	}
}

// Unregister removes a subscriber entirely. Idempotent by id.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// PublishTrade delivers a Trade event to every subscriber whose filter
// matches it. Non-blocking: subscribers whose channel is full are skipped
// and counted, never disconnected from here.
func (b *Bus) PublishTrade(trade candle.Trade) {
	b.publish(Event{Trade: &TradeEvent{Trade: trade}}, func(f Filter) bool {
		return f.MatchesTrade(trade.Symbol)
	})
}

// PublishCandle delivers a CandleUpdate event to every subscriber whose
// filter matches it.
func (b *Bus) PublishCandle(c candle.Candle, interval calendar.Interval, terminal bool) {
	b.publish(Event{Candle: &CandleEvent{Candle: c, IsTerminal: terminal}}, func(f Filter) bool {
		return f.MatchesCandle(c.Symbol, interval)
	})
}

func (b *Bus) publish(ev Event, match func(Filter) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !match(sub.Filter) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.countDrop()
			b.dropMu.Lock()
			b.totalDropped++
			b.dropMu.Unlock()
			b.logger.Warn("subscriber outbound buffer full, dropping event", zap.String("subscriber", sub.ID))
		}
	}
}

// TotalDropped returns the process-wide count of dropped deliveries, for
// /api/v1/stats.
func (b *Bus) TotalDropped() int64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.totalDropped
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
