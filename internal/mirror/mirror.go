// Package mirror is an optional, config-gated one-way sink that republishes
// terminal candle updates to a Redis channel for any downstream consumer
// outside this process. It batches publishes by size or time, whichever
// bound is hit first, but it is not a replication path: there is no read
// side here and no consensus between instances.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tokenfan/internal/calendar"
	"tokenfan/internal/candle"
)

// Config controls whether the mirror runs and how it batches publishes.
type Config struct {
	Enabled       bool
	RedisURL      string
	ChannelPrefix string
	MaxBatch      int
	FlushInterval time.Duration
}

type candleMessage struct {
	Symbol      string  `json:"symbol"`
	Interval    string  `json:"interval"`
	WindowStart string  `json:"window_start"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// Mirror batches terminal candle updates and pipelines them to Redis on a
// size or time bound, whichever comes first.
type Mirror struct {
	rdb    *redis.Client
	logger *zap.Logger
	config Config

	mu      sync.Mutex
	pending []candleMessage
	timer   *time.Timer

	onPublished func(n int)
	onFailure   func()
}

// New connects to config.RedisURL and returns a ready Mirror. Callers
// should check config.Enabled before constructing one; New always attempts
// a connection.
func New(config Config, logger *zap.Logger) (*Mirror, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("mirror: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("mirror: connect to redis: %w", err)
	}

	if config.MaxBatch <= 0 {
		config.MaxBatch = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 250 * time.Millisecond
	}

	logger.Named("mirror").Info("connected to redis mirror", zap.String("addr", opts.Addr))
	return &Mirror{rdb: rdb, logger: logger.Named("mirror"), config: config}, nil
}

// OnPublished registers a callback invoked with the number of messages in
// each successful flush, for metrics.
func (m *Mirror) OnPublished(fn func(n int)) { m.onPublished = fn }

// OnFailure registers a callback invoked once per failed flush attempt.
func (m *Mirror) OnFailure(fn func()) { m.onFailure = fn }

// Publish enqueues a terminal candle update for the next batch flush.
// Non-terminal (still-open) candles are never mirrored; only closed
// windows are meaningful to a downstream consumer of this channel.
func (m *Mirror) Publish(c candle.Candle, interval calendar.Interval, terminal bool) {
	if !terminal {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = append(m.pending, candleMessage{
		Symbol:      c.Symbol,
		Interval:    interval.String(),
		WindowStart: c.WindowStart.UTC().Format(time.RFC3339Nano),
		Open:        c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
	})

	if len(m.pending) >= m.config.MaxBatch {
		m.flushLocked()
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(m.config.FlushInterval, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.flushLocked()
		})
	}
}

// flushLocked pipelines the pending batch to Redis. Caller holds m.mu.
func (m *Mirror) flushLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if len(m.pending) == 0 {
		return
	}
	batch := m.pending
	m.pending = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := m.rdb.Pipeline()
	for _, msg := range batch {
		data, err := json.Marshal(msg)
		if err != nil {
			m.logger.Error("failed to marshal candle for mirror", zap.Error(err))
			continue
		}
		channel := m.config.ChannelPrefix + ":" + msg.Symbol + ":" + msg.Interval
		pipe.Publish(ctx, channel, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("mirror batch publish failed", zap.Error(err), zap.Int("count", len(batch)))
		if m.onFailure != nil {
			m.onFailure()
		}
		return
	}
	if m.onPublished != nil {
		m.onPublished(len(batch))
	}
}

// Close flushes any pending batch and closes the Redis connection.
func (m *Mirror) Close() error {
	m.mu.Lock()
	m.flushLocked()
	m.mu.Unlock()
	return m.rdb.Close()
}
