// Package session implements the per-client WebSocket state machine:
// Opening -> Active -> Closing -> Closed, subscription tracking against
// the broadcast bus, framed outbound delivery with a bounded queue, and
// heartbeat-based liveness.
package session

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tokenfan/internal/broadcast"
	"tokenfan/internal/wire"
)

// State is one of the four session lifecycle states.
type State int32

const (
	Opening State = iota
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const outboundQueueSize = 256

// Conn is the subset of *websocket.Conn the session depends on; satisfied
// by the real connection and easy to fake in tests.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Session is one client connection's state machine and subscription set.
type Session struct {
	ID     string
	conn   Conn
	bus    *broadcast.Bus
	logger *zap.Logger

	heartbeatInterval time.Duration
	clientTimeout     time.Duration

	state    int32
	lastPong atomic.Value // time.Time

	send chan []byte

	closeOnce sync.Once
	stop      chan struct{}

	drops int64
}

// New creates a session bound to conn. Run registers it with the bus under
// an empty filter (matching nothing until the client subscribes).
func New(id string, conn Conn, bus *broadcast.Bus, logger *zap.Logger, heartbeatInterval, clientTimeout time.Duration) *Session {
	s := &Session{
		ID:                id,
		conn:              conn,
		bus:               bus,
		logger:            logger.Named("session").With(zap.String("session_id", id)),
		heartbeatInterval: heartbeatInterval,
		clientTimeout:     clientTimeout,
		state:             int32(Opening),
		send:              make(chan []byte, outboundQueueSize),
		stop:              make(chan struct{}),
	}
	s.lastPong.Store(time.Now())
	conn.SetPongHandler(func(string) error {
		s.lastPong.Store(time.Now())
		return nil
	})
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

func (s *Session) setState(st State) { atomic.StoreInt32(&s.state, int32(st)) }

// Drops returns how many outbound frames this session has dropped for
// backpressure.
func (s *Session) Drops() int64 { return atomic.LoadInt64(&s.drops) }

// Run drives the session to completion: handshake already succeeded by the
// time Run is called (the HTTP upgrade happened in the hub), so it moves
// straight to Active, starts the writer, forwarder and heartbeat loops, and
// blocks reading inbound frames until the connection ends or a heartbeat
// timeout fires. It always returns with the session Closed.
func (s *Session) Run() {
	s.setState(Active)
	sub := s.bus.Subscribe(s.ID, broadcast.Filter{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writePump() }()
	go func() { defer wg.Done(); s.forwardPump(sub) }()
	go s.heartbeatLoop()

	s.readPump()

	s.setState(Closing)
	close(s.stop)
	s.bus.Unregister(s.ID)
	s.closeSend()
	wg.Wait()
	s.conn.Close()
	s.setState(Closed)
}

func (s *Session) closeSend() {
	s.closeOnce.Do(func() { close(s.send) })
}

// readPump reads client frames until the connection errors out, a fatal
// protocol violation occurs, or the session is asked to stop.
func (s *Session) readPump() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("read error, closing session", zap.Error(err))
			return
		}
		s.handleInbound(data)
	}
}

func (s *Session) handleInbound(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.enqueue(errorMessage{Type: "error", Message: "malformed message: " + err.Error()})
		return
	}

	var spec subscriptionSpec
	if len(msg.Subscription) > 0 {
		if err := json.Unmarshal(msg.Subscription, &spec); err != nil {
			s.enqueue(errorMessage{Type: "error", Message: "malformed subscription: " + err.Error()})
			return
		}
	}

	switch msg.Action {
	case "subscribe":
		filter, err := spec.toFilter()
		if err != nil {
			s.enqueue(errorMessage{Type: "error", Message: err.Error()})
			return
		}
		s.bus.AddFilter(s.ID, filter)
		s.enqueue(confirmMessage{Type: "subscribed", Subscription: msg.Subscription})
	case "unsubscribe":
		filter, err := spec.toFilter()
		if err != nil {
			s.enqueue(errorMessage{Type: "error", Message: err.Error()})
			return
		}
		s.bus.RemoveFilter(s.ID, filter)
		s.enqueue(confirmMessage{Type: "unsubscribed", Subscription: msg.Subscription})
	default:
		s.enqueue(errorMessage{Type: "error", Message: "unknown action: " + msg.Action})
	}
}

// forwardPump converts bus events into outbound wire frames.
func (s *Session) forwardPump(sub *broadcast.Subscriber) {
	for {
		select {
		case <-s.stop:
			return
		case ev := <-sub.Events():
			switch {
			case ev.Trade != nil:
				s.enqueue(transactionMessage{Type: "transaction", Data: wire.FromTrade(ev.Trade.Trade)})
			case ev.Candle != nil:
				s.enqueue(klineMessage{Type: "kline", Data: wire.FromCandle(ev.Candle.Candle)})
			}
		}
	}
}

// enqueue marshals v and places it on the bounded outbound queue. On
// overflow it logs and drops the frame; the session stays connected.
func (s *Session) enqueue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal outbound frame", zap.Error(err))
		return
	}
	select {
	case s.send <- data:
	default:
		atomic.AddInt64(&s.drops, 1)
		s.logger.Warn("outbound queue full, dropping frame")
	}
}

func (s *Session) writePump() {
	for data := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("write error", zap.Error(err))
			return
		}
	}
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if time.Since(s.lastPong.Load().(time.Time)) > s.clientTimeout {
				s.logger.Info("client missed heartbeat deadline, closing")
				s.conn.Close()
				return
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.heartbeatInterval)); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
