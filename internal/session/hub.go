package session

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tokenfan/internal/broadcast"
)

// ErrAtCapacity names the condition in which max_websocket_connections has
// been reached. Hub.ServeHTTP does not return it; it answers such requests
// with HTTP 503.
var ErrAtCapacity = errors.New("session: at capacity")

// Hub is the WebSocket session multiplexer: it owns the HTTP upgrade
// handler, enforces the configured connection ceiling, and tracks every
// live Session so it can be inspected for stats/shutdown.
type Hub struct {
	bus    *broadcast.Bus
	logger *zap.Logger

	heartbeatInterval time.Duration
	clientTimeout     time.Duration
	maxConnections    int

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub constructs a Hub bound to bus, enforcing maxConnections concurrent
// sessions (0 means unlimited).
func NewHub(bus *broadcast.Bus, logger *zap.Logger, heartbeatInterval, clientTimeout time.Duration, maxConnections int) *Hub {
	return &Hub{
		bus:               bus,
		logger:            logger.Named("session_hub"),
		heartbeatInterval: heartbeatInterval,
		clientTimeout:     clientTimeout,
		maxConnections:    maxConnections,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and runs its
// session to completion. It blocks for the lifetime of the connection, so
// callers reach it through the usual per-request goroutine the net/http
// server already provides.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxConnections > 0 && h.Count() >= h.maxConnections {
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	sess := New(id, conn, h.bus, h.logger, h.heartbeatInterval, h.clientTimeout)

	h.mu.Lock()
	h.sessions[id] = sess
	h.mu.Unlock()
	h.logger.Info("session opened", zap.String("session_id", id), zap.Int("active", h.Count()))

	sess.Run()

	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
	h.logger.Info("session closed", zap.String("session_id", id), zap.Int("active", h.Count()))
}

// Count returns the number of currently tracked sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every live session's underlying connection, which
// unblocks each session's readPump and lets Run drain to completion.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.conn.Close()
	}
}
