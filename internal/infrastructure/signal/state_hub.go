package signal

import (
	"net/http"
	"sync"
	"time"

	"sharecast/internal/core/domain"
	"sharecast/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // control API is bound to localhost by default
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StateEvent is pushed to every connected UI on each sharing state change.
type StateEvent struct {
	Type      string               `json:"type"`
	State     domain.SharingState  `json:"state"`
	Phase     string               `json:"phase"`
	Session   *domain.ShareSession `json:"session,omitempty"`
	Broadcast *domain.Broadcast    `json:"broadcast,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// SnapshotFunc builds the event sent to a client right after it connects.
type SnapshotFunc func() StateEvent

// StateHub fans sharing state changes out to websocket clients.
type StateHub struct {
	snapshot SnapshotFunc

	clients map[string]*hubClient
	mu      sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

type hubClient struct {
	conn *websocket.Conn
	send chan StateEvent
	done chan struct{}
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.done) })
}

func NewStateHub(snapshot SnapshotFunc, logger *zap.SugaredLogger) *StateHub {
	return &StateHub{
		snapshot:     snapshot,
		clients:      make(map[string]*hubClient),
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetPingInterval sets ping interval for WebSocket connections
func (h *StateHub) SetPingInterval(interval time.Duration) {
	h.pingInterval = interval
}

// SetPongTimeout sets pong timeout for WebSocket connections
func (h *StateHub) SetPongTimeout(timeout time.Duration) {
	h.pongTimeout = timeout
}

// Publish queues ev for every client. Slow clients that cannot keep up are
// dropped rather than blocking the caller.
func (h *StateHub) Publish(ev StateEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warnw("Dropping slow state subscriber",
				logger.Coded("state_hub_slow_client", nil, "client_id", id)...)
			c.close()
		}
	}
}

func (h *StateHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *StateHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	client := &hubClient{
		conn: conn,
		send: make(chan StateEvent, 16),
		done: make(chan struct{}),
	}
	if h.snapshot != nil {
		client.send <- h.snapshot()
	}

	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()
	h.logger.Infow("state subscriber connected", "client_id", id)

	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		h.logger.Infow("state subscriber disconnected", "client_id", id)
	}()

	conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
		return nil
	})

	// Reads only detect the peer going away.
	go func() {
		defer client.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-client.done:
			return
		case ev := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debugw("state push failed", "client_id", id, "error", err)
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}
