package opsserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient is a single connected WebSocket subscriber.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans lifecycle events out to every connected WebSocket client. It
// relays from a single status.Subscription, so the same non-blocking,
// drop-on-full posture the broadcaster itself uses applies to each
// client's own send buffer.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	logger  *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{clients: make(map[*wsClient]bool), logger: logger}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) broadcast(evt status.Event) {
	payload, err := json.Marshal(wireEvent{ID: evt.ID, Kind: string(evt.Kind), Error: errString(evt.Error)})
	if err != nil {
		h.logger.Error("failed to encode event for websocket fan-out", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("websocket client send buffer full, dropping event")
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type wireEvent struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Error string `json:"error,omitempty"`
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
