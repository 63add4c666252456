// Package push delivers status events to connected clients over WebSocket.
// Delivery is fire-and-forget: a slow or absent client never blocks a turn.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"health-companion/internal/chat"
)

type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[uuid.UUID][]*client
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	dropped bool
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID][]*client),
	}
}

// Publish implements chat.Publisher. Events for users without an open socket
// are dropped.
func (h *Hub) Publish(_ context.Context, userID uuid.UUID, event chat.StatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to marshal status event", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := h.conns[userID]
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// client not keeping up; the persisted timeline is the source of truth
		}
	}
}

// HandleWS upgrades the request and keeps the connection registered until it
// closes. The user id comes from the query string; auth is out of scope here.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 32)}
	h.mu.Lock()
	h.conns[userID] = append(h.conns[userID], c)
	h.mu.Unlock()

	go h.writeLoop(userID, c)
	go h.readLoop(userID, c)
}

func (h *Hub) writeLoop(userID uuid.UUID, c *client) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(userID, c)
			return
		}
	}
}

// readLoop exists only to detect the close.
func (h *Hub) readLoop(userID uuid.UUID, c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(userID, c)
			return
		}
	}
}

func (h *Hub) drop(userID uuid.UUID, c *client) {
	h.mu.Lock()
	if c.dropped {
		h.mu.Unlock()
		return
	}
	c.dropped = true
	clients := h.conns[userID]
	for i, existing := range clients {
		if existing == c {
			h.conns[userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	close(c.send)
	c.conn.Close()
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
	h.mu.Unlock()
}
