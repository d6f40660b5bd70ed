package utility

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// RefreshMessage tells the page to reload its current screen.
const RefreshMessage = "REFRESH"

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Pages are served from the same origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// writeWait bounds a single write to a client.
const writeWait = 5 * time.Second

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Hub holds one live connection per visitor session.
type Hub struct {
	mu        sync.Mutex
	clients   map[string]*client
	writeWait time.Duration
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client), writeWait: writeWait}
}

// Register adds a connection, closing any older one for the same session.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[sessionID]; ok && old.conn != conn {
		old.conn.Close()
	}
	h.clients[sessionID] = &client{conn: conn}
	log.Debug().Str("session_id", sessionID).Msg("WebSocket client connected")
}

// Unregister removes conn if it is still the session's active connection.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[sessionID]; ok && cur.conn == conn {
		delete(h.clients, sessionID)
		log.Debug().Str("session_id", sessionID).Msg("WebSocket client disconnected")
	}
}

// Notify asks the session's page to refresh. It reports whether a client was reached.
// The write happens outside the hub lock so a stalled socket only delays its own session.
func (h *Hub) Notify(sessionID string) bool {
	h.mu.Lock()
	cl, ok := h.clients[sessionID]
	h.mu.Unlock()
	if !ok {
		return false
	}

	cl.wmu.Lock()
	cl.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	err := cl.conn.WriteMessage(websocket.TextMessage, []byte(RefreshMessage))
	cl.wmu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to send WS message, removing client")
		cl.conn.Close()
		h.mu.Lock()
		if cur, ok := h.clients[sessionID]; ok && cur == cl {
			delete(h.clients, sessionID)
		}
		h.mu.Unlock()
		return false
	}
	return true
}

// Len reports the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
