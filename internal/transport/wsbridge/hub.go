// Package wsbridge adapts the notify.Notifier contract onto a WebSocket
// broadcast hub, the external-collaborator boundary for the system's
// /ws/events surface. Grounded on api.py's websocket_endpoint/
// broadcast_job_update and RedClaus-cortex's gorilla/websocket usage.
package wsbridge

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/opsgate/opsgate/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks connected WebSocket clients and broadcasts notify.Event values
// to all of them as JSON.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub. A Hub implements notify.Notifier.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

var _ notify.Notifier = (*Hub)(nil)

// ServeHTTP upgrades the connection and keeps it registered until the
// client disconnects, matching the teacher's accept-then-block idiom in
// its daemon accept loop.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Notify broadcasts ev to every connected client, dropping and unregistering
// any client whose write fails.
func (h *Hub) Notify(ev notify.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}
