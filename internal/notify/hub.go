package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Notifier fans engine-generated events out to connected clients.
// Emission is fire-and-forget; a slow or dead client never blocks the engine.
type Notifier interface {
	Emit(event string, data interface{})
}

// Event names pushed to clients.
const (
	EventDeviceStatus     = "device.status"
	EventDeviceGhost      = "device.ghost"
	EventDetectSuccess    = "device.autodetect.success"
	EventDetectFailed     = "device.autodetect.failed"
	EventDetectStatus     = "device.autodetect.status"
	EventRoutineTriggered = "routine.triggered"
)

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub is a websocket fan-out of backend events.
type Hub struct {
	mu       sync.Mutex
	writeMu  sync.Mutex // gorilla conns allow one concurrent writer
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and registers the client until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("NOTIFY: Upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("NOTIFY: Client connected (%d online)", n)

	// Reader loop only detects close; clients do not send anything we use.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("NOTIFY: Client disconnected (%d online)", n)
}

// Emit pushes one event to every connected client, dropping clients whose
// writes fail.
func (h *Hub) Emit(event string, data interface{}) {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("NOTIFY: Failed to marshal %s event: %v", event, err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(conn)
		}
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
