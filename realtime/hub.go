package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const writeDeadline = 5 * time.Second

// Envelope is the wire frame for every server-to-client message.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes per connection
}

func (c *client) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[hub] write to %s failed: %v", c.id, err)
	}
}

// Hub tracks websocket connections and named rooms. It is the concrete
// Broadcaster for the process; services only see the interface.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]*client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
	}
}

// Register assigns a socket id to a connection and returns it.
func (h *Hub) Register(conn *websocket.Conn) string {
	c := &client{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c.id
}

// Unregister drops the connection and removes it from every room.
func (h *Hub) Unregister(socketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, socketID)
	for room, members := range h.rooms {
		delete(members, socketID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) Join(socketID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[socketID]
	if !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*client)
	}
	h.rooms[room][socketID] = c
}

func (h *Hub) Leave(socketID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, socketID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Emit sends an event to a room, or to a single socket when the target is a
// socket id. Unknown targets are dropped silently (best-effort delivery).
func (h *Hub) Emit(event string, payload any, target string) {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		log.Printf("[hub] failed to marshal %s event: %v", event, err)
		return
	}

	h.mu.RLock()
	var targets []*client
	if members, ok := h.rooms[target]; ok {
		targets = make([]*client, 0, len(members))
		for _, c := range members {
			targets = append(targets, c)
		}
	} else if c, ok := h.clients[target]; ok {
		targets = []*client{c}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.send(data)
	}
}
