package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"songpool-api-go/logcolors"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a frame to a client
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from a client
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Inbound messages are ignored, so cap them aggressively
	maxMessageSize = 512

	// Outbound frames queued per client before it is considered too slow
	sendBuffer = 32
)

// Frame is the JSON envelope every room event is delivered in.
type Frame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	TS      int64       `json:"ts"`
}

// client is one websocket subscriber in a room.
type client struct {
	roomID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans room events out to every websocket client subscribed to that
// room. Delivery is fire and forget: a client whose send queue is full is
// dropped rather than allowed to stall the broadcast.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]bool
	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Players connect from arbitrary party-host origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request to a websocket and subscribes it to roomID
// until the connection drops.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, roomID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{roomID: roomID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	log.Debugf("%s Client joined room %s (%d connected)", logcolors.LogHub, roomID, h.RoomClients(roomID))

	go c.writePump()
	go func() {
		c.readPump()
		h.unregister(c)
	}()

	return nil
}

// Broadcast delivers an event to every client in the room. Clients that
// cannot keep up are disconnected.
func (h *Hub) Broadcast(roomID, event string, payload interface{}) {
	frame := Frame{Event: event, Payload: payload, TS: time.Now().UnixMilli()}
	data, err := json.Marshal(frame)
	if err != nil {
		log.Errorf("%s Dropping %s event for room %s: %v", logcolors.LogHub, event, roomID, err)
		return
	}

	var stale []*client

	h.mu.RLock()
	for c := range h.rooms[roomID] {
		select {
		case c.send <- data:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		log.Warnf("%s Dropping slow client in room %s", logcolors.LogHub, roomID)
		h.unregister(c)
	}
}

// CloseRoom disconnects every client in the room, typically because the
// room itself was reaped.
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	clients := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
	}
	if len(clients) > 0 {
		log.Infof("%s Closed room %s (%d clients disconnected)", logcolors.LogHub, roomID, len(clients))
	}
}

// RoomClients returns how many clients are subscribed to the room.
func (h *Hub) RoomClients(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.roomID] == nil {
		h.rooms[c.roomID] = make(map[*client]bool)
	}
	h.rooms[c.roomID][c] = true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[c.roomID]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
			if len(clients) == 0 {
				delete(h.rooms, c.roomID)
			}
		}
	}
}

// readPump drains inbound messages so pings and close frames are processed.
// Room clients are listeners, anything they send is discarded.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes all writes to the connection, including keepalives.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
