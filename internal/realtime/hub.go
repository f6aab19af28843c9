// Package realtime fans out message events over websockets. Direct
// messages go to the recipient's connections; group messages go to
// every connection subscribed to the group.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cooperblacks/liaotian/internal/observability"
)

// Event is the wire format pushed to clients.
type Event struct {
	Type    string      `json:"type"` // message.direct, message.group, presence
	Payload interface{} `json:"payload"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	groups map[string]bool
}

// Hub tracks connections per user and per group under one lock.
type Hub struct {
	mu      sync.RWMutex
	byUser  map[string]map[*client]bool
	byGroup map[string]map[*client]bool
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		byUser:  make(map[string]map[*client]bool),
		byGroup: make(map[string]map[*client]bool),
		logger:  logger,
	}
}

// Register attaches a connection for a user and starts its pumps.
// groupIDs must already be authorization-checked by the caller.
func (h *Hub) Register(conn *websocket.Conn, userID string, groupIDs []string) {
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
		groups: make(map[string]bool, len(groupIDs)),
	}
	for _, g := range groupIDs {
		c.groups[g] = true
	}

	h.mu.Lock()
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*client]bool)
	}
	h.byUser[userID][c] = true
	for g := range c.groups {
		if h.byGroup[g] == nil {
			h.byGroup[g] = make(map[*client]bool)
		}
		h.byGroup[g][c] = true
	}
	h.mu.Unlock()

	observability.WSConnOpened()
	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set := h.byUser[c.userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	for g := range c.groups {
		if set := h.byGroup[g]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byGroup, g)
			}
		}
	}
	h.mu.Unlock()
	close(c.send)

	// unregister runs from the readPump defer, so the gauge drops on
	// abrupt disconnects too, not only on clean close frames.
	observability.WSConnClosed()
}

// SendToUser delivers an event to every connection of one user.
func (h *Hub) SendToUser(userID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	for c := range h.byUser[userID] {
		select {
		case c.send <- data:
		default:
			// Slow consumer: drop the event rather than block the hub.
			h.logger.Warn("dropping event, send buffer full", "user_id", userID)
		}
	}
	h.mu.RUnlock()
}

// SendToGroup delivers an event to every subscribed connection.
func (h *Hub) SendToGroup(groupID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	for c := range h.byGroup[groupID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping event, send buffer full", "group_id", groupID)
		}
	}
	h.mu.RUnlock()
}

// Online reports whether a user has at least one open connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// Clients only receive; inbound frames are drained for control flow.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket closed unexpectedly", "user_id", c.userID, "error", err)
			}
			return
		}
	}
}

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
