package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Priya8975/order-relay/internal/domain"
	"github.com/Priya8975/order-relay/internal/metrics"
)

const (
	sendBufferSize = 256
	readLimit      = 1024
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the API CORS middleware
	},
}

// Session commands
const (
	CommandJoinAdmin  = "join_admin"
	CommandJoinOrder  = "join_order"
	CommandLeaveOrder = "leave_order"
)

// Envelope is the frame exchanged with clients in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CommandLimiter caps how many commands a session may send.
type CommandLimiter interface {
	Allow(ctx context.Context, key string, limit int) bool
}

// Hub owns the live websocket sessions and delivers room-scoped events to
// them. Room membership is kept in a Registry.
type Hub struct {
	clients    map[string]*client
	mu         sync.RWMutex
	registry   *Registry
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *slog.Logger

	limiter      CommandLimiter
	commandLimit int
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a new WebSocket hub.
func NewHub(registry *Registry, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		registry:   registry,
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// WithCommandLimit rate-limits session commands to limit per second per
// session. A limit of zero disables it.
func (h *Hub) WithCommandLimit(limiter CommandLimiter, limit int) *Hub {
	h.limiter = limiter
	h.commandLimit = limit
	return h
}

// Registry returns the room registry backing the hub.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run processes session registration until ctx is cancelled. Should be
// called as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketSessions.Set(float64(total))
			h.logger.Debug("websocket session connected", "session_id", c.id, "total_sessions", total)

		case c := <-h.unregister:
			h.drop(c)
		}
	}
}

// drop removes a session from the hub and from every room. Safe to call more
// than once for the same session.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	current, ok := h.clients[c.id]
	ok = ok && current == c
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	rooms := h.registry.LeaveAll(c.id)
	if !ok {
		return
	}

	metrics.WebsocketSessions.Set(float64(total))
	h.logger.Debug("websocket session disconnected",
		"session_id", c.id,
		"rooms", rooms,
		"total_sessions", total,
	)
}

// Emit sends event to every session in room and returns how many sessions it
// reached. The broadcast room reaches every session. A session whose send
// buffer is full is disconnected; it never holds up the others.
func (h *Hub) Emit(room, event string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal websocket payload", "error", err, "event", event, "room", room)
		return 0
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal websocket envelope", "error", err, "event", event)
		return 0
	}

	var stale []*client
	sent := 0

	h.mu.RLock()
	if room == domain.RoomBroadcast {
		for _, c := range h.clients {
			if c.trySend(msg) {
				sent++
			} else {
				stale = append(stale, c)
			}
		}
	} else {
		for _, id := range h.registry.Members(room) {
			c, ok := h.clients[id]
			if !ok {
				continue
			}
			if c.trySend(msg) {
				sent++
			} else {
				stale = append(stale, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		metrics.WebsocketSessionsDroppedTotal.Inc()
		h.logger.Warn("websocket session send buffer full, dropping session", "session_id", c.id, "room", room)
		h.drop(c)
	}

	return sent
}

// trySend queues msg without blocking. Callers hold at least h.mu.RLock, so
// send is never closed underneath it.
func (c *client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) reply(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket reply", "error", err, "event", event, "session_id", c.id)
		return
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket envelope", "error", err, "event", event)
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; ok {
		c.trySend(msg)
	}
}

// HandleWebSocket upgrades HTTP connections to WebSocket and registers the session.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// handleCommand applies one inbound frame to the session's room membership.
func (h *Hub) handleCommand(c *client, raw []byte) {
	var cmd Envelope
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Event == "" {
		h.logger.Debug("ignoring malformed websocket command", "session_id", c.id, "error", err)
		c.reply(domain.EventError, map[string]string{"message": "malformed command"})
		return
	}

	if h.limiter != nil && !h.limiter.Allow(context.Background(), "session:"+c.id, h.commandLimit) {
		c.reply(domain.EventError, map[string]string{"message": "too many commands", "command": cmd.Event})
		return
	}

	switch cmd.Event {
	case CommandJoinAdmin:
		if h.join(c, domain.RoomAdmin) {
			h.logger.Info("session joined admin room", "session_id", c.id)
		}

	case CommandJoinOrder, CommandLeaveOrder:
		orderID, ok := parseOrderID(cmd.Data)
		if !ok {
			c.reply(domain.EventError, map[string]string{"message": "order id required", "command": cmd.Event})
			return
		}
		room := domain.OrderRoom(orderID)
		if cmd.Event == CommandJoinOrder {
			if h.join(c, room) {
				h.logger.Info("session joined order room", "session_id", c.id, "order_id", orderID)
			}
		} else {
			h.registry.Leave(c.id, room)
		}

	default:
		h.logger.Debug("ignoring unknown websocket command", "session_id", c.id, "command", cmd.Event)
	}
}

// join adds a live session to room. A session already dropped by the hub
// stays out of the registry even if its read pump is still draining frames.
func (h *Hub) join(c *client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if current, ok := h.clients[c.id]; !ok || current != c {
		h.logger.Debug("ignoring command from dropped session", "session_id", c.id, "room", room)
		return false
	}
	return h.registry.Join(c.id, room)
}

// parseOrderID accepts the order id as a JSON string or number.
func parseOrderID(data json.RawMessage) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil && n != "" {
		return n.String(), true
	}
	return "", false
}

// readPump reads session commands until the connection fails.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.hub.drop(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.hub.handleCommand(c, message)
	}
}

// writePump writes queued events and pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
