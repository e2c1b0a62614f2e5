package devserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

// Push event names.
const (
	EventJoin                    = "join"
	EventInitialNotifications    = "initialNotifications"
	EventNewNotification         = "newNotification"
	EventNotificationCreated     = "notification.created"
	EventUnreadCount             = "unreadCount"
	EventNotificationUnreadCount = "notification.unreadCount"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // dev only
}

// WSEvent is the push envelope.
type WSEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type wsInbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// connection represents a single WebSocket client
type connection struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	joined bool
}

// JoinFunc is called when an authenticated connection joins its user room.
// The returned events are sent to that connection only.
type JoinFunc func(userID string) []WSEvent

// Hub manages all active WebSocket connections
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*connection]struct{} // userID -> connections
	onJoin      JoinFunc
	logger      *zap.Logger
}

func NewHub(onJoin JoinFunc, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]map[*connection]struct{}),
		onJoin:      onJoin,
		logger:      logger,
	}
}

func (h *Hub) SetJoinFunc(fn JoinFunc) {
	h.mu.Lock()
	h.onJoin = fn
	h.mu.Unlock()
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.connections[c.userID]
	if !ok {
		set = make(map[*connection]struct{})
		h.connections[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.connections[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.connections, c.userID)
	}
}

// SendToUser delivers an event to every joined connection of userID and
// returns how many connections accepted it.
func (h *Hub) SendToUser(userID string, event WSEvent) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode push event", zap.String("event", event.Event), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.connections[userID] {
		if !c.joined {
			continue
		}
		select {
		case c.send <- data:
			delivered++
		default:
			// client too slow, drop
		}
	}
	return delivered
}

// Online reports whether userID has a joined connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections[userID] {
		if c.joined {
			return true
		}
	}
	return false
}

// CloseUser drops every connection of userID, as a server restart would.
func (h *Hub) CloseUser(userID string) int {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.connections[userID]))
	for c := range h.connections[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.conn.Close()
	}
	return len(conns)
}

// ServeWS upgrades the request and runs the pumps until disconnect.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &connection{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 256),
	}
	h.register(c)
	h.logger.Info("push client connected", zap.String("user_id", userID))

	go h.writePump(c)
	h.readPump(c) // blocks until disconnect
}

func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Info("push client disconnected", zap.String("user_id", c.userID))
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var in wsInbound
		if err := json.Unmarshal(msg, &in); err != nil {
			continue
		}

		switch in.Event {
		case EventJoin:
			var room string
			if err := json.Unmarshal(in.Data, &room); err != nil || room != c.userID {
				h.logger.Warn("join rejected", zap.String("user_id", c.userID), zap.String("room", room))
				continue
			}
			h.join(c)
		}
	}
}

func (h *Hub) join(c *connection) {
	h.mu.Lock()
	c.joined = true
	onJoin := h.onJoin
	h.mu.Unlock()

	if onJoin == nil {
		return
	}
	for _, ev := range onJoin(c.userID) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		h.mu.RLock()
		_, alive := h.connections[c.userID][c]
		if alive {
			select {
			case c.send <- data:
			default:
			}
		}
		h.mu.RUnlock()
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
