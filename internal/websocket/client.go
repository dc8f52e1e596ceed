package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// OriginChecker decides whether an upgrade request is allowed
type OriginChecker func(r *http.Request) bool

// AllowOrigins returns an OriginChecker for the given origins. An empty
// list or "*" allows every origin.
func AllowOrigins(origins []string) OriginChecker {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique client identifier
	ID string

	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	hub    *Hub
	logger *logrus.Logger

	UserAgent   string    `json:"user_agent"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`

	// Event types this client wants; empty means all
	subMu         sync.RWMutex
	subscriptions map[string]bool
}

// HandleWebSocket upgrades the request and registers the client with hub
func HandleWebSocket(hub *Hub, checkOrigin OriginChecker, w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		ID:            uuid.New().String(),
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           hub,
		logger:        hub.logger,
		UserAgent:     r.Header.Get("User-Agent"),
		RemoteAddr:    r.RemoteAddr,
		ConnectedAt:   time.Now(),
		subscriptions: make(map[string]bool),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// HandleWebSocketGin is a Gin-compatible wrapper for HandleWebSocket
func HandleWebSocketGin(hub *Hub, checkOrigin OriginChecker) gin.HandlerFunc {
	if checkOrigin == nil {
		checkOrigin = AllowOrigins(nil)
	}
	return func(c *gin.Context) {
		HandleWebSocket(hub, checkOrigin, c.Writer, c.Request)
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		c.hub.recordReceived()
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
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
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame
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

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.WithError(err).Warn("Failed to unmarshal WebSocket message")
		return
	}

	switch msg.Type {
	case "subscribe":
		c.Subscribe(eventList(msg.Data)...)
		c.reply(Message{Type: MessageTypeSubscriptionState, Data: map[string]interface{}{"events": c.Subscriptions()}})
	case "unsubscribe":
		c.Unsubscribe(eventList(msg.Data)...)
		c.reply(Message{Type: MessageTypeSubscriptionState, Data: map[string]interface{}{"events": c.Subscriptions()}})
	case "ping":
		c.reply(Message{Type: MessageTypePong, Data: map[string]interface{}{}})
	default:
		c.logger.WithField("message_type", msg.Type).Warn("Unknown WebSocket message type")
	}
}

// reply sends directly to this client without blocking the read loop
func (c *Client) reply(msg Message) {
	defer func() {
		// send may already be closed by the hub
		_ = recover()
	}()
	select {
	case c.send <- msg.ToJSON():
	default:
	}
}

func eventList(data map[string]interface{}) []string {
	raw, _ := data["events"].([]interface{})
	events := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			events = append(events, s)
		}
	}
	return events
}

// Subscribe limits the client to the given event types
func (c *Client) Subscribe(events ...string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, e := range events {
		c.subscriptions[e] = true
	}
	c.logger.WithFields(logrus.Fields{"client_id": c.ID, "events": events}).Debug("Client subscribed")
}

// Unsubscribe removes event types from the client's subscriptions
func (c *Client) Unsubscribe(events ...string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, e := range events {
		delete(c.subscriptions, e)
	}
}

// Subscriptions returns the subscribed event types
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for e := range c.subscriptions {
		out = append(out, e)
	}
	return out
}

// Wants reports whether a message of the given type should be delivered.
// Connection-level messages always are.
func (c *Client) Wants(messageType string) bool {
	switch messageType {
	case MessageTypeConnection, MessageTypeHeartbeat:
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[messageType]
}
