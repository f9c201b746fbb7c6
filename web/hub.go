package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Smartdcs2026/Scan-Dcs/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventHub pushes session events to websocket clients
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	// Connected clients
	clients map[string]*hubClient
	mu      sync.RWMutex

	// Called when a client reports operator activity
	onActivity func()

	allowedOrigins []string
	sendBufferSize int
}

type hubClient struct {
	id     string
	conn   *websocket.Conn
	hub    *EventHub
	logger *zap.Logger

	send chan []byte

	closed bool
	mu     sync.RWMutex

	connectedAt time.Time
	lastPing    time.Time
}

// HubMessage is the websocket envelope in both directions
type HubMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewEventHub creates a hub. onActivity may be nil.
func NewEventHub(allowedOrigins []string, sendBufferSize int, onActivity func(), logger *zap.Logger) *EventHub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if sendBufferSize <= 0 {
		sendBufferSize = 256
	}

	h := &EventHub{
		logger:         logger,
		clients:        make(map[string]*hubClient),
		onActivity:     onActivity,
		allowedOrigins: allowedOrigins,
		sendBufferSize: sendBufferSize,
	}

	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}

	return h
}

// checkOrigin validates the request origin against allowed origins
func (h *EventHub) checkOrigin(r *http.Request) bool {
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" {
			return true
		}
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no origin
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn("Origin not allowed",
		zap.String("origin", origin),
		zap.Strings("allowed_origins", h.allowedOrigins))
	return false
}

// HandleWebSocket upgrades the connection and registers the client
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()

	now := time.Now()
	client := &hubClient{
		id:          clientID,
		conn:        conn,
		hub:         h,
		logger:      h.logger.With(zap.String("client_id", clientID)),
		send:        make(chan []byte, h.sendBufferSize),
		connectedAt: now,
		lastPing:    now,
	}

	h.mu.Lock()
	h.clients[clientID] = client
	h.mu.Unlock()

	client.logger.Info("Client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.Header.Get("User-Agent")))

	go client.writePump()
	go client.readPump()
}

// Emit broadcasts one session event
func (h *EventHub) Emit(e session.Event) {
	h.Broadcast("event", e)
}

// Broadcast sends a message to every connected client. Clients whose buffer
// is full are dropped rather than stalling the sender.
func (h *EventHub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(HubMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal hub message", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.enqueue(payload); err != nil {
			c.logger.Warn("Dropping slow client", zap.Error(err))
			c.close()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *EventHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*hubClient)
	h.mu.Unlock()

	h.logger.Info("Closing event hub", zap.Int("clients", len(clients)))
	for _, c := range clients {
		c.close()
	}
}

func (c *hubClient) readPump() {
	defer c.close()

	for {
		var msg HubMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			c.mu.Lock()
			c.lastPing = time.Now()
			c.mu.Unlock()
			c.sendMessage("pong", nil)
		case "activity":
			if c.hub.onActivity != nil {
				c.hub.onActivity()
			}
		default:
			c.sendMessage("error", map[string]string{"message": fmt.Sprintf("unknown message type: %s", msg.Type)})
		}
	}
}

func (c *hubClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Error("WebSocket write error", zap.Error(err))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *hubClient) sendMessage(msgType string, data interface{}) {
	payload, err := json.Marshal(HubMessage{Type: msgType, Data: data})
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	if err := c.enqueue(payload); err != nil {
		c.close()
	}
}

func (c *hubClient) enqueue(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client connection closed")
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *hubClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.mu.Lock()
		delete(c.hub.clients, c.id)
		c.hub.mu.Unlock()
	}

	c.logger.Info("Client disconnected", zap.Duration("connected_for", time.Since(c.connectedAt)))
}
