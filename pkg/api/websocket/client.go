package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/internal/constants"
)

const (
	// Time allowed to write a message to the peer
	writeWait = constants.DefaultWSWriteTimeout

	// Time allowed to read the next pong message from the peer
	pongWait = constants.DefaultWSPongTimeout

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client is one live feed connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	send   chan []byte
	mu     sync.Mutex
	closed bool

	logger *zap.Logger
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, constants.DefaultWSClientBuffer),
		logger: logger,
	}
}

// trySend queues a frame without blocking. It reports false when the buffer is full.
// A closed client swallows the frame.
func (c *Client) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads client requests until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		c.handleMessage(message)
	}
}

// WritePump writes queued frames and keep-alive pings until the send channel closes
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers one client request
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		c.acknowledge(TypeSubscribed, msg.Payload)
	case TypeUnsubscribe:
		c.acknowledge(TypeUnsubscribed, msg.Payload)
	case TypePing:
		c.sendMessage(Message{Type: TypePong})
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// acknowledge confirms a subscribe or unsubscribe request. Delivery is never filtered.
func (c *Client) acknowledge(status string, payload json.RawMessage) {
	ack := AckMessage{Status: status}
	if len(payload) > 0 {
		var req SubscribeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			c.sendError("invalid " + status + " request")
			return
		}
		ack.Request = &req
	}

	c.logger.Debug("feed request acknowledged", zap.String("status", status))
	c.sendPayload(status, ack)
}

func (c *Client) sendPayload(msgType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal payload", zap.Error(err))
		return
	}
	c.sendMessage(Message{Type: msgType, Payload: payload})
}

func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	if !c.trySend(data) {
		c.logger.Warn("client send buffer full, dropping message")
	}
}

func (c *Client) sendError(errMsg string) {
	c.sendPayload(TypeError, ErrorMessage{Error: errMsg})
}
