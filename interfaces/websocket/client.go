package websocket

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"proofcanvas/domain/collab"
	"proofcanvas/pkg/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize = 256
)

// Client is one websocket connection of an authenticated user in one room
type Client struct {
	id          string
	identity    auth.Identity
	problemID   string
	connectedAt time.Time
	maxMessage  int64

	hub  *Hub
	room *Room
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool

	logger *zap.Logger
}

// NewClient creates a client for an upgraded connection
func NewClient(identity auth.Identity, problemID string, conn *websocket.Conn, maxMessageBytes int64, hub *Hub, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	return &Client{
		id:          id,
		identity:    identity,
		problemID:   problemID,
		connectedAt: time.Now().UTC(),
		maxMessage:  maxMessageBytes,
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		logger: logger.With(
			zap.String("userID", identity.UserID),
			zap.String("connectionID", id),
			zap.String("problemID", problemID),
		),
	}
}

// ID returns the connection ID
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user
func (c *Client) UserID() string { return c.identity.UserID }

func (c *Client) presence() collab.PresenceRecord {
	return collab.PresenceRecord{
		UserID:      c.identity.UserID,
		Username:    c.identity.Username,
		DisplayName: c.identity.DisplayName,
		AvatarColor: c.identity.AvatarColor,
	}
}

// Start runs the read and write pumps. The client must be registered first.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// enqueue queues data for the write pump. It reports false only when the
// send buffer is full; a closed client silently discards.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) enqueueEnvelope(env collab.Envelope) bool {
	data, err := env.Marshal()
	if err != nil {
		c.logger.Error("Failed to marshal envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return false
	}
	return c.enqueue(data)
}

// close stops the write pump, which sends a close frame
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump hands every text frame to the hub until the connection fails
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
		c.logger.Debug("Read pump stopped")
	}()

	if c.maxMessage > 0 {
		c.conn.SetReadLimit(c.maxMessage)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.hub.handleInbound(c, bytes.TrimSpace(message))
		case websocket.BinaryMessage:
			c.logger.Warn("Binary messages not supported")
		}
	}
}

// writePump drains the send buffer to the connection and keeps it alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("Write pump stopped")
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				return
			}

			// drain what queued up meanwhile
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.logger.Warn("Failed to write batched message", zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}
