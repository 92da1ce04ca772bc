package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
)

// ClientMessage is the shape every client->server frame uses.
type ClientMessage struct {
	Type      string    `json:"type"`
	Channels  []Channel `json:"channels,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Connection wraps one subscriber.s WebSocket with the usual read/write
// pump split: ReadPump handles
// subscribe/unsubscribe/pong frames, WritePump drains the send queue and
// drives the ping heartbeat.
type Connection struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub

	send chan []byte

	mu       sync.Mutex
	channels map[Channel]bool
	closed   bool
	lastPong time.Time

	initialChannels []Channel
	logger          *logger.Logger
}

// NewConnection builds a Connection with an id of the form
// "<channel>_<millis>_<rand6>", seeded off the first
// requested channel (or "conn" if none yet).
func NewConnection(conn *websocket.Conn, channels []Channel, h *Hub, log *logger.Logger) *Connection {
	seed := "conn"
	if len(channels) > 0 {
		seed = string(channels[0])
	}
	id := newConnectionID(seed)
	return &Connection{
		ID:              id,
		conn:            conn,
		hub:             h,
		send:            make(chan []byte, sendQueueDepth),
		channels:        make(map[Channel]bool),
		lastPong:        time.Now(),
		initialChannels: channels,
		logger:          log.WithFields(zap.String("connection_id", id)),
	}
}

func newConnectionID(seed string) string {
	millis := time.Now().UnixMilli()
	var b [3]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s_%d_%s", seed, millis, hex.EncodeToString(b[:]))
}

func (c *Connection) enqueue(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		// Drop-oldest on a full per-client queue.
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- payload:
		default:
		}
	}
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Connection) touchPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *Connection) pongAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong)
}

// ReadPump processes client->server frames until the connection errors
// or closes, then unregisters itself from the hub.
func (c *Connection) ReadPump(ctx context.Context) {
	defer c.hub.Unregister(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("hub: read error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("hub: malformed client frame", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.hub.Subscribe(c, msg.Channels...)
		case "unsubscribe":
			c.hub.Unsubscribe(c, msg.Channels...)
		case "pong":
			c.touchPong()
		case "request-analytics":
			c.hub.Broadcast(ChannelAnalytics, MsgAnalyticsUpdate, map[string]interface{}{"requested_by": c.ID})
		}
	}
}

// WritePump drains the send queue to the WebSocket connection and drives
// the 30s ping heartbeat, closing the connection if last_pong age exceeds
// PongTimeout.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				// 1001 going-away on server-initiated shutdown.
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if c.pongAge() > PongTimeout {
				c.logger.Info("hub: closing idle connection", zap.Duration("pong_age", c.pongAge()))
				return
			}
			env := &Envelope{Type: MsgPing, Timestamp: time.Now().UTC()}
			payload, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
