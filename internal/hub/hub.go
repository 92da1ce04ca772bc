// Package hub implements the Subscriber Hub (C9): a gorilla/websocket
// fan-out hub with channel-based subscriptions (logs, analytics, health,
// agent-status, patterns), a register/unregister/broadcast scheduler
// loop, and a ping/pong heartbeat per connection.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// Channel enumerates the subscription topics a client can join.
type Channel string

const (
	ChannelLogs        Channel = "logs"
	ChannelAnalytics   Channel = "analytics"
	ChannelHealth      Channel = "health"
	ChannelAgentStatus Channel = "agent-status"
	ChannelPatterns    Channel = "patterns"
)

// MessageType enumerates the server->client frame types.
type MessageType string

const (
	MsgLogEntry        MessageType = "log-entry"
	MsgAnalyticsUpdate MessageType = "analytics-update"
	MsgAgentStatus     MessageType = "agent-status"
	MsgPatternAlert    MessageType = "pattern-alert"
	MsgHealthUpdate    MessageType = "health-update"
	MsgPing            MessageType = "ping"
	MsgPong            MessageType = "pong"
)

// Envelope is the wire shape every server->client frame uses.
type Envelope struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

const (
	// HeartbeatInterval is how often the server sends a ping.
	HeartbeatInterval = 30 * time.Second
	// PongTimeout is the maximum age of last_pong before the connection
	// is closed.
	PongTimeout = 60 * time.Second
	sendQueueDepth = 1024
)

// Hub manages every connected subscriber and fans out broadcasts to
// whichever connections have subscribed to the target channel.
type Hub struct {
	logger *logger.Logger
	b      bus.Bus

	register   chan *Connection
	unregister chan *Connection

	mu          sync.RWMutex
	connections map[*Connection]bool
	byChannel   map[Channel]map[*Connection]bool

	entrySub bus.Subscription

	stopCh chan struct{}
}

// New creates a Hub. If b is non-nil, the hub subscribes to the
// Ingestion Bus and fans every LogEntry out to "logs" subscribers.
func New(b bus.Bus, log *logger.Logger) *Hub {
	return &Hub{
		logger:      log.WithFields(zap.String("component", "subscriber-hub")),
		b:           b,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		connections: make(map[*Connection]bool),
		byChannel:   make(map[Channel]map[*Connection]bool),
		stopCh:      make(chan struct{}),
	}
}

// Run starts the hub's scheduler loop and, if a bus was wired, its
// LogEntry subscription. It blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.b != nil {
		h.entrySub = h.b.Subscribe("subscriber-hub", sendQueueDepth, bus.DropOldest, 0, h.onEntry)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.connections[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.removeConnection(c)
		}
	}
}

func (h *Hub) onEntry(ctx context.Context, e *model.LogEntry) {
	h.Broadcast(ChannelLogs, MsgLogEntry, e)
}

// Register adds a connection to the hub and subscribes it to the given
// initial channel set.
func (h *Hub) Register(c *Connection) {
	h.register <- c
	h.Subscribe(c, c.initialChannels...)
}

// Unregister removes a connection and drains its send queue without
// re-routing any pending messages.
func (h *Hub) Unregister(c *Connection) {
	h.unregister <- c
}

func (h *Hub) removeConnection(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	delete(h.connections, c)
	for ch := range c.channels {
		if set, ok := h.byChannel[ch]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byChannel, ch)
			}
		}
	}
	c.closeSend()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.connections {
		c.closeSend()
	}
	h.connections = make(map[*Connection]bool)
	h.byChannel = make(map[Channel]map[*Connection]bool)
	if h.entrySub != nil {
		h.entrySub.Unsubscribe()
	}
}

// Subscribe adds channels to a connection's subscription set.
func (h *Hub) Subscribe(c *Connection, channels ...Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		c.channels[ch] = true
		if h.byChannel[ch] == nil {
			h.byChannel[ch] = make(map[*Connection]bool)
		}
		h.byChannel[ch][c] = true
	}
}

// Unsubscribe removes channels from a connection's subscription set.
func (h *Hub) Unsubscribe(c *Connection, channels ...Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		delete(c.channels, ch)
		if set, ok := h.byChannel[ch]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byChannel, ch)
			}
		}
	}
}

// Broadcast delivers data to every connection subscribed to channel.
func (h *Hub) Broadcast(channel Channel, msgType MessageType, data interface{}) {
	env := &Envelope{Type: msgType, Timestamp: time.Now().UTC(), Data: data}
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("hub: failed to marshal broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.byChannel[channel]))
	for c := range h.byChannel[channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

// ConnectionCount returns the number of currently registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// ChannelSubscriberCount returns how many connections are subscribed to channel.
func (h *Hub) ChannelSubscriberCount(channel Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byChannel[channel])
}
