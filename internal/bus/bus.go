// Package bus implements the Ingestion Bus (C7): a process-wide broadcast
// primitive that delivers every published LogEntry to each registered
// sink (Storage Sink, Subscriber Hub, Syslog Forwarder) and to per-agent
// control-event handlers, preserving per-source FIFO ordering to every
// subscriber independently.
package bus

import (
	"context"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// OverflowPolicy controls what a subscriber's queue does when full.
type OverflowPolicy int

const (
	// DropNewest discards the entry being published when the queue is full.
	DropNewest OverflowPolicy = iota
	// DropOldest discards the oldest queued entry to make room.
	DropOldest
	// BlockThenDropOldest blocks the publisher for a bounded timeout, then
	// falls back to DropOldest if the queue is still full.
	BlockThenDropOldest
)

// ControlEvent is an out-of-band notification (agent-disabled,
// path-invalid, service-down, storage-dropped, ...) published on the bus
// next to LogEntrys. Control events reach only the handlers registered
// with SubscribeControl; entry subscribers never see them.
type ControlEvent struct {
	Type      string                 `json:"type"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EntryHandler receives published LogEntrys.
type EntryHandler func(ctx context.Context, entry *model.LogEntry)

// ControlHandler receives published ControlEvents.
type ControlHandler func(ctx context.Context, event *ControlEvent)

// Subscription represents one registered sink.
type Subscription interface {
	Unsubscribe()
}

// Bus is the Ingestion Bus interface implemented by the in-memory
// broadcaster (default) and the NATS-backed one (when configured).
type Bus interface {
	// PublishEntry delivers entry to every subscriber, enforcing each
	// subscriber's own bounded-queue overflow policy.
	PublishEntry(ctx context.Context, entry *model.LogEntry)

	// PublishControl delivers a control event to every control subscriber.
	PublishControl(ctx context.Context, event *ControlEvent)

	// Subscribe registers a sink with the given queue depth and overflow
	// policy; handler runs on the bus's own goroutine per subscriber, so
	// FIFO per source is preserved within that subscriber's view.
	// blockTimeout is only consulted for BlockThenDropOldest.
	Subscribe(name string, queueDepth int, policy OverflowPolicy, blockTimeout time.Duration, handler EntryHandler) Subscription

	// SubscribeControl registers a control-event sink.
	SubscribeControl(name string, handler ControlHandler) Subscription

	// Close shuts down the bus and all subscriber goroutines.
	Close()
}
