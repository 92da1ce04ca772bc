package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/config"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// entrySubject is the NATS subject every LogEntry is published on; the
// single-process in-memory bus fans these out locally, while NATSBus lets
// multiple aggregator processes share one ingestion stream.
const entrySubject = "logagg.entries"
const controlSubject = "logagg.control"

// NATSBus implements Bus over a NATS connection, for multi-process
// deployments. Local subscriber queueing/overflow semantics are identical
// to MemoryBus: NATS delivers the wire message, and a local entrySubscriber
// still owns the bounded queue and overflow policy.
type NATSBus struct {
	conn   *nats.Conn
	logger *logger.Logger
	mem    *MemoryBus // used for fan-out/overflow bookkeeping on this process
}

// NewNATSBus connects to NATS with reconnection handling and republishes every received entry onto a
// local MemoryBus for per-subscriber queue/overflow handling.
func NewNATSBus(cfg config.NATSConfig, log *logger.Logger) (*NATSBus, error) {
	mem := NewMemoryBus(log)

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats bus: disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats bus: reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("nats bus: error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &NATSBus{conn: conn, logger: log, mem: mem}

	if _, err := conn.Subscribe(entrySubject, func(msg *nats.Msg) {
		var entry model.LogEntry
		if err := json.Unmarshal(msg.Data, &entry); err != nil {
			log.Warn("nats bus: failed to decode entry", zap.Error(err))
			return
		}
		mem.PublishEntry(context.Background(), &entry)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to entries: %w", err)
	}

	if _, err := conn.Subscribe(controlSubject, func(msg *nats.Msg) {
		var event ControlEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn("nats bus: failed to decode control event", zap.Error(err))
			return
		}
		mem.PublishControl(context.Background(), &event)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to control events: %w", err)
	}

	log.Info("nats bus: connected", zap.String("url", cfg.URL))
	return b, nil
}

func (b *NATSBus) PublishEntry(ctx context.Context, entry *model.LogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		b.logger.Error("nats bus: failed to marshal entry", zap.Error(err))
		return
	}
	if err := b.conn.Publish(entrySubject, data); err != nil {
		b.logger.Error("nats bus: publish failed", zap.Error(err))
	}
}

func (b *NATSBus) PublishControl(ctx context.Context, event *ControlEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("nats bus: failed to marshal control event", zap.Error(err))
		return
	}
	if err := b.conn.Publish(controlSubject, data); err != nil {
		b.logger.Error("nats bus: control publish failed", zap.Error(err))
	}
}

func (b *NATSBus) Subscribe(name string, queueDepth int, policy OverflowPolicy, blockTimeout time.Duration, handler EntryHandler) Subscription {
	return b.mem.Subscribe(name, queueDepth, policy, blockTimeout, handler)
}

func (b *NATSBus) SubscribeControl(name string, handler ControlHandler) Subscription {
	return b.mem.SubscribeControl(name, handler)
}

func (b *NATSBus) Close() {
	b.mem.Close()
	b.conn.Close()
}
