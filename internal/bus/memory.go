package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// MemoryBus implements Bus using in-memory goroutines and channels, one
// pump per subscriber. Subscriber list is append-only under a lock and
// traversed lock-free on publish via an immutable snapshot.
type MemoryBus struct {
	logger *logger.Logger

	mu        sync.Mutex
	entrySubs atomic.Value // []*entrySubscriber
	ctrlSubs  atomic.Value // []*controlSubscriber

	closed bool
}

type entrySubscriber struct {
	name         string
	queue        chan *model.LogEntry
	policy       OverflowPolicy
	blockTimeout time.Duration
	handler      EntryHandler
	dropCount    uint64
	done         chan struct{}
	bus          *MemoryBus
}

type controlSubscriber struct {
	name    string
	handler ControlHandler
	bus     *MemoryBus
}

// NewMemoryBus creates an in-memory Ingestion Bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	b := &MemoryBus{logger: log}
	b.entrySubs.Store([]*entrySubscriber{})
	b.ctrlSubs.Store([]*controlSubscriber{})
	return b
}

// Subscribe registers an entry sink and starts its pump goroutine.
func (b *MemoryBus) Subscribe(name string, queueDepth int, policy OverflowPolicy, blockTimeout time.Duration, handler EntryHandler) Subscription {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	sub := &entrySubscriber{
		name:         name,
		queue:        make(chan *model.LogEntry, queueDepth),
		policy:       policy,
		blockTimeout: blockTimeout,
		handler:      handler,
		done:         make(chan struct{}),
		bus:          b,
	}

	b.mu.Lock()
	current := b.entrySubs.Load().([]*entrySubscriber)
	next := make([]*entrySubscriber, len(current)+1)
	copy(next, current)
	next[len(current)] = sub
	b.entrySubs.Store(next)
	b.mu.Unlock()

	go sub.pump()

	b.logger.Info("bus: subscriber registered", zap.String("name", name))
	return sub
}

// SubscribeControl registers a control-event sink. Handlers run inline on
// the publishing goroutine since control events are low-volume and
// best-effort; a slow handler only delays other control handlers, never
// entry delivery.
func (b *MemoryBus) SubscribeControl(name string, handler ControlHandler) Subscription {
	sub := &controlSubscriber{name: name, handler: handler, bus: b}

	b.mu.Lock()
	current := b.ctrlSubs.Load().([]*controlSubscriber)
	next := make([]*controlSubscriber, len(current)+1)
	copy(next, current)
	next[len(current)] = sub
	b.ctrlSubs.Store(next)
	b.mu.Unlock()

	return sub
}

// PublishEntry delivers entry to every subscriber's queue, applying each
// subscriber's overflow policy independently.
func (b *MemoryBus) PublishEntry(ctx context.Context, entry *model.LogEntry) {
	subs := b.entrySubs.Load().([]*entrySubscriber)
	for _, sub := range subs {
		sub.deliver(entry)
	}
}

// PublishControl delivers event to every control subscriber, inline.
func (b *MemoryBus) PublishControl(ctx context.Context, event *ControlEvent) {
	subs := b.ctrlSubs.Load().([]*controlSubscriber)
	for _, sub := range subs {
		sub.handler(ctx, event)
	}
}

// Close stops every subscriber pump. No further PublishEntry calls should
// be made after Close.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	subs := b.entrySubs.Load().([]*entrySubscriber)
	for _, sub := range subs {
		close(sub.done)
		close(sub.queue)
	}
	b.entrySubs.Store([]*entrySubscriber{})
	b.ctrlSubs.Store([]*controlSubscriber{})
	b.logger.Info("bus: closed")
}

// deliver enqueues entry per the subscriber's overflow policy. It never
// blocks indefinitely: DropNewest/DropOldest are non-blocking;
// BlockThenDropOldest blocks for at most blockTimeout before falling back
// to drop-oldest.
func (s *entrySubscriber) deliver(entry *model.LogEntry) {
	select {
	case s.queue <- entry:
		return
	default:
	}

	switch s.policy {
	case DropNewest:
		atomic.AddUint64(&s.dropCount, 1)
	case DropOldest:
		s.dropOldestAndPush(entry)
	case BlockThenDropOldest:
		timer := time.NewTimer(s.blockTimeout)
		defer timer.Stop()
		select {
		case s.queue <- entry:
			return
		case <-timer.C:
			s.dropOldestAndPush(entry)
		}
	}
}

func (s *entrySubscriber) dropOldestAndPush(entry *model.LogEntry) {
	select {
	case <-s.queue:
		atomic.AddUint64(&s.dropCount, 1)
	default:
	}
	select {
	case s.queue <- entry:
	default:
		atomic.AddUint64(&s.dropCount, 1)
	}
}

// DropCount returns the number of entries this subscriber has dropped.
func (s *entrySubscriber) DropCount() uint64 {
	return atomic.LoadUint64(&s.dropCount)
}

func (s *entrySubscriber) pump() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		case entry, ok := <-s.queue:
			if !ok {
				return
			}
			s.handler(ctx, entry)
		}
	}
}

// Unsubscribe stops this subscriber's pump and removes it from the bus.
func (s *entrySubscriber) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	current := s.bus.entrySubs.Load().([]*entrySubscriber)
	next := make([]*entrySubscriber, 0, len(current))
	for _, sub := range current {
		if sub != s {
			next = append(next, sub)
		}
	}
	s.bus.entrySubs.Store(next)

	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Unsubscribe removes a control subscriber from the bus.
func (s *controlSubscriber) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	current := s.bus.ctrlSubs.Load().([]*controlSubscriber)
	next := make([]*controlSubscriber, 0, len(current))
	for _, sub := range current {
		if sub != s {
			next = append(next, sub)
		}
	}
	s.bus.ctrlSubs.Store(next)
}
