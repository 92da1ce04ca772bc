package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/config"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// Sink accumulates LogEntrys off the bus and bulk-inserts them into an
// Engine, flushing on whichever comes first: batch size or flush
// interval. Insert failures retry with exponential backoff; once the
// attempt cap is exceeded the batch is dropped and a storage-dropped
// control event is published.
type Sink struct {
	mu       sync.Mutex
	pending  []LogEntryRow
	engine   Engine
	b        bus.Bus
	logger   *logger.Logger
	cfg      config.StorageConfig
	done     chan struct{}
	wg       sync.WaitGroup
	sub      bus.Subscription
	dropped  uint64
}

// NewSink builds a Sink that will flush into engine and subscribe to b.
func NewSink(engine Engine, b bus.Bus, cfg config.StorageConfig, log *logger.Logger) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 250 * time.Millisecond
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 8
	}
	return &Sink{engine: engine, b: b, cfg: cfg, logger: log}
}

// Start subscribes to the bus (blocking the publisher briefly on
// overflow, then dropping oldest) and begins the periodic flush loop.
func (s *Sink) Start() {
	s.done = make(chan struct{})
	s.sub = s.b.Subscribe("storage-sink", 1024, bus.BlockThenDropOldest, 50*time.Millisecond, s.onEntry)
	s.wg.Add(1)
	go s.flushLoop()
}

// Stop unsubscribes from the bus, stops the flush loop, and performs one
// final flush of whatever remains pending.
func (s *Sink) Stop() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	close(s.done)
	s.wg.Wait()
	s.flush(context.Background())
}

// onEntry is the bus.EntryHandler that appends an incoming entry to the
// pending batch, triggering an immediate flush once BatchSize is reached.
func (s *Sink) onEntry(ctx context.Context, e *model.LogEntry) {
	s.mu.Lock()
	s.pending = append(s.pending, RowFromEntry(e))
	shouldFlush := len(s.pending) >= s.cfg.BatchSize
	s.mu.Unlock()

	if shouldFlush {
		s.flush(ctx)
	}
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.flush(context.Background())
		}
	}
}

func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if err := s.insertWithRetry(ctx, batch); err != nil {
		s.logger.Error("storage sink: dropping batch after exhausting retries",
			zap.Int("count", len(batch)), zap.Error(err))
		s.dropped += uint64(len(batch))
		s.b.PublishControl(ctx, &bus.ControlEvent{
			Type:      "storage-dropped",
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"batch_size": len(batch)},
		})
	}
}

// insertWithRetry retries Engine.Insert with exponential backoff (base
// 200ms, factor 2, cap 30s, max 8 attempts).
func (s *Sink) insertWithRetry(ctx context.Context, batch []LogEntryRow) error {
	delay := s.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryMaxAttempts; attempt++ {
		if err := s.engine.Insert(ctx, batch); err == nil {
			return nil
		} else {
			lastErr = err
			s.logger.Warn("storage sink: insert failed, retrying",
				zap.Int("attempt", attempt), zap.Error(err))
		}
		if attempt == s.cfg.RetryMaxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > s.cfg.RetryMaxDelay {
			delay = s.cfg.RetryMaxDelay
		}
	}
	return lastErr
}

// DroppedCount returns the number of entries dropped after retry exhaustion.
func (s *Sink) DroppedCount() uint64 {
	return s.dropped
}
