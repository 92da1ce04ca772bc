package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

func TestMemoryBus_DeliversToEverySubscriber(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	var gotA, gotB []*model.LogEntry
	var wg sync.WaitGroup
	wg.Add(2)

	b.Subscribe("a", 16, DropNewest, 0, func(ctx context.Context, e *model.LogEntry) {
		mu.Lock()
		gotA = append(gotA, e)
		mu.Unlock()
		if len(gotA) == 1 {
			wg.Done()
		}
	})
	b.Subscribe("b", 16, DropNewest, 0, func(ctx context.Context, e *model.LogEntry) {
		mu.Lock()
		gotB = append(gotB, e)
		mu.Unlock()
		if len(gotB) == 1 {
			wg.Done()
		}
	})

	entry := &model.LogEntry{ID: "1", Level: model.LevelInfo, Message: "hi"}
	b.PublishEntry(context.Background(), entry)

	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	assert.Equal(t, "1", gotA[0].ID)
}

func TestMemoryBus_DropNewestOnFullQueue(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	defer b.Close()

	block := make(chan struct{})
	sub := b.Subscribe("slow", 1, DropNewest, 0, func(ctx context.Context, e *model.LogEntry) {
		<-block
	})
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		b.PublishEntry(context.Background(), &model.LogEntry{ID: "x"})
	}
	close(block)

	entrySub := sub.(*entrySubscriber)
	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, entrySub.DropCount(), uint64(0))
}

func TestMemoryBus_ControlEventFanout(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	defer b.Close()

	received := make(chan *ControlEvent, 1)
	b.SubscribeControl("ctl", func(ctx context.Context, e *ControlEvent) {
		received <- e
	})

	b.PublishControl(context.Background(), &ControlEvent{Type: "path-invalid"})

	select {
	case e := <-received:
		assert.Equal(t, "path-invalid", e.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for control event")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for subscribers")
	}
}
