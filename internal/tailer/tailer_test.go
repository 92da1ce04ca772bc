package tailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
	"github.com/akamalov/mcp-log-server-sub000/internal/parser"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collectEntries(b bus.Bus, n int, timeout time.Duration) []*model.LogEntry {
	got := make(chan *model.LogEntry, n)
	sub := b.Subscribe("test", 16, bus.DropNewest, 0, func(ctx context.Context, e *model.LogEntry) {
		got <- e
	})
	defer sub.Unsubscribe()

	var entries []*model.LogEntry
	deadline := time.After(timeout)
	for len(entries) < n {
		select {
		case e := <-got:
			entries = append(entries, e)
		case <-deadline:
			return entries
		}
	}
	return entries
}

func TestWatcher_BasicLineTwoEntries(t *testing.T) {
	path := writeFile(t, "[12:00:00] INFO hello\n[12:00:01] ERROR bad\n")
	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()

	w := New(Config{AgentID: "a1", AgentType: model.AgentClaudeDesktop, Path: path, Format: model.FormatText}, parser.NewRegistry(), b, logger.Default())

	entriesCh := make(chan *model.LogEntry, 4)
	sub := b.Subscribe("t", 16, bus.DropNewest, 0, func(ctx context.Context, e *model.LogEntry) { entriesCh <- e })
	defer sub.Unsubscribe()

	w.activate(context.Background())

	var entries []*model.LogEntry
	for len(entries) < 2 {
		select {
		case e := <-entriesCh:
			entries = append(entries, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for entries")
		}
	}

	require.Len(t, entries, 2)
	assert.Equal(t, model.LevelInfo, entries[0].Level)
	assert.Equal(t, "[12:00:00] INFO hello", entries[0].Message)
	assert.Equal(t, model.LevelError, entries[1].Level)
	assert.Equal(t, "[12:00:01] ERROR bad", entries[1].Message)
}

func TestWatcher_PartialLinePreservedUntilNextActivation(t *testing.T) {
	path := writeFile(t, "complete line one\n")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)

	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	w := New(Config{AgentID: "a1", Path: path, Format: model.FormatText}, parser.NewRegistry(), b, logger.Default())

	entries := make(chan *model.LogEntry, 8)
	sub := b.Subscribe("t", 16, bus.DropNewest, 0, func(ctx context.Context, e *model.LogEntry) { entries <- e })
	defer sub.Unsubscribe()

	w.activate(context.Background())
	_, err = f.WriteString("partial line no newline yet")
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	w.activate(context.Background())

	select {
	case e := <-entries:
		assert.Equal(t, "complete line one", e.Message)
	case <-time.After(time.Second):
		t.Fatal("expected first complete line")
	}

	select {
	case e := <-entries:
		t.Fatalf("unexpected entry for incomplete line: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = f.WriteString("\n")
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	f.Close()
	w.activate(context.Background())

	select {
	case e := <-entries:
		assert.Equal(t, "partial line no newline yet", e.Message)
	case <-time.After(time.Second):
		t.Fatal("expected completed partial line after newline arrived")
	}
}

func TestWatcher_TruncationResetsOffset(t *testing.T) {
	path := writeFile(t, "aaaaaaaaaa\nbbbbbbbbbb\n")
	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	w := New(Config{AgentID: "a1", Path: path, Format: model.FormatText}, parser.NewRegistry(), b, logger.Default())

	w.activate(context.Background())
	before := w.State().Offset
	require.Greater(t, before, int64(0))

	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	w.activate(context.Background())
	assert.LessOrEqual(t, w.State().Offset, int64(2))
}

func TestWatcher_ClaudeMCPJSONArray(t *testing.T) {
	content := `[{"timestamp":"2025-01-01T00:00:00Z","sessionId":"s1","message":"ok"},{"error":"boom","timestamp":"2025-01-01T00:00:01Z","sessionId":"s1"}]`
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp-logs-memory", "session.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	w := New(Config{AgentID: "a1", AgentType: model.AgentClaudeMCP, Path: path, Format: model.FormatClaudeMCPJSON}, parser.NewRegistry(), b, logger.Default())

	got := make(chan *model.LogEntry, 4)
	sub := b.Subscribe("t", 16, bus.DropNewest, 0, func(ctx context.Context, e *model.LogEntry) { got <- e })
	defer sub.Unsubscribe()

	w.activate(context.Background())

	var entries []*model.LogEntry
	for len(entries) < 2 {
		select {
		case e := <-got:
			entries = append(entries, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for claude-mcp-json entries")
		}
	}

	require.Len(t, entries, 2)
	assert.Equal(t, model.LevelInfo, entries[0].Level)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Equal(t, model.LevelError, entries[1].Level)
	assert.Equal(t, "s1", entries[1].SessionID)
	assert.Contains(t, entries[0].Source, "claude-mcp-memory")
}

func TestWatcher_MissingPathTerminatesAfterFiveErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.log")

	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	w := New(Config{AgentID: "a1", Path: path, Format: model.FormatText}, parser.NewRegistry(), b, logger.Default())

	var result activateResult
	for i := 0; i < model.MaxConsecutiveErrors; i++ {
		result = w.activate(context.Background())
	}
	assert.Equal(t, errTerminate, result)
	assert.False(t, w.State().Healthy)
}

func TestWatcher_EmptyFileNoEntries(t *testing.T) {
	path := writeFile(t, "")
	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	w := New(Config{AgentID: "a1", Path: path, Format: model.FormatText}, parser.NewRegistry(), b, logger.Default())

	result := w.activate(context.Background())
	assert.Equal(t, activateOK, result)
	assert.Equal(t, int64(0), w.State().Offset)
}

func TestWatcher_LevelFiltersDropNonRetainedLevels(t *testing.T) {
	path := writeFile(t, "INFO fine\nERROR bad\nDEBUG noisy\n")
	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()

	w := New(Config{
		AgentID:      "a1",
		Path:         path,
		Format:       model.FormatText,
		LevelFilters: []string{"error", "fatal"},
	}, parser.NewRegistry(), b, logger.Default())

	got := make(chan *model.LogEntry, 4)
	sub := b.Subscribe("t", 16, bus.DropNewest, 0, func(ctx context.Context, e *model.LogEntry) { got <- e })
	defer sub.Unsubscribe()

	w.activate(context.Background())

	select {
	case e := <-got:
		assert.Equal(t, model.LevelError, e.Level)
		assert.Equal(t, "ERROR bad", e.Message)
	case <-time.After(time.Second):
		t.Fatal("expected the error entry to pass the filter")
	}

	select {
	case e := <-got:
		t.Fatalf("unexpected entry passed the level filter: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}
