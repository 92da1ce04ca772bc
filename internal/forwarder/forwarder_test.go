package forwarder

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

func TestFormat_RFC5424ExactFrame(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := &model.ForwarderConfig{
		ID:              uuid.NewString(),
		Facility:        16,
		DefaultSeverity: 6,
		Format:          model.RFC5424,
	}
	entry := &model.LogEntry{
		ID:        "agent-1-1",
		Timestamp: ts,
		Level:     model.LevelError,
		Message:   "down",
	}

	frame := Format(cfg, entry, "myhost")
	expected := "<131>1 2025-01-01T00:00:00.000Z myhost loglensd " + strconv.Itoa(os.Getpid()) + " - - down"
	assert.Equal(t, expected, frame)
}

func TestFormat_RFC3164(t *testing.T) {
	ts := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	cfg := &model.ForwarderConfig{
		ID:              uuid.NewString(),
		Facility:        1,
		DefaultSeverity: 6,
		Format:          model.RFC3164,
		Metadata:        map[string]string{"tag": "myapp"},
	}
	entry := &model.LogEntry{ID: "a-1", Timestamp: ts, Level: model.LevelInfo, Message: "hello"}

	frame := Format(cfg, entry, "myhost")
	assert.Contains(t, frame, "myhost myapp: hello")
	assert.Equal(t, "<14>Jun 15 10:30:00 myhost myapp: hello", frame)
}

func TestFrameTCP_OctetCounting(t *testing.T) {
	assert.Equal(t, "5 hello", FrameTCP("hello"))
}

func TestPriority_Formula(t *testing.T) {
	for facility := 0; facility < 24; facility++ {
		for severity := 0; severity < 8; severity++ {
			assert.Equal(t, facility*8+severity, model.Priority(facility, severity))
		}
	}
}

func TestAgentIDFromEntry_ExtractsPrefixBeforeLastDash(t *testing.T) {
	entry := &model.LogEntry{ID: "custom-agent-with-dashes-42"}
	assert.Equal(t, "custom-agent-with-dashes", agentIDFromEntry(entry))
}

func TestTarget_AcceptsEvaluatesAllFilterDimensions(t *testing.T) {
	cfg := &model.ForwarderConfig{
		ID: uuid.NewString(),
		Filters: model.ForwarderFilters{
			AgentIDs:      []string{"agent-1"},
			Levels:        []string{"error", "fatal"},
			MessageRegexp: []string{"timeout", "down"},
		},
	}
	tg := newTarget(cfg, logger.Default())

	passing := &model.LogEntry{ID: "agent-1-9", Level: model.LevelError, Message: "connection down"}
	assert.True(t, tg.accepts(passing))

	wrongAgent := &model.LogEntry{ID: "agent-2-9", Level: model.LevelError, Message: "connection down"}
	assert.False(t, tg.accepts(wrongAgent))

	wrongLevel := &model.LogEntry{ID: "agent-1-9", Level: model.LevelInfo, Message: "connection down"}
	assert.False(t, tg.accepts(wrongLevel))

	noRegexMatch := &model.LogEntry{ID: "agent-1-9", Level: model.LevelError, Message: "all good"}
	assert.False(t, tg.accepts(noRegexMatch))
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syslog-forwarders.json")
	store := NewStore(path)

	cfg := &model.ForwarderConfig{
		ID: uuid.NewString(), Name: "primary", Host: "collector.internal", Port: 514,
		Protocol: model.ProtocolUDP, Facility: 16, DefaultSeverity: 6, Format: model.RFC5424,
		Enabled: true,
	}
	require.NoError(t, store.Save([]*model.ForwarderConfig{cfg}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, cfg.ID, loaded[0].ID)
	assert.Equal(t, cfg.Host, loaded[0].Host)
	assert.Equal(t, cfg.Port, loaded[0].Port)

	// Re-saving the same set is idempotent.
	require.NoError(t, store.Save(loaded))
	loadedAgain, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loadedAgain, 1)
}

func TestStore_MissingFileIsNotAnError(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	configs, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestManager_AddRemoveIdempotent(t *testing.T) {
	dir := t.TempDir()
	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	m := NewManager(b, filepath.Join(dir, "forwarders.json"), 10*time.Millisecond, 100*time.Millisecond, logger.Default())
	require.NoError(t, m.Start(context.Background()))
	defer m.Shutdown()

	cfg := &model.ForwarderConfig{ID: uuid.NewString(), Name: "f1", Host: "127.0.0.1", Port: 9999, Protocol: model.ProtocolUDP, Enabled: true}
	require.NoError(t, m.Add(cfg))
	require.Len(t, m.List(), 1)

	require.NoError(t, m.Remove(cfg.ID))
	assert.Empty(t, m.List())

	// Removing again is an idempotent no-op that reports not-found.
	err := m.Remove(cfg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_DeliversUDPFrameToRealListener(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	host, portStr, err := net.SplitHostPort(pc.LocalAddr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	m := NewManager(b, filepath.Join(t.TempDir(), "forwarders.json"), 10*time.Millisecond, 100*time.Millisecond, logger.Default())
	require.NoError(t, m.Start(context.Background()))
	defer m.Shutdown()

	cfg := &model.ForwarderConfig{
		ID: uuid.NewString(), Name: "udp-target", Host: host, Port: port,
		Protocol: model.ProtocolUDP, Facility: 1, DefaultSeverity: 6, Format: model.RFC5424, Enabled: true,
	}
	require.NoError(t, m.Add(cfg))

	entry := &model.LogEntry{ID: "agent-1-1", Timestamp: time.Now(), Level: model.LevelInfo, Message: "hello syslog"}
	b.PublishEntry(context.Background(), entry)

	buf := make([]byte, 1024)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "hello syslog")
}

func TestTestConnection_UnreachableHostErrors(t *testing.T) {
	_, err := TestConnection("127.0.0.1", 1, model.ProtocolTCP)
	assert.Error(t, err)
}
