package treewatcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
)

func TestWatcher_FlatScanFindsLogFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("x"), 0o644))

	var mu sync.Mutex
	var found []string
	w := New("agent-1", logger.Default(), func(agentID, path string) {
		mu.Lock()
		found = append(found, path)
		mu.Unlock()
	})
	w.AddRoot(dir, LayoutFlat, ".log", false)
	w.scan()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, found, 1)
	assert.Contains(t, found[0], "a.log")
}

func TestWatcher_ScanIsIdempotentForAlreadySeenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("x"), 0o644))

	var calls int
	w := New("agent-1", logger.Default(), func(agentID, path string) { calls++ })
	w.AddRoot(dir, LayoutFlat, ".log", false)

	w.scan()
	w.scan()
	assert.Equal(t, 1, calls)
}

func TestWatcher_VSCodeSessionLayout(t *testing.T) {
	dir := t.TempDir()
	session := filepath.Join(dir, "20250101T010101")
	extDir := filepath.Join(session, "window1", "exthost", "anysphere.cursor-mcp")
	require.NoError(t, os.MkdirAll(extDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(session, "root.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(extDir, "mcp.log"), []byte("x"), 0o644))

	var found []string
	w := New("agent-1", logger.Default(), func(agentID, path string) { found = append(found, path) })
	w.AddRoot(dir, LayoutVSCodeSession, ".log", false)
	w.scan()

	require.Len(t, found, 2)
}

func TestWatcher_ClaudeCLILayout(t *testing.T) {
	dir := t.TempDir()
	mcpDir := filepath.Join(dir, "my-project", "mcp-logs-memory")
	require.NoError(t, os.MkdirAll(mcpDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mcpDir, "session.txt"), []byte("x"), 0o644))

	var found []string
	w := New("agent-1", logger.Default(), func(agentID, path string) { found = append(found, path) })
	w.AddRoot(dir, LayoutClaudeCLI, "", false)
	w.scan()

	require.Len(t, found, 1)
	assert.Contains(t, found[0], "session.txt")
}
