package customstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/dbconn"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

func openTestPool(t *testing.T) *dbconn.Pool {
	t.Helper()
	dir := t.TempDir()
	pool, err := dbconn.OpenSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, dbconn.EnsureSchema(pool))
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestStore_UpsertThenList(t *testing.T) {
	pool := openTestPool(t)
	store := New(pool, logger.Default())
	ctx := context.Background()

	cfg := model.AgentConfig{
		Name:      "my-custom-tool",
		Type:      "custom-tool",
		Enabled:   true,
		LogPaths:  []string{"/var/log/my-tool.log"},
		LogFormat: model.FormatText,
	}
	require.NoError(t, store.UpsertDiscovered(ctx, cfg))

	got, err := store.ListCustomAgents(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "my-custom-tool", got[0].Name)
	require.Equal(t, []string{"/var/log/my-tool.log"}, got[0].LogPaths)
	require.True(t, got[0].MetaBool("isCustom"))
}

func TestStore_UpsertIsIdempotentOnName(t *testing.T) {
	pool := openTestPool(t)
	store := New(pool, logger.Default())
	ctx := context.Background()

	cfg := model.AgentConfig{Name: "dup", Enabled: true, LogPaths: []string{"/a"}, LogFormat: model.FormatText}
	require.NoError(t, store.UpsertDiscovered(ctx, cfg))
	cfg.LogPaths = []string{"/a", "/b"}
	require.NoError(t, store.UpsertDiscovered(ctx, cfg))

	got, err := store.ListCustomAgents(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []string{"/a", "/b"}, got[0].LogPaths)
}

func TestStore_RejectsRowWithNoLogPaths(t *testing.T) {
	pool := openTestPool(t)
	_, err := pool.Writer().Exec(
		`INSERT INTO custom_agents (id, name, type, config, is_active, auto_discovery, log_paths, format_type, created_at, updated_at)
		 VALUES ('x', 'bad', 'custom', '{}', 1, 0, '[]', 'text', datetime('now'), datetime('now'))`,
	)
	require.NoError(t, err)

	store := New(pool, logger.Default())
	got, err := store.ListCustomAgents(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}
