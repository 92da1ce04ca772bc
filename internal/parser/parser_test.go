package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

func testCtx() Context {
	return Context{AgentID: "agent-1", AgentType: model.AgentClaudeDesktop, FilePath: "/tmp/a.log", Now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestRegistry_BasicLineFallback(t *testing.T) {
	r := NewRegistry()
	e := r.ParseLine(testCtx(), model.FormatText, "[ERROR] disk full")
	require.NotNil(t, e)
	assert.Equal(t, model.LevelError, e.Level)
	assert.Equal(t, "[ERROR] disk full", e.Message)
	assert.NotEmpty(t, e.ID)
}

func TestRegistry_BasicLine_NoLevelToken(t *testing.T) {
	r := NewRegistry()
	e := r.ParseLine(testCtx(), model.FormatText, "plain message with no prefix")
	require.NotNil(t, e)
	assert.Equal(t, model.LevelInfo, e.Level)
	assert.Equal(t, "plain message with no prefix", e.Message)
}

func TestRegistry_EmptyLineDropped(t *testing.T) {
	r := NewRegistry()
	e := r.ParseLine(testCtx(), model.FormatText, "")
	assert.Nil(t, e)
}

func TestVSCodeExtensionParser_MatchAndMetadata(t *testing.T) {
	r := NewRegistry()
	line := "2025-01-01 12:00:00.123 [info] MCP Server running on port 4123"
	e := r.ParseLine(testCtx(), model.FormatVSCodeExtension, line)
	require.NotNil(t, e)
	assert.Equal(t, model.LevelInfo, e.Level)
	assert.Equal(t, "4123", e.Metadata["mcpPort"])
	assert.Equal(t, 2025, e.Timestamp.Year())
}

func TestVSCodeExtensionParser_LevelMapping(t *testing.T) {
	r := NewRegistry()
	e := r.ParseLine(testCtx(), model.FormatVSCodeExtension, "2025-01-01 12:00:00.000 [critical] boom")
	require.NotNil(t, e)
	assert.Equal(t, model.LevelFatal, e.Level)
}

func TestVSCodeExtensionParser_FallsBackOnNoMatch(t *testing.T) {
	r := NewRegistry()
	e := r.ParseLine(testCtx(), model.FormatVSCodeExtension, "not a timestamped line")
	require.NotNil(t, e)
	assert.Equal(t, "not a timestamped line", e.Message)
}

func TestCursorMCPParser_PrimaryPattern(t *testing.T) {
	r := NewRegistry()
	line := "2025-01-01 12:00:00.000 [info] memory-server: heartbeat #42"
	e := r.ParseLine(testCtx(), model.FormatMixed, line)
	require.NotNil(t, e)
	assert.Equal(t, "42", e.Metadata["heartbeat"])
	assert.Equal(t, "memory-server", e.Metadata["serverTag"])
}

func TestCursorMCPParser_BracketLevelOverridesLineLevel(t *testing.T) {
	r := NewRegistry()
	line := "2025-01-01 12:00:00.000 [info] review-gate: [ERROR] validation failed"
	e := r.ParseLine(testCtx(), model.FormatMixed, line)
	require.NotNil(t, e)
	assert.Equal(t, model.LevelError, e.Level)
}

func TestCursorMCPParser_SecondaryPatternMCPTag(t *testing.T) {
	r := NewRegistry()
	line := "user-mcp-bridge: queue status nominal"
	e := r.ParseLine(testCtx(), model.FormatMixed, line)
	require.NotNil(t, e)
	assert.Equal(t, true, e.Metadata["queueStatus"])
}

func TestCursorMCPParser_SecondaryPatternNonMCPTagFallsBack(t *testing.T) {
	r := NewRegistry()
	line := "random-tag: not an mcp line"
	e := r.ParseLine(testCtx(), model.FormatMixed, line)
	require.NotNil(t, e)
	assert.Equal(t, "random-tag: not an mcp line", e.Message)
}

func TestJSONParser_DecodesCommonFields(t *testing.T) {
	r := NewRegistry()
	e := r.ParseLine(testCtx(), model.FormatJSON, `{"level":"warn","message":"slow request","timestamp":"2025-01-01T00:00:05Z","extra_field":"x"}`)
	require.NotNil(t, e)
	assert.Equal(t, model.LevelWarn, e.Level)
	assert.Equal(t, "slow request", e.Message)
	assert.Equal(t, "x", e.Metadata["extra_field"])
}

func TestJSONParser_InvalidJSONFallsBackToBasicLine(t *testing.T) {
	r := NewRegistry()
	e := r.ParseLine(testCtx(), model.FormatJSON, "not json at all")
	require.NotNil(t, e)
	assert.Equal(t, "not json at all", e.Message)
}

func TestClaudeMCPJSONParser_ArrayYieldsOneEntryPerElement(t *testing.T) {
	r := NewRegistry()
	ctx := testCtx()
	ctx.FilePath = "/home/u/.claude/projects/p/mcp-logs-memory/session.txt"
	data := []byte(`[{"timestamp":"2025-01-01T00:00:00Z","sessionId":"s1","message":"ok"},{"error":"boom","timestamp":"2025-01-01T00:00:01Z","sessionId":"s1"}]`)

	entries := r.ParseBlob(ctx, model.FormatClaudeMCPJSON, data)
	require.Len(t, entries, 2)
	assert.Equal(t, model.LevelInfo, entries[0].Level)
	assert.Equal(t, model.LevelError, entries[1].Level)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Equal(t, "s1", entries[1].SessionID)
	assert.Equal(t, "claude-mcp-memory", entries[0].Source)
	assert.Equal(t, "boom", entries[1].Message)
}

func TestClaudeMCPJSONParser_SingleObject(t *testing.T) {
	r := NewRegistry()
	ctx := testCtx()
	ctx.FilePath = "mcp-logs-retrieval/f.txt"
	entries := r.ParseBlob(ctx, model.FormatClaudeMCPJSON, []byte(`{"message":"hello","sessionId":"s2"}`))
	require.Len(t, entries, 1)
	assert.Equal(t, "claude-mcp-retrieval", entries[0].Source)
}

func TestFinalize_ClampsFutureTimestamp(t *testing.T) {
	r := NewRegistry()
	ctx := testCtx()
	e := r.ParseLine(ctx, model.FormatVSCodeExtension, "2099-01-01 12:00:00.000 [info] far future")
	require.NotNil(t, e)
	assert.True(t, e.Timestamp.Before(ctx.Now.Add(2*time.Second)))
}
