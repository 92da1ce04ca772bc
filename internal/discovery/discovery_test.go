package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

func agentWithPaths(name string, typ model.AgentType, n int) model.AgentConfig {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = "/tmp/" + name
	}
	return model.AgentConfig{ID: name, Name: name, Type: typ, Enabled: true, LogPaths: paths}
}

func TestMergeClaude_PrefersMCPWithFiveOrMoreDirs(t *testing.T) {
	byClass := map[string][]model.AgentConfig{
		"claude-mcp":     {agentWithPaths("mcp", model.AgentClaudeMCP, 5)},
		"claude-desktop": {agentWithPaths("desktop", model.AgentClaudeDesktop, 1)},
	}
	out := mergeClaude(byClass)
	require.Len(t, out, 2)
	for _, cfg := range out {
		if cfg.Type == model.AgentClaudeMCP {
			assert.True(t, cfg.MetaBool("preferred"))
		} else {
			assert.False(t, cfg.MetaBool("preferred"))
		}
	}
}

func TestMergeClaude_DesktopWinsBelowThreshold(t *testing.T) {
	byClass := map[string][]model.AgentConfig{
		"claude-mcp":     {agentWithPaths("mcp", model.AgentClaudeMCP, 2)},
		"claude-desktop": {agentWithPaths("desktop", model.AgentClaudeDesktop, 1)},
	}
	out := mergeClaude(byClass)
	for _, cfg := range out {
		if cfg.Type == model.AgentClaudeDesktop {
			assert.True(t, cfg.MetaBool("preferred"))
		}
	}
}

func TestDiscover_AllDisabledReturnsNothing(t *testing.T) {
	d := New(Options{}, nil, logger.Default())
	agents, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, agents)
}

type staticCustomSource struct {
	agents []model.AgentConfig
}

func (s staticCustomSource) ListCustomAgents(ctx context.Context) ([]model.AgentConfig, error) {
	return s.agents, nil
}

func TestDiscover_DropsCustomAgentWithZeroValidPaths(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "ok.log")
	require.NoError(t, os.WriteFile(valid, []byte("x"), 0o644))

	custom := staticCustomSource{agents: []model.AgentConfig{
		{ID: "keep", Name: "keep", Type: "custom-keep", Enabled: true, LogPaths: []string{valid}},
		{ID: "drop", Name: "drop", Type: "custom-drop", Enabled: true, LogPaths: []string{filepath.Join(dir, "missing.log")}},
	}}

	d := New(Options{EnableReal: true}, custom, logger.Default())
	agents, err := d.Discover(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, a := range agents {
		if a.Type.IsCustom() {
			ids = append(ids, a.ID)
		}
	}
	assert.Equal(t, []string{"keep"}, ids)
}

func TestMixedModeEnablesBothDetectorSets(t *testing.T) {
	d := New(Options{MixedMode: true}, nil, logger.Default())
	assert.True(t, d.opts.EnableReal)
	assert.True(t, d.opts.EnableMock)
	// Six real classes plus the mock detector.
	assert.Len(t, d.detectors, 7)
}
