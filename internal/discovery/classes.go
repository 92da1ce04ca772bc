package discovery

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/akamalov/mcp-log-server-sub000/internal/discovery/pathresolver"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// newAgentConfig builds an AgentConfig with a fresh id and discovery metadata.
func newAgentConfig(name string, typ model.AgentType, format model.LogFormat, paths []string, confidence float64) model.AgentConfig {
	cfg := model.AgentConfig{
		ID:            uuid.New().String(),
		Name:          name,
		Type:          typ,
		Enabled:       len(paths) > 0,
		LogPaths:      paths,
		LogFormat:     format,
		AutoDiscovery: true,
	}
	cfg.SetMeta("confidence", confidence)
	cfg.SetMeta("isWSL", pathresolver.IsRemoteVolumeHost())
	return cfg
}

// --- Claude Desktop ---------------------------------------------------

func claudeDesktopPaths() pathresolver.AgentPaths {
	return pathresolver.AgentPaths{
		Linux:   []string{"~/.config/Claude/logs"},
		MacOS:   []string{"~/Library/Application Support/Claude/logs"},
		Windows: []string{`%USERPROFILE%\AppData\Roaming\Claude\logs`},
	}
}

func detectClaudeDesktop(ctx context.Context) ([]model.AgentConfig, error) {
	var configs []model.AgentConfig
	for _, candidate := range pathresolver.Resolve(claudeDesktopPaths()) {
		if !isDir(candidate) {
			continue
		}
		logs := listFilesWithExt(candidate, ".log")
		if len(logs) == 0 {
			continue
		}
		cfg := newAgentConfig("Claude Desktop", model.AgentClaudeDesktop, model.FormatText, logs, 0.9)
		configs = append(configs, cfg)
	}
	return configs, nil
}

// --- Claude MCP CLI cache ----------------------------------------------

func claudeMCPPaths() pathresolver.AgentPaths {
	return pathresolver.AgentPaths{
		Linux:   []string{"~/.cache/claude-cli-nodejs"},
		MacOS:   []string{"~/Library/Caches/claude-cli-nodejs"},
		Windows: []string{`%USERPROFILE%\AppData\Local\claude-cli-nodejs\Cache`},
	}
}

func detectClaudeMCP(ctx context.Context) ([]model.AgentConfig, error) {
	var configs []model.AgentConfig
	for _, candidate := range pathresolver.Resolve(claudeMCPPaths()) {
		if !isDir(candidate) {
			continue
		}
		files := claudeCLILogFiles(candidate)
		if len(files) == 0 {
			continue
		}
		cfg := newAgentConfig("Claude MCP", model.AgentClaudeMCP, model.FormatClaudeMCPJSON, files, 0.85)
		configs = append(configs, cfg)
	}
	return configs, nil
}

// --- Claude Code (VS Code extension) ------------------------------------

func claudeCodeExtensionPaths() pathresolver.AgentPaths {
	return pathresolver.AgentPaths{
		Linux:   []string{"~/.config/Code/logs", "~/.config/Code/User/globalStorage/anthropic.claude-code"},
		MacOS:   []string{"~/Library/Application Support/Code/logs"},
		Windows: []string{`%USERPROFILE%\AppData\Roaming\Code\logs`},
	}
}

func detectClaudeCodeExtension(ctx context.Context) ([]model.AgentConfig, error) {
	var configs []model.AgentConfig
	for _, candidate := range pathresolver.Resolve(claudeCodeExtensionPaths()) {
		if !isDir(candidate) {
			continue
		}
		var files []string
		for _, session := range newestSessionDirs(candidate) {
			files = append(files, vscodeExtensionLogDirs(session)...)
		}
		if len(files) == 0 {
			continue
		}
		cfg := newAgentConfig("Claude Code", model.AgentClaudeCode, model.FormatVSCodeExtension, files, 0.75)
		configs = append(configs, cfg)
	}
	return configs, nil
}

// --- Cursor --------------------------------------------------------------

func cursorPaths() pathresolver.AgentPaths {
	return pathresolver.AgentPaths{
		Linux:   []string{"~/.config/Cursor/logs"},
		MacOS:   []string{"~/Library/Application Support/Cursor/logs"},
		Windows: []string{`%USERPROFILE%\AppData\Roaming\Cursor\logs`},
	}
}

func detectCursor(ctx context.Context) ([]model.AgentConfig, error) {
	var configs []model.AgentConfig
	for _, candidate := range pathresolver.Resolve(cursorPaths()) {
		if !isDir(candidate) {
			continue
		}
		var files []string
		for _, session := range newestSessionDirs(candidate) {
			files = append(files, vscodeExtensionLogDirs(session)...)
		}
		if len(files) == 0 {
			continue
		}
		cfg := newAgentConfig("Cursor", model.AgentCursor, model.FormatMixed, files, 0.7)
		configs = append(configs, cfg)
	}
	return configs, nil
}

// --- VS Code (generic, non-Claude) ---------------------------------------

func vscodePaths() pathresolver.AgentPaths {
	return pathresolver.AgentPaths{
		Linux:   []string{"~/.config/Code/logs"},
		MacOS:   []string{"~/Library/Application Support/Code/logs"},
		Windows: []string{`%USERPROFILE%\AppData\Roaming\Code\logs`},
	}
}

func detectVSCode(ctx context.Context) ([]model.AgentConfig, error) {
	var configs []model.AgentConfig
	for _, candidate := range pathresolver.Resolve(vscodePaths()) {
		if !isDir(candidate) {
			continue
		}
		var files []string
		for _, session := range newestSessionDirs(candidate) {
			files = append(files, listFilesWithExt(session, ".log")...)
		}
		if len(files) == 0 {
			continue
		}
		cfg := newAgentConfig("VS Code", model.AgentVSCode, model.FormatVSCodeExtension, files, 0.6)
		configs = append(configs, cfg)
	}
	return configs, nil
}

// --- Gemini CLI ------------------------------------------------------------

func geminiCLIPaths() pathresolver.AgentPaths {
	return pathresolver.AgentPaths{
		Linux:   []string{"~/.gemini/logs"},
		MacOS:   []string{"~/.gemini/logs"},
		Windows: []string{`%USERPROFILE%\.gemini\logs`},
	}
}

func detectGeminiCLI(ctx context.Context) ([]model.AgentConfig, error) {
	var configs []model.AgentConfig
	for _, candidate := range pathresolver.Resolve(geminiCLIPaths()) {
		if !isDir(candidate) {
			continue
		}
		logs := listFilesWithExt(candidate, ".log")
		if len(logs) == 0 {
			continue
		}
		cfg := newAgentConfig("Gemini CLI", model.AgentGeminiCLI, model.FormatStructured, logs, 0.8)
		configs = append(configs, cfg)
	}
	return configs, nil
}

// --- Mock agents (for test/demo harnesses) ---------------------------------

// detectMockAgents produces synthetic agents pointing at fixture
// directories under testdata, giving integration tests a scriptable
// fake agent.
func detectMockAgents(ctx context.Context) ([]model.AgentConfig, error) {
	root := filepath.Join(".", "testdata", "mock-agents")
	if !isDir(root) {
		return nil, nil
	}
	var configs []model.AgentConfig
	for _, dir := range listImmediateDirs(root) {
		logs := listFilesWithExt(dir, ".log")
		if len(logs) == 0 {
			continue
		}
		cfg := newAgentConfig("Mock "+filepath.Base(dir), model.AgentType("mock-"+filepath.Base(dir)), model.FormatText, logs, 1.0)
		cfg.SetMeta("isMock", true)
		configs = append(configs, cfg)
	}
	return configs, nil
}
