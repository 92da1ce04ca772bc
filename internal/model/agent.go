// Package model holds the shared domain types passed between pipeline
// components: discovered agents, watched files, canonical log entries,
// forwarder destinations, and supervised-service state.
package model

import "time"

// AgentType enumerates the log-producing programs this system recognizes.
type AgentType string

const (
	AgentClaudeDesktop AgentType = "claude-desktop"
	AgentClaudeCode    AgentType = "claude-code"
	AgentClaudeMCP     AgentType = "claude-mcp"
	AgentCursor        AgentType = "cursor"
	AgentVSCode        AgentType = "vscode"
	AgentGeminiCLI     AgentType = "gemini-cli"
)

// IsCustom reports whether t is one of the open "custom-*"/"mock-*" namespaces.
func (t AgentType) IsCustom() bool {
	return hasPrefix(string(t), "custom-") || hasPrefix(string(t), "mock-")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// LogFormat enumerates the wire shapes the Parser Registry understands.
type LogFormat string

const (
	FormatText            LogFormat = "text"
	FormatStructured      LogFormat = "structured"
	FormatJSON            LogFormat = "json"
	FormatVSCodeExtension LogFormat = "vscode-extension"
	FormatClaudeMCPJSON   LogFormat = "claude-mcp-json"
	FormatMixed           LogFormat = "mixed"
)

// AgentConfig is a discovered or user-defined log source.
type AgentConfig struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Type          AgentType              `json:"type"`
	Enabled       bool                   `json:"enabled"`
	LogPaths      []string               `json:"log_paths"`
	LogFormat     LogFormat              `json:"log_format"`
	LevelFilters  []string               `json:"level_filters,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	AutoDiscovery bool                   `json:"auto_discovery"`
}

// MetaBool reads a boolean metadata value, defaulting to false when absent
// or of the wrong type.
func (a *AgentConfig) MetaBool(key string) bool {
	if a.Metadata == nil {
		return false
	}
	v, ok := a.Metadata[key].(bool)
	return ok && v
}

// MetaString reads a string metadata value, defaulting to "" when absent.
func (a *AgentConfig) MetaString(key string) string {
	if a.Metadata == nil {
		return ""
	}
	v, _ := a.Metadata[key].(string)
	return v
}

// SetMeta sets (or lazily creates) a metadata entry.
func (a *AgentConfig) SetMeta(key string, value interface{}) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{})
	}
	a.Metadata[key] = value
}

// AcceptsLevel reports whether level passes this agent's level filter set.
// An empty filter set accepts every level.
func (a *AgentConfig) AcceptsLevel(level string) bool {
	if len(a.LevelFilters) == 0 {
		return true
	}
	for _, lv := range a.LevelFilters {
		if lv == level {
			return true
		}
	}
	return false
}

// WatchedFile is the runtime state of a tailed file, owned exclusively by
// the File Tailer and never mutated from another goroutine.
type WatchedFile struct {
	AgentID               string
	Path                  string
	ParserKey             LogFormat
	Offset                int64
	ErrorCount            int
	Healthy               bool
	LastActivity          time.Time
	PollingFallbackActive bool
	DropCount             uint64
	SeenRecordCount       int // claude-mcp-json array length as of the last re-read
}

// MaxConsecutiveErrors is the error threshold after which a watcher is
// demoted (tailer stops, or a control event is emitted).
const MaxConsecutiveErrors = 5
