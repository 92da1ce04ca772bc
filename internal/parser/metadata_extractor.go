package parser

import (
	"regexp"
	"strings"
)

// metadataExtractor pulls auxiliary key/value pairs out of a message body
// for one log format. It is isolated from the line-splitting/level-mapping
// logic above so the regex/string inference rules can be unit-tested
// without any file I/O, per the design note on testability.
type metadataExtractor interface {
	Extract(message string) map[string]interface{}
}

// vscodeMCPExtractor pulls MCP server lifecycle signals out of VS Code
// extension-host log messages.
type vscodeMCPExtractor struct{}

var (
	vscodePortPattern      = regexp.MustCompile(`MCP Server running on port (\d+)`)
	vscodeWSConnectPattern = regexp.MustCompile(`New WS connection`)
	vscodeWSDisconnPattern = regexp.MustCompile(`WS client disconnected`)
	vscodeTransportPattern = regexp.MustCompile(`MCP server connected to transport`)
	vscodeClientIDPattern  = regexp.MustCompile(`client_(\d+)`)
	vscodeClaudeCmdPattern = regexp.MustCompile(`run_claude_command`)
)

func (vscodeMCPExtractor) Extract(message string) map[string]interface{} {
	meta := map[string]interface{}{}
	if m := vscodePortPattern.FindStringSubmatch(message); m != nil {
		meta["mcpPort"] = m[1]
	}
	if vscodeWSConnectPattern.MatchString(message) {
		meta["wsEvent"] = "connected"
	}
	if vscodeWSDisconnPattern.MatchString(message) {
		meta["wsEvent"] = "disconnected"
	}
	if vscodeTransportPattern.MatchString(message) {
		meta["transportConnected"] = true
	}
	if m := vscodeClientIDPattern.FindStringSubmatch(message); m != nil {
		meta["clientID"] = m[1]
	}
	if vscodeClaudeCmdPattern.MatchString(message) {
		meta["claudeCommand"] = true
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// cursorMCPExtractor pulls MCP service/heartbeat/queue signals out of
// Cursor's MCP-server log messages.
type cursorMCPExtractor struct{}

var (
	cursorHeartbeatPattern = regexp.MustCompile(`heartbeat #(\d+)`)
	cursorJobPattern       = regexp.MustCompile(`(?i)processing job`)
	cursorQueuePattern     = regexp.MustCompile(`(?i)queue status`)
	cursorEmbeddedJSON     = regexp.MustCompile(`(\[\{.*\}\])`)
)

func (cursorMCPExtractor) Extract(message string) map[string]interface{} {
	meta := map[string]interface{}{}
	switch {
	case containsAny(message, "memory"):
		meta["mcpService"] = "memory"
	case containsAny(message, "review"):
		meta["mcpService"] = "review"
	case containsAny(message, "retrieval"):
		meta["mcpService"] = "retrieval"
	}
	if m := cursorHeartbeatPattern.FindStringSubmatch(message); m != nil {
		meta["heartbeat"] = m[1]
	}
	if cursorJobPattern.MatchString(message) {
		meta["jobProcessing"] = true
	}
	if cursorQueuePattern.MatchString(message) {
		meta["queueStatus"] = true
	}
	if m := cursorEmbeddedJSON.FindStringSubmatch(message); m != nil {
		meta["embeddedJSON"] = m[1]
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func containsAny(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
