package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// cursorPrimaryPattern captures "ts [level] server-tag: message".
var cursorPrimaryPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}) \[(\w+)\] ([^:]+): (.+)$`)

// cursorSecondaryPattern captures a bare "tag: message" line, used when the
// tag itself signals an MCP server (user-*, *mcp*, review-gate*) without a
// timestamp/level prefix.
var cursorSecondaryPattern = regexp.MustCompile(`^([^:]+): (.+)$`)

// cursorBracketLevelPattern pulls an explicit level tag out of the message
// body, which takes priority over the line's own level token.
var cursorBracketLevelPattern = regexp.MustCompile(`(?i)\[(error|warn|debug|info)\]`)

// CursorMCPParser implements the "mixed" format Cursor.s MCP servers
// emit: a primary timestamped pattern, and a secondary bare
// "tag: message" pattern for MCP-tagged lines lacking a timestamp.
type CursorMCPParser struct {
	fallback  LineParser
	extractor metadataExtractor
}

func (p *CursorMCPParser) ParseLine(ctx Context, line string) (*model.LogEntry, bool) {
	extractor := p.extractor
	if extractor == nil {
		extractor = cursorMCPExtractor{}
	}

	if m := cursorPrimaryPattern.FindStringSubmatch(line); m != nil {
		ts, err := time.Parse(vscodeTimeLayout, m[1])
		level := cursorLevel(m[2], m[4])
		entry := &model.LogEntry{
			Level:    level,
			Message:  m[4],
			Source:   ctx.FilePath,
			Metadata: withServerTag(extractor.Extract(m[4]), m[3]),
		}
		if err == nil {
			entry.Timestamp = ts
		}
		return entry, true
	}

	if m := cursorSecondaryPattern.FindStringSubmatch(line); m != nil {
		tag := m[1]
		if isMCPTag(tag) {
			level := cursorLevel("info", m[2])
			return &model.LogEntry{
				Level:    level,
				Message:  m[2],
				Source:   ctx.FilePath,
				Metadata: withServerTag(extractor.Extract(m[2]), tag),
			}, true
		}
	}

	return nil, false
}

func isMCPTag(tag string) bool {
	lower := strings.ToLower(tag)
	return strings.HasPrefix(lower, "user-") ||
		strings.Contains(lower, "mcp") ||
		strings.HasPrefix(lower, "review-gate")
}

// cursorLevel prefers an explicit bracket tag embedded in the message body
// over the line's own level token.
func cursorLevel(lineLevel, message string) model.Level {
	if m := cursorBracketLevelPattern.FindStringSubmatch(message); m != nil {
		return normalizeLevel(m[1])
	}
	return normalizeLevel(lineLevel)
}

func withServerTag(meta map[string]interface{}, tag string) map[string]interface{} {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["serverTag"] = strings.TrimSpace(tag)
	return meta
}
