package parser

import (
	"strings"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// levelProbes are checked in priority order against the lowercased line;
// the first hit wins. "err" intentionally also catches "error".
var levelProbes = []struct {
	tokens []string
	level  model.Level
}{
	{[]string{"fatal", "critical"}, model.LevelFatal},
	{[]string{"error", "err"}, model.LevelError},
	{[]string{"warn", "warning"}, model.LevelWarn},
	{[]string{"debug", "trace"}, model.LevelDebug},
}

// BasicLineParser is the universal fallback: every LogFormat falls back
// to it when its own parser declines a line, and it is the parser
// registered directly for FormatText. The level comes from a
// case-insensitive substring match anywhere in the line; the message is
// the whole trimmed line.
type BasicLineParser struct{}

// ParseLine always returns a non-nil entry for non-empty input: this is
// the parser of last resort and must never drop a line.
func (p *BasicLineParser) ParseLine(ctx Context, line string) (*model.LogEntry, bool) {
	trimmed := strings.TrimRight(line, "\r\n")
	if trimmed == "" {
		return nil, false
	}

	return &model.LogEntry{
		Level:   detectLevel(trimmed),
		Message: trimmed,
		Source:  ctx.FilePath,
	}, true
}

// detectLevel scans for level tokens in priority order, defaulting to info.
func detectLevel(line string) model.Level {
	lower := strings.ToLower(line)
	for _, probe := range levelProbes {
		for _, tok := range probe.tokens {
			if strings.Contains(lower, tok) {
				return probe.level
			}
		}
	}
	return model.LevelInfo
}

func normalizeLevel(token string) model.Level {
	switch strings.ToLower(token) {
	case "warning":
		return model.LevelWarn
	case "trace":
		return model.LevelDebug
	default:
		l := model.Level(strings.ToLower(token))
		if model.ValidLevel(l) {
			return l
		}
		return model.LevelInfo
	}
}
