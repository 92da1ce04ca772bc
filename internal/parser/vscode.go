package parser

import (
	"regexp"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// vscodeLinePattern matches "YYYY-MM-DD HH:MM:SS.mmm [level] message", the
// format VS Code's and Cursor's extension-host log files share.
var vscodeLinePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}) \[(\w+)\] (.+)$`)

const vscodeTimeLayout = "2006-01-02 15:04:05.000"

// VSCodeExtensionParser implements the vscode-extension format:
// timestamped bracketed-level lines, with MCP lifecycle metadata
// mined out of the message body. Non-matching lines fall back to
// basic-line parsing.
type VSCodeExtensionParser struct {
	fallback  LineParser
	extractor metadataExtractor
}

func (p *VSCodeExtensionParser) ParseLine(ctx Context, line string) (*model.LogEntry, bool) {
	m := vscodeLinePattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	ts, err := time.Parse(vscodeTimeLayout, m[1])
	if err != nil {
		return nil, false
	}

	extractor := p.extractor
	if extractor == nil {
		extractor = vscodeMCPExtractor{}
	}

	return &model.LogEntry{
		Timestamp: ts,
		Level:     mapVSCodeLevel(m[2]),
		Message:   m[3],
		Source:    ctx.FilePath,
		Metadata:  extractor.Extract(m[3]),
	}, true
}

func mapVSCodeLevel(token string) model.Level {
	switch lower(token) {
	case "trace", "debug":
		return model.LevelDebug
	case "warning", "warn":
		return model.LevelWarn
	case "critical":
		return model.LevelFatal
	case "error":
		return model.LevelError
	case "info":
		return model.LevelInfo
	default:
		return model.LevelInfo
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
