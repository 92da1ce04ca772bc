package parser

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// jsonLine is the shape gemini-cli and other structured-JSON agents emit:
// one JSON object per line, with a handful of common key spellings.
type jsonLine struct {
	Timestamp string                 `json:"timestamp"`
	Time      string                 `json:"time"`
	TS        string                 `json:"ts"`
	Level     string                 `json:"level"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Msg       string                 `json:"msg"`
	Session   string                 `json:"session_id"`
	Extra     map[string]interface{} `json:"-"`
}

// JSONParser decodes one JSON object per line (FormatJSON/FormatStructured).
// A line that fails to decode as JSON is not this parser's concern to
// recover: ParseLine reports matched=false so the registry retries with
// the basic-line fallback.
type JSONParser struct {
	fallback LineParser
}

func (p *JSONParser) ParseLine(ctx Context, line string) (*model.LogEntry, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] != '{' {
		return nil, false
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, false
	}

	var jl jsonLine
	_ = json.Unmarshal([]byte(trimmed), &jl)

	level := firstNonEmpty(jl.Level, jl.Severity)
	message := firstNonEmpty(jl.Message, jl.Msg)
	if message == "" {
		message = trimmed
	}
	ts := firstNonEmpty(jl.Timestamp, jl.Time, jl.TS)

	entry := &model.LogEntry{
		Level:     normalizeLevel(level),
		Message:   message,
		Source:    ctx.FilePath,
		SessionID: jl.Session,
		Metadata:  extraFields(raw),
	}
	if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		entry.Timestamp = parsed
	} else if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		entry.Timestamp = parsed
	}

	return entry, true
}

var jsonLineKeys = map[string]bool{
	"timestamp": true, "time": true, "ts": true,
	"level": true, "severity": true,
	"message": true, "msg": true,
	"session_id": true,
}

func extraFields(raw map[string]interface{}) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]interface{})
	for k, v := range raw {
		if !jsonLineKeys[k] {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
