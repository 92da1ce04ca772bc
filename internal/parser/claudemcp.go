package parser

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// claudeMCPServerPattern extracts the server name from a claude-mcp-json
// log path, e.g. ".../mcp-logs-memory/session.txt" -> "memory".
var claudeMCPServerPattern = regexp.MustCompile(`mcp-logs-([^/]+)`)

// ClaudeMCPJSONParser implements the claude-mcp-json format: the whole
// file is one JSON document, read fresh on every change rather than
// tailed incrementally. A JSON array yields one entry per element; a
// single object yields one entry.
type ClaudeMCPJSONParser struct{}

type claudeMCPRecord struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	SessionID string      `json:"sessionId"`
	Raw       interface{} `json:"-"`
}

func (p *ClaudeMCPJSONParser) ParseBlob(ctx Context, data []byte) []model.LogEntry {
	server := "unknown"
	if m := claudeMCPServerPattern.FindStringSubmatch(ctx.FilePath); m != nil {
		server = m[1]
	}
	source := "claude-mcp-" + server

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		entries := make([]model.LogEntry, 0, len(arr))
		for _, raw := range arr {
			if e := p.parseOne(raw, source); e != nil {
				entries = append(entries, *e)
			}
		}
		return entries
	}

	if e := p.parseOne(data, source); e != nil {
		return []model.LogEntry{*e}
	}
	return nil
}

func (p *ClaudeMCPJSONParser) parseOne(raw json.RawMessage, source string) *model.LogEntry {
	var rec claudeMCPRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil
	}

	level := model.LevelInfo
	message := rec.Message
	if rec.Error != "" {
		level = model.LevelError
		message = rec.Error
	} else if message == "" && rec.Event != "" {
		message = rec.Event
	} else if message == "" {
		message = string(raw)
	}

	entry := &model.LogEntry{
		Level:     level,
		Message:   message,
		Source:    source,
		SessionID: rec.SessionID,
	}
	if rec.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp); err == nil {
			entry.Timestamp = ts
		} else if ts, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
			entry.Timestamp = ts
		}
	}
	return entry
}
