// Package parser implements the Parser Registry (C6): dispatch of raw
// lines/blobs to a format-specific parser, yielding LogEntrys. Parsers
// never throw — a fatal parse error either falls back to basic-line
// parsing or drops the input with a warning.
package parser

import (
	"path/filepath"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// Context carries the per-file information a parser needs beyond the raw
// bytes: which agent produced it, and the file path (for deriving source
// and, for claude-mcp-json, the server name embedded in the path).
type Context struct {
	AgentID   string
	AgentType model.AgentType
	FilePath  string
	Now       time.Time
}

// LineParser parses one line of text into zero or one LogEntry. Most
// formats are line-oriented.
type LineParser interface {
	ParseLine(ctx Context, line string) (*model.LogEntry, bool)
}

// BlobParser parses an entire file's bytes at once (used by
// claude-mcp-json, which re-reads the whole file).
type BlobParser interface {
	ParseBlob(ctx Context, data []byte) []model.LogEntry
}

// Registry dispatches raw input to the parser registered for a LogFormat.
type Registry struct {
	lineParsers map[model.LogFormat]LineParser
	blobParsers map[model.LogFormat]BlobParser
	fallback    LineParser
}

// NewRegistry builds a Registry with every required format parser
// pre-registered: basic-line, vscode-extension, cursor-mcp
// (registered under "mixed", Cursor's declared format), claude-mcp-json,
// json, structured.
func NewRegistry() *Registry {
	basic := &BasicLineParser{}
	r := &Registry{
		lineParsers: make(map[model.LogFormat]LineParser),
		blobParsers: make(map[model.LogFormat]BlobParser),
		fallback:    basic,
	}
	r.lineParsers[model.FormatText] = basic
	r.lineParsers[model.FormatVSCodeExtension] = &VSCodeExtensionParser{fallback: basic}
	r.lineParsers[model.FormatMixed] = &CursorMCPParser{fallback: basic}
	r.lineParsers[model.FormatJSON] = &JSONParser{fallback: basic}
	r.lineParsers[model.FormatStructured] = &JSONParser{fallback: basic}
	r.blobParsers[model.FormatClaudeMCPJSON] = &ClaudeMCPJSONParser{}
	return r
}

// ParseLine dispatches a single line to the registered parser for format,
// falling back to basic-line parsing for unknown formats or a parser that
// declines the input.
func (r *Registry) ParseLine(ctx Context, format model.LogFormat, line string) *model.LogEntry {
	if line == "" {
		return nil
	}
	p, ok := r.lineParsers[format]
	if !ok {
		p = r.fallback
	}
	entry, matched := p.ParseLine(ctx, line)
	if !matched || entry == nil {
		entry, _ = r.fallback.ParseLine(ctx, line)
	}
	if entry != nil {
		finalize(ctx, entry, line)
	}
	return entry
}

// ParseBlob dispatches a whole-file blob to the registered blob parser.
// Returns nil if format has no blob parser registered.
func (r *Registry) ParseBlob(ctx Context, format model.LogFormat, data []byte) []model.LogEntry {
	p, ok := r.blobParsers[format]
	if !ok {
		return nil
	}
	entries := p.ParseBlob(ctx, data)
	for i := range entries {
		finalize(ctx, &entries[i], string(data))
	}
	return entries
}

// finalize fills in the fields every LogEntry reaching the bus must carry
// and clamps any future-drifted timestamp.
func finalize(ctx Context, e *model.LogEntry, raw string) {
	if e.ID == "" {
		e.ID = model.NextEntryID(ctx.AgentID)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = ctx.Now
	}
	e.ClampFuture(ctx.Now)
	if !model.ValidLevel(e.Level) {
		e.Level = model.LevelInfo
	}
	// Parsers that don't derive their own source (claude-mcp-json does)
	// get the canonical "<agent_id>-<file-basename>" form.
	if e.Source == "" || e.Source == ctx.FilePath {
		e.Source = ctx.AgentID + "-" + filepath.Base(ctx.FilePath)
	}
	if e.AgentType == "" {
		e.AgentType = ctx.AgentType
	}
	if e.SessionID == "" {
		e.SessionID = "session-" + ctx.AgentID
	}
	if e.Raw == "" {
		e.Raw = raw
	}
}
