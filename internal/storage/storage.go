// Package storage implements the Storage Sink (C8): a batched writer that
// buffers entries off the Ingestion Bus and bulk-inserts them into an
// external time-series engine, with bounded exponential-backoff retry and
// no durable queue of its own.
package storage

import (
	"context"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// LogEntryRow mirrors LogEntry with the explicit columns the external
// time-series engine stores.
type LogEntryRow struct {
	Timestamp time.Time              `json:"timestamp"`
	LogID     string                 `json:"log_id"`
	SourceID  string                 `json:"source_id"`
	Level     model.Level            `json:"level"`
	Message   string                 `json:"message"`
	AgentType model.AgentType        `json:"agent_type"`
	SessionID string                 `json:"session_id"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RawLog    string                 `json:"raw_log"`
}

// Filter narrows a Query to a subset of rows.
type Filter struct {
	AgentIDs  []string
	Levels    []model.Level
	Since     time.Time
	Until     time.Time
	TextMatch string
}

// SortOrder controls Query result ordering.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// Engine is the boundary to the external time-series store. The production
// adapter is backed by the config database via sqlx (see sqlengine.go); tests use
// the in-memory fake in memengine.go.
type Engine interface {
	Insert(ctx context.Context, batch []LogEntryRow) error
	Query(ctx context.Context, filter Filter, limit, offset int, sortBy string, order SortOrder) ([]LogEntryRow, error)
	Count(ctx context.Context, filter Filter) (int, error)
}

// RowFromEntry converts a bus LogEntry into the storage row shape.
func RowFromEntry(e *model.LogEntry) LogEntryRow {
	return LogEntryRow{
		Timestamp: e.Timestamp,
		LogID:     e.ID,
		SourceID:  e.Source,
		Level:     e.Level,
		Message:   e.Message,
		AgentType: e.AgentType,
		SessionID: e.SessionID,
		Metadata:  e.Metadata,
		RawLog:    e.Raw,
	}
}
