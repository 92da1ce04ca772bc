package model

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Level enumerates the canonical severities a LogEntry can carry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// ValidLevel reports whether l is one of the five canonical levels.
func ValidLevel(l Level) bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// LogEntry is the canonical record produced by the Parser Registry and
// carried across the Ingestion Bus to every subscriber.
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Source    string                 `json:"source"`
	AgentType AgentType              `json:"agent_type"`
	SessionID string                 `json:"session_id"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Raw       string                 `json:"raw"`
}

var entrySeq uint64

// NextEntryID returns a process-unique id of the form "<agentID>-<n>",
// monotonic per process via an atomic counter.
func NextEntryID(agentID string) string {
	n := atomic.AddUint64(&entrySeq, 1)
	return fmt.Sprintf("%s-%d", agentID, n)
}

// ClampFuture caps Timestamp so it never drifts into the future beyond the
// 1-second tolerance required by the "no future drift" invariant.
func (e *LogEntry) ClampFuture(now time.Time) {
	limit := now.Add(time.Second)
	if e.Timestamp.After(limit) {
		e.Timestamp = now
	}
}
