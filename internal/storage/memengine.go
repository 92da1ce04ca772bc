package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// MemEngine is an in-memory Engine used by tests.
type MemEngine struct {
	mu   sync.Mutex
	rows []LogEntryRow
}

func NewMemEngine() *MemEngine {
	return &MemEngine{}
}

func (e *MemEngine) Insert(ctx context.Context, batch []LogEntryRow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows = append(e.rows, batch...)
	return nil
}

func (e *MemEngine) Query(ctx context.Context, filter Filter, limit, offset int, sortBy string, order SortOrder) ([]LogEntryRow, error) {
	e.mu.Lock()
	matched := make([]LogEntryRow, 0, len(e.rows))
	for _, r := range e.rows {
		if matches(r, filter) {
			matched = append(matched, r)
		}
	}
	e.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if order == SortDescending {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (e *MemEngine) Count(ctx context.Context, filter Filter) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, r := range e.rows {
		if matches(r, filter) {
			n++
		}
	}
	return n, nil
}

func matches(r LogEntryRow, f Filter) bool {
	if len(f.AgentIDs) > 0 && !containsStr(f.AgentIDs, r.SourceID) {
		return false
	}
	if len(f.Levels) > 0 && !containsLevel(f.Levels, r.Level) {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsLevel(list []model.Level, v model.Level) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}
