package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/dbconn"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// SQLEngine implements Engine against the config database's log_entries
// table via the shared dbconn.Pool, supporting both the Postgres and
// SQLite dialects.
type SQLEngine struct {
	pool *dbconn.Pool
}

func NewSQLEngine(pool *dbconn.Pool) *SQLEngine {
	return &SQLEngine{pool: pool}
}

type logEntryRecord struct {
	Timestamp time.Time `db:"timestamp"`
	LogID     string    `db:"log_id"`
	SourceID  string    `db:"source_id"`
	Level     string    `db:"level"`
	Message   string    `db:"message"`
	AgentType string    `db:"agent_type"`
	SessionID string    `db:"session_id"`
	Metadata  string    `db:"metadata"`
	RawLog    string    `db:"raw_log"`
}

// Insert bulk-inserts batch in a single statement built from the driver's
// bindvar style; batches preserve their original order but callers may
// interleave across sources.
func (e *SQLEngine) Insert(ctx context.Context, batch []LogEntryRow) error {
	if len(batch) == 0 {
		return nil
	}
	writer := e.pool.Writer()

	var placeholders []string
	var args []interface{}
	for i, row := range batch {
		meta, err := json.Marshal(row.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for row %d: %w", i, err)
		}
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			row.Timestamp, row.LogID, row.SourceID, string(row.Level),
			row.Message, string(row.AgentType), row.SessionID, string(meta), row.RawLog,
		)
	}

	query := fmt.Sprintf(
		`INSERT INTO log_entries (timestamp, log_id, source_id, level, message, agent_type, session_id, metadata, raw_log) VALUES %s`,
		strings.Join(placeholders, ", "),
	)
	_, err := writer.ExecContext(ctx, writer.Rebind(query), args...)
	return err
}

func (e *SQLEngine) Query(ctx context.Context, filter Filter, limit, offset int, sortBy string, order SortOrder) ([]LogEntryRow, error) {
	reader := e.pool.Reader()

	where, args := buildWhere(filter)
	if sortBy == "" {
		sortBy = "timestamp"
	}
	dir := "ASC"
	if order == SortDescending {
		dir = "DESC"
	}

	query := fmt.Sprintf(
		`SELECT timestamp, log_id, source_id, level, message, agent_type, session_id, metadata, raw_log
		 FROM log_entries %s ORDER BY %s %s LIMIT ? OFFSET ?`,
		where, sortBy, dir,
	)
	args = append(args, limit, offset)

	var records []logEntryRecord
	if err := reader.SelectContext(ctx, &records, reader.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query log_entries: %w", err)
	}

	rows := make([]LogEntryRow, 0, len(records))
	for _, r := range records {
		row := LogEntryRow{
			Timestamp: r.Timestamp,
			LogID:     r.LogID,
			SourceID:  r.SourceID,
			Level:     model.Level(r.Level),
			Message:   r.Message,
			AgentType: model.AgentType(r.AgentType),
			SessionID: r.SessionID,
			RawLog:    r.RawLog,
		}
		_ = json.Unmarshal([]byte(r.Metadata), &row.Metadata)
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *SQLEngine) Count(ctx context.Context, filter Filter) (int, error) {
	reader := e.pool.Reader()
	where, args := buildWhere(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM log_entries %s`, where)

	var count int
	if err := reader.GetContext(ctx, &count, reader.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("count log_entries: %w", err)
	}
	return count, nil
}

func buildWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(f.AgentIDs) > 0 {
		ph := make([]string, len(f.AgentIDs))
		for i, id := range f.AgentIDs {
			ph[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, fmt.Sprintf("source_id IN (%s)", strings.Join(ph, ", ")))
	}
	if len(f.Levels) > 0 {
		ph := make([]string, len(f.Levels))
		for i, l := range f.Levels {
			ph[i] = "?"
			args = append(args, string(l))
		}
		clauses = append(clauses, fmt.Sprintf("level IN (%s)", strings.Join(ph, ", ")))
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.Until)
	}
	if f.TextMatch != "" {
		clauses = append(clauses, "message LIKE ?")
		args = append(args, "%"+f.TextMatch+"%")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
