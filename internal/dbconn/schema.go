package dbconn

import "fmt"

// sqliteSchema creates the two tables the pipeline touches: the custom
// agent registry read by discovery and the log_entries table the storage
// sink writes. CREATE IF NOT EXISTS keeps startup idempotent.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS custom_agents (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	config TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	auto_discovery INTEGER NOT NULL DEFAULT 0,
	log_paths TEXT NOT NULL,
	format_type TEXT NOT NULL,
	filters TEXT NOT NULL DEFAULT '{}',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_custom_agents_user_name
	ON custom_agents (COALESCE(user_id, ''), name);

CREATE TABLE IF NOT EXISTS log_entries (
	timestamp TIMESTAMP NOT NULL,
	log_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	session_id TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	raw_log TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries (timestamp);
CREATE INDEX IF NOT EXISTS idx_log_entries_source ON log_entries (source_id, timestamp);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS custom_agents (
	id UUID PRIMARY KEY,
	user_id TEXT,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	config JSONB NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	auto_discovery BOOLEAN NOT NULL DEFAULT FALSE,
	log_paths TEXT NOT NULL,
	format_type VARCHAR(32) NOT NULL,
	filters JSONB NOT NULL DEFAULT '{}',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_custom_agents_user_name
	ON custom_agents (COALESCE(user_id, ''), name);

CREATE TABLE IF NOT EXISTS log_entries (
	timestamp TIMESTAMPTZ NOT NULL,
	log_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	session_id TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	raw_log TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries (timestamp);
CREATE INDEX IF NOT EXISTS idx_log_entries_source ON log_entries (source_id, timestamp);
`

// EnsureSchema applies the dialect-appropriate DDL for the pool's driver.
func EnsureSchema(p *Pool) error {
	schema := sqliteSchema
	if IsPostgres(p.Driver) {
		schema = postgresSchema
	}
	if _, err := p.Writer().Exec(schema); err != nil {
		return fmt.Errorf("dbconn: applying schema: %w", err)
	}
	return nil
}
