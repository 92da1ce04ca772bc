// Package dbconn opens and pools the config database connection shared by
// the Custom Agent Store Adapter (C3) and the production Storage Sink (C8)
// time-series engine adapter: SQLite via mattn/go-sqlite3 (the configured
// default) or Postgres via pgx.
package dbconn

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// Dialect driver names, matched against sql.Open's driverName.
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"

	defaultBusyTimeout       = 5 * time.Second
	defaultSQLiteReaderConns = 4
)

// Pool provides separate read and write connections: SQLite serializes writes through one connection while
// allowing concurrent WAL readers; Postgres returns the same *sqlx.DB for
// both since pgx pools internally.
type Pool struct {
	Driver string
	writer *sqlx.DB
	reader *sqlx.DB
}

func (p *Pool) Writer() *sqlx.DB { return p.writer }
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both pools, avoiding a double-close when they're the same
// handle (Postgres).
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}

// OpenPostgres opens a pooled Postgres connection via pgx. maxConns/minConns
// default to 25/5 when zero.
func OpenPostgres(dsn string, maxConns, minConns int) (*Pool, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	x := sqlx.NewDb(db, DriverPostgres)
	return &Pool{Driver: DriverPostgres, writer: x, reader: x}, nil
}

// OpenSQLite opens a writer (single connection, WAL) and reader (multiple
// read-only connections) pair against dbPath.
func OpenSQLite(dbPath string) (*Pool, error) {
	normalized := normalizeSQLitePath(dbPath)
	if err := ensureDir(normalized); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}
	if err := ensureFile(normalized); err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}

	writerDSN := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared",
		normalized, int(defaultBusyTimeout/time.Millisecond),
	)
	writer, err := sql.Open(DriverSQLite, writerDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	readerDSN := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared",
		normalized, int(defaultBusyTimeout/time.Millisecond),
	)
	reader, err := sql.Open(DriverSQLite, readerDSN)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	reader.SetMaxOpenConns(defaultSQLiteReaderConns)
	reader.SetMaxIdleConns(defaultSQLiteReaderConns)

	return &Pool{
		Driver: DriverSQLite,
		writer: sqlx.NewDb(writer, DriverSQLite),
		reader: sqlx.NewDb(reader, DriverSQLite),
	}, nil
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func ensureFile(dbPath string) error {
	f, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func normalizeSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}
