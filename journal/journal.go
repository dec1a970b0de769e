// Package journal persists an append-only audit trail of service
// lifecycle operations in a local sqlite database. The journal is
// informational: the library never reads service state back from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one recorded operation outcome.
type Entry struct {
	ID        string
	Service   string
	Operation string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// Store is a sqlite-backed journal.
type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

// Open creates the journal database at dbPath, creating parent
// directories and the schema as needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limit the pool to a
	// single connection so all access is serialized at the Go level.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS operations (
		id         TEXT PRIMARY KEY,
		service    TEXT NOT NULL,
		operation  TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		detail     TEXT DEFAULT '',
		created_at TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Store{db: db, nowFn: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record appends one operation outcome. It satisfies the service
// manager's OperationRecorder interface.
func (s *Store) Record(ctx context.Context, service, operation, outcome, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (id, service, operation, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), service, operation, outcome, detail,
		s.nowFn().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first. An empty service
// matches every service; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, service string, limit int) ([]Entry, error) {
	query := `SELECT id, service, operation, outcome, detail, created_at
		FROM operations`
	var args []any
	if service != "" {
		query += " WHERE service = ?"
		args = append(args, service)
	}
	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Service, &e.Operation, &e.Outcome, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(createdAt)); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
