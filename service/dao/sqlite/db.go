// Package sqlite stores checkpoints, their audit trail and supervised
// failures in a single SQLite database. Checkpoint transitions and the audit
// records describing them are written in one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const driverName = "sqlite3"

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id          TEXT PRIMARY KEY,
	module_id   TEXT NOT NULL,
	agent_id    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	type        TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	body        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS checkpoints_status ON checkpoints(status, module_id);

CREATE TABLE IF NOT EXISTS audit_records (
	kind          TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	id            TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	body          TEXT NOT NULL,
	PRIMARY KEY (kind, checkpoint_id, id)
);
CREATE INDEX IF NOT EXISTS audit_records_trail ON audit_records(kind, checkpoint_id, created_at);

CREATE TABLE IF NOT EXISTS failures (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	module_id  TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	body       TEXT NOT NULL
);
`

// DB is an open governance database.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating when needed) the database at path and applies the
// schema. A ":memory:" path keeps everything in process.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	logger.Debug("sqlite database opened", "path", path)
	return &DB{db: db, logger: logger}, nil
}

func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
}

// Close closes the database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Checkpoints returns the checkpoint store. It is also the audit store and
// commits transitions atomically.
func (d *DB) Checkpoints() *CheckpointStore {
	return &CheckpointStore{db: d.db, logger: d.logger}
}

// Failures returns the failure record store.
func (d *DB) Failures() *FailureStore {
	return &FailureStore{db: d.db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
