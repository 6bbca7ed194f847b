// Package sqlite holds the embedded storage: the durable cache mirror and
// the trade journal share one WAL-mode database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a single-writer SQLite handle.
type DB struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	logger.Info("sqlite opened", "path", path)
	return &DB{db: db, log: logger}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key              TEXT    PRIMARY KEY,
			data_type        TEXT    NOT NULL,
			data             TEXT    NOT NULL,
			stored_at        INTEGER NOT NULL,
			last_accessed_at INTEGER NOT NULL,
			hit_count        INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS trades (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT    NOT NULL UNIQUE,
			account_id  TEXT    NOT NULL,
			type        TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			price       TEXT    NOT NULL,
			quantity    INTEGER NOT NULL,
			total       TEXT    NOT NULL,
			profit_loss TEXT,
			executed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, seq);
	`)
	return err
}

// Ping checks the connection for health probes.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// SQL returns the underlying handle.
func (d *DB) SQL() *sql.DB { return d.db }

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
