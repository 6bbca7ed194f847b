package sqlite

import (
	"context"
	"fmt"
	"time"

	"finclash/internal/cache"
)

// CacheStore mirrors durable cache entries into the cache_entries table.
type CacheStore struct {
	db *DB
}

// NewCacheStore returns a cache.DurableStore backed by db.
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db}
}

var _ cache.DurableStore = (*CacheStore)(nil)

// Save replaces the stored set with entries in one transaction.
func (s *CacheStore) Save(ctx context.Context, entries []cache.Entry) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite clear cache_entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_entries (key, data_type, data, stored_at, last_accessed_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx, e.Key, string(e.DataType), string(e.Data),
			e.StoredAt.UnixNano(), e.LastAccessedAt.UnixNano(), e.HitCount)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	s.db.log.Debug("durable cache saved", "entries", len(entries))
	return nil
}

// Load returns every stored entry. Rows with an unknown data type are skipped.
func (s *CacheStore) Load(ctx context.Context) ([]cache.Entry, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT key, data_type, data, stored_at, last_accessed_at, hit_count
		FROM cache_entries
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query cache_entries: %w", err)
	}
	defer rows.Close()

	var out []cache.Entry
	for rows.Next() {
		var (
			e                  cache.Entry
			dataType, data     string
			stored, lastAccess int64
		)
		if err := rows.Scan(&e.Key, &dataType, &data, &stored, &lastAccess, &e.HitCount); err != nil {
			return nil, fmt.Errorf("sqlite scan cache_entries: %w", err)
		}
		dt, err := cache.ParseDataType(dataType)
		if err != nil {
			s.db.log.Warn("skipping cached row", "key", e.Key, "err", err)
			continue
		}
		e.DataType = dt
		e.Data = []byte(data)
		e.StoredAt = time.Unix(0, stored).UTC()
		e.LastAccessedAt = time.Unix(0, lastAccess).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
