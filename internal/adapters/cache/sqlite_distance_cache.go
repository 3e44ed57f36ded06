package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"donation-logistics-service/internal/ports"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// SQLite backed cache for origin->destination distance results, used for
// local runs without Postgres. Keys are Coordinates.Key strings.
type SqliteDistanceCache struct {
	sqlCache
}

// OpenSqliteDistanceCache opens (or creates) the cache database at path
// and makes sure its table exists. ":memory:" is accepted.
func OpenSqliteDistanceCache(ctx context.Context, path string, maxAge time.Duration) (*SqliteDistanceCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite distance cache %q: %w", path, err)
	}
	// A single connection keeps an in-memory database alive and avoids
	// SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)

	c := NewSqliteDistanceCache(db, maxAge)
	if err := c.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func NewSqliteDistanceCache(db *sql.DB, maxAge time.Duration) *SqliteDistanceCache {
	return &SqliteDistanceCache{sqlCache: newSQLCache(db, sq.Question, maxAge)}
}

var _ ports.DistanceCache = (*SqliteDistanceCache)(nil)

func (s *SqliteDistanceCache) InitSchema(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("init sqlite distance cache schema: db is nil")
	}

	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS distance_cache (
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		distance_meters INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		cached_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (origin, destination)
	);
	`)
	if err != nil {
		return fmt.Errorf("init sqlite distance cache schema: %w", err)
	}
	return nil
}

func (s *SqliteDistanceCache) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
