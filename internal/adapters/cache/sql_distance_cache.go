package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"donation-logistics-service/internal/platform/obs"
	"donation-logistics-service/internal/ports"

	sq "github.com/Masterminds/squirrel"
)

// Both SQL dialects in use accept this upsert form.
const upsertDistance = `ON CONFLICT (origin, destination) DO UPDATE SET
	distance_meters = excluded.distance_meters,
	duration_seconds = excluded.duration_seconds,
	cached_at = excluded.cached_at`

// sqlCache is the query layer shared by the Postgres and SQLite caches.
// Rows older than maxAge read as misses; zero keeps them forever.
// cached_at holds unix seconds in both dialects.
type sqlCache struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	maxAge  time.Duration
	now     func() time.Time
}

func newSQLCache(db *sql.DB, placeholders sq.PlaceholderFormat, maxAge time.Duration) sqlCache {
	return sqlCache{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholders),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Fetch cached distances for one origin and multiple destinations.
func (c *sqlCache) GetMany(
	ctx context.Context,
	origin string,
	destinations []string,
) (_ map[string]ports.DistanceResult, err error) {
	defer obs.Time(ctx, "distance.cache.GetMany")(&err)

	if c.db == nil {
		return nil, errors.New("distance cache: db is nil")
	}
	if origin == "" {
		return nil, errors.New("get distance cache: origin must not be empty")
	}

	uniq := uniqueKeys(destinations)
	if len(uniq) == 0 {
		return map[string]ports.DistanceResult{}, nil
	}

	query := c.builder.
		Select("destination", "distance_meters", "duration_seconds").
		From("distance_cache").
		Where(sq.Eq{"origin": origin, "destination": uniq})
	if c.maxAge > 0 {
		query = query.Where(sq.Gt{"cached_at": c.now().Add(-c.maxAge).Unix()})
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("get distance cache: build query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get distance cache: query distance_cache table: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ports.DistanceResult, len(uniq))
	for rows.Next() {
		var dest string
		var meters, seconds int
		if err := rows.Scan(&dest, &meters, &seconds); err != nil {
			return nil, fmt.Errorf("get distance cache: scan rows: %w", err)
		}
		out[dest] = ports.DistanceResult{DistanceMeters: meters, DurationSeconds: seconds}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get distance cache: row iteration: %w", err)
	}
	return out, nil
}

// Store many cached distance results for a single origin in one statement.
func (c *sqlCache) PutMany(
	ctx context.Context,
	origin string,
	results map[string]ports.DistanceResult,
) (err error) {
	defer obs.Time(ctx, "distance.cache.PutMany")(&err)

	if c.db == nil {
		return errors.New("distance cache: db is nil")
	}
	if origin == "" {
		return errors.New("insert distance cache: origin must not be empty")
	}
	if len(results) == 0 {
		return nil
	}

	cachedAt := c.now().Unix()
	insert := c.builder.
		Insert("distance_cache").
		Columns("origin", "destination", "distance_meters", "duration_seconds", "cached_at")
	for dest, r := range results {
		if strings.TrimSpace(dest) == "" {
			return errors.New("insert distance cache: empty destination key")
		}
		insert = insert.Values(origin, dest, r.DistanceMeters, r.DurationSeconds, cachedAt)
	}

	q, args, err := insert.Suffix(upsertDistance).ToSql()
	if err != nil {
		return fmt.Errorf("insert distance cache: build query: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert distance cache origin=%q: %w", origin, err)
	}
	return nil
}

// SQLDistanceCache is a Postgres-backed cache for origin->destination
// distance results. The distance_cache table comes from the schema
// migrations.
type SQLDistanceCache struct {
	sqlCache
}

func NewSQLDistanceCache(db *sql.DB, maxAge time.Duration) *SQLDistanceCache {
	return &SQLDistanceCache{sqlCache: newSQLCache(db, sq.Dollar, maxAge)}
}

var _ ports.DistanceCache = (*SQLDistanceCache)(nil)

// uniqueKeys trims, drops blanks and deduplicates destination keys.
func uniqueKeys(destinations []string) []string {
	seen := map[string]struct{}{}
	uniq := make([]string, 0, len(destinations))
	for _, d := range destinations {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}

		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		uniq = append(uniq, d)
	}
	return uniq
}
