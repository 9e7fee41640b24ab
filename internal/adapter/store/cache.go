package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"autopilot/internal/domain"
)

var _ domain.CacheStore = (*DB)(nil)

// HitCache bumps the hit counter and returns the updated entry in one
// statement. A missing hash yields ErrCacheMiss.
func (s *DB) HitCache(ctx context.Context, hash string, now time.Time) (*domain.CachedResponse, error) {
	var c *domain.CachedResponse
	err := s.WithRetry(ctx, "Store.HitCache", func() error {
		row := s.db.QueryRowContext(ctx,
			`UPDATE cached_responses SET hits = hits + 1, last_hit_at = ? WHERE hash = ?
			RETURNING hash, query, response, model, hits, last_hit_at, created_at`,
			formatTime(now), hash,
		)
		var (
			entry   domain.CachedResponse
			lastHit sql.NullString
			created string
		)
		if err := row.Scan(&entry.Hash, &entry.Query, &entry.Response, &entry.Model,
			&entry.Hits, &lastHit, &created); err != nil {
			return err
		}
		entry.LastHitAt = parseNullTime(lastHit)
		entry.CreatedAt = parseTime(created)
		c = &entry
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	return c, err
}

// PutCache keeps the first response stored for a hash.
func (s *DB) PutCache(ctx context.Context, c *domain.CachedResponse) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	return s.WithRetry(ctx, "Store.PutCache", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO cached_responses (hash, query, response, model, hits, last_hit_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(hash) DO NOTHING`,
			c.Hash, c.Query, c.Response, c.Model, c.Hits, nullTime(c.LastHitAt), formatTime(c.CreatedAt),
		)
		return err
	})
}

// PurgeCache drops entries not hit (or created, if never hit) since olderThan.
func (s *DB) PurgeCache(ctx context.Context, olderThan time.Time) (int, error) {
	var n int64
	err := s.WithRetry(ctx, "Store.PurgeCache", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM cached_responses WHERE COALESCE(last_hit_at, created_at) < ?`,
			formatTime(olderThan),
		)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}
