package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
	"autopilot/internal/infra/metrics"
)

var punctuationStripper = strings.NewReplacer("?", "", ".", "", "!", "", ",", "")

// NormalizeQuery lower-cases q, strips ? . ! , and collapses whitespace.
func NormalizeQuery(q string) string {
	q = punctuationStripper.Replace(strings.ToLower(q))
	return strings.Join(strings.Fields(q), " ")
}

// QueryHash is the cache key for q: hex SHA-256 of the normalized text.
func QueryHash(q string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(q)))
	return hex.EncodeToString(sum[:])
}

// InferenceCache short-circuits repeated questions with a stored answer.
type InferenceCache struct {
	store   domain.CacheStore
	enabled bool
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewInferenceCache wraps store. A zero TTL never expires entries.
func NewInferenceCache(store domain.CacheStore, cfg config.CacheConfig, logger *slog.Logger) *InferenceCache {
	return &InferenceCache{
		store:   store,
		enabled: cfg.Enabled && store != nil,
		ttl:     cfg.TTL,
		logger:  logger,
		now:     time.Now,
	}
}

// Lookup returns the cached answer for query and bumps its hit counter.
func (c *InferenceCache) Lookup(ctx context.Context, query string) (*domain.CachedResponse, bool) {
	if !c.enabled || strings.TrimSpace(query) == "" {
		return nil, false
	}
	entry, err := c.store.HitCache(ctx, QueryHash(query), c.now().UTC())
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			c.logger.Warn("cache lookup failed", "error", err)
		}
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.CreatedAt) > c.ttl {
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	metrics.RecordCacheLookup(true)
	return entry, true
}

// Store saves response for query unless an entry already exists.
func (c *InferenceCache) Store(ctx context.Context, query, response, model string) {
	if !c.enabled || strings.TrimSpace(query) == "" || strings.TrimSpace(response) == "" {
		return
	}
	err := c.store.PutCache(ctx, &domain.CachedResponse{
		Hash:      QueryHash(query),
		Query:     query,
		Response:  response,
		Model:     model,
		CreatedAt: c.now().UTC(),
	})
	if err != nil {
		c.logger.Warn("cache store failed", "error", err)
	}
}

// Purge removes entries idle for longer than the TTL. It is a no-op
// without a TTL.
func (c *InferenceCache) Purge(ctx context.Context) (int, error) {
	if c.store == nil || c.ttl <= 0 {
		return 0, nil
	}
	n, err := c.store.PurgeCache(ctx, c.now().UTC().Add(-c.ttl))
	if err != nil {
		return 0, domain.WrapOp("InferenceCache.Purge", err)
	}
	if n > 0 {
		c.logger.Info("cache entries purged", "count", n)
	}
	return n, nil
}
