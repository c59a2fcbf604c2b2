package firefly

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"firefly-ai-categorize/internal/categorize"
	"firefly-ai-categorize/internal/entity"
	"firefly-ai-categorize/internal/metrics"
)

const categoriesKey = "firefly:categories"

// Cache is a byte store with per-key expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, val, ttl).Err()
}

var _ categorize.CategoryProvider = (*CachedCategoryProvider)(nil)

// CachedCategoryProvider keeps the category list for a short TTL. Cache
// failures are logged and the inner provider is used directly.
type CachedCategoryProvider struct {
	inner categorize.CategoryProvider
	cache Cache
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewCachedCategoryProvider(inner categorize.CategoryProvider, cache Cache, ttl time.Duration, log *zerolog.Logger) *CachedCategoryProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedCategoryProvider{inner: inner, cache: cache, ttl: ttl, log: log}
}

func (p *CachedCategoryProvider) ListCategories(ctx context.Context) ([]entity.Category, error) {
	b, ok, err := p.cache.Get(ctx, categoriesKey)
	if err != nil {
		p.log.Warn().Err(err).Msg("category cache read failed")
	}
	if ok {
		var cached []entity.Category
		if err := json.Unmarshal(b, &cached); err == nil {
			metrics.IncCategoryCache("hit")
			return cached, nil
		}
		p.log.Warn().Msg("category cache entry is corrupt, refetching")
	}
	metrics.IncCategoryCache("miss")

	categories, err := p.inner.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(categories); err == nil {
		if err := p.cache.Set(ctx, categoriesKey, b, p.ttl); err != nil {
			p.log.Warn().Err(err).Msg("category cache write failed")
		}
	}
	return categories, nil
}
