package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"firefly-ai-categorize/internal/entity"
)

// CacheRepository stores the merchant -> category memo. Entries never expire;
// they are only replaced or invalidated by the decision engine.
type CacheRepository struct {
	pool *pgxpool.Pool
}

func NewCacheRepository(pool *pgxpool.Pool) *CacheRepository {
	return &CacheRepository{pool: pool}
}

// Get returns nil without error when the merchant has no entry.
func (r *CacheRepository) Get(ctx context.Context, merchantName string) (*entity.CacheEntry, error) {
	const q = `
SELECT merchant_name, category_name, category_id, created_at, updated_at
FROM merchant_cache
WHERE merchant_name = $1;
`
	var e entity.CacheEntry
	if err := r.pool.QueryRow(ctx, q, merchantName).Scan(
		&e.MerchantName,
		&e.CategoryName,
		&e.CategoryID,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return &e, nil
}

// Set upserts the entry. created_at survives an overwrite.
func (r *CacheRepository) Set(ctx context.Context, merchantName, categoryName, categoryID string) error {
	const q = `
INSERT INTO merchant_cache (merchant_name, category_name, category_id)
VALUES ($1, $2, $3)
ON CONFLICT (merchant_name) DO UPDATE SET
  category_name = EXCLUDED.category_name,
  category_id = EXCLUDED.category_id,
  updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, merchantName, categoryName, categoryID); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// UpdateFromOverride rewrites an existing entry and does nothing when the
// merchant is unknown.
func (r *CacheRepository) UpdateFromOverride(ctx context.Context, merchantName, categoryName, categoryID string) error {
	const q = `
UPDATE merchant_cache
SET category_name = $2, category_id = $3, updated_at = NOW()
WHERE merchant_name = $1;
`
	if _, err := r.pool.Exec(ctx, q, merchantName, categoryName, categoryID); err != nil {
		return fmt.Errorf("override cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepository) Invalidate(ctx context.Context, merchantName string) error {
	const q = `DELETE FROM merchant_cache WHERE merchant_name = $1;`

	if _, err := r.pool.Exec(ctx, q, merchantName); err != nil {
		return fmt.Errorf("invalidate cache entry: %w", err)
	}
	return nil
}
