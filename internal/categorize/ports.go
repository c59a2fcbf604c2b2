package categorize

import (
	"context"

	"firefly-ai-categorize/internal/entity"
)

type CategoryProvider interface {
	ListCategories(ctx context.Context) ([]entity.Category, error)
}

// HistoryProvider returns up to limit recent transactions for a merchant,
// most recent first.
type HistoryProvider interface {
	RecentByMerchant(ctx context.Context, merchantName string, limit int) ([]entity.TransactionSnapshot, error)
}

// MerchantContextProvider looks up free-text context about a merchant. It is
// time-bounded by the implementation and reports ok=false instead of failing.
type MerchantContextProvider interface {
	Search(ctx context.Context, merchantName string) (text string, ok bool)
}

type ClassifyRequest struct {
	Categories   []string
	MerchantName string
	Description  string
	Amount       string
	History      []entity.TransactionSnapshot
	Context      string // empty when no context was found
}

// Classifier proposes a category name. ok=false means no proposal.
type Classifier interface {
	Categorize(ctx context.Context, req ClassifyRequest) (category string, ok bool, err error)
}

// CacheStore is the merchant memo. Get returns nil when there is no entry.
type CacheStore interface {
	Get(ctx context.Context, merchantName string) (*entity.CacheEntry, error)
	Set(ctx context.Context, merchantName, categoryName, categoryID string) error
	UpdateFromOverride(ctx context.Context, merchantName, categoryName, categoryID string) error
	Invalidate(ctx context.Context, merchantName string) error
}
