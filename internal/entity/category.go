package entity

import "time"

// Category is a Firefly III category snapshot.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CacheEntry memoizes the last known category for a merchant.
type CacheEntry struct {
	MerchantName string    `json:"merchant_name"`
	CategoryName string    `json:"category_name"`
	CategoryID   string    `json:"category_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TransactionSnapshot is a read-only view of a past transaction split used
// to detect manual overrides and to give the classifier history.
type TransactionSnapshot struct {
	ID              string    `json:"id"`
	Description     string    `json:"description"`
	DestinationName string    `json:"destination_name"`
	CategoryID      *string   `json:"category_id,omitempty"`
	CategoryName    *string   `json:"category_name,omitempty"`
	Amount          string    `json:"amount"`
	Date            time.Time `json:"date"`
}

// Categorized reports whether the snapshot carries a category.
func (t TransactionSnapshot) Categorized() bool {
	return t.CategoryName != nil && *t.CategoryName != ""
}
