package entity

import (
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the known job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one categorization task tied to a single Firefly transaction.
type Job struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transaction_id"`
	MerchantName  string    `json:"merchant_name"`
	Description   string    `json:"description"`
	Amount        string    `json:"amount"`
	Tags          TagSet    `json:"tags"`
	Status        JobStatus `json:"status"`
	Attempts      int       `json:"attempts"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JobFilter narrows job listings. Zero values mean "any".
type JobFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}
