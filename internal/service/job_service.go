package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"firefly-ai-categorize/internal/entity"
)

// ErrInvalidRequest wraps every validation failure of an enqueue request.
var ErrInvalidRequest = errors.New("invalid request")

// JobRepository is implemented by postgresql.JobRepository.
type JobRepository interface {
	Enqueue(ctx context.Context, transactionID, merchantName, description, amount string, tags entity.TagSet) (int64, error)
	GetByID(ctx context.Context, id int64) (*entity.Job, error)
	List(ctx context.Context, f entity.JobFilter) ([]entity.Job, error)
	PendingCount(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[entity.JobStatus]int, error)
}

type JobService struct {
	repo          JobRepository
	webhookSecret string
	log           *zerolog.Logger
}

// NewJobService builds the ingestion service. An empty webhookSecret turns
// signature checks off.
func NewJobService(repo JobRepository, webhookSecret string, log *zerolog.Logger) *JobService {
	return &JobService{repo: repo, webhookSecret: webhookSecret, log: log}
}

type EnqueueRequest struct {
	TransactionID string
	MerchantName  string
	Description   string
	Amount        string
	Tags          []string
}

func (r EnqueueRequest) validate() error {
	switch {
	case strings.TrimSpace(r.TransactionID) == "":
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.MerchantName) == "":
		return fmt.Errorf("%w: merchant_name is required", ErrInvalidRequest)
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(r.Amount)); err != nil {
		return fmt.Errorf("%w: amount %q is not a decimal", ErrInvalidRequest, r.Amount)
	}
	return nil
}

func (s *JobService) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}
	id, err := s.repo.Enqueue(ctx,
		strings.TrimSpace(req.TransactionID),
		strings.TrimSpace(req.MerchantName),
		req.Description,
		strings.TrimSpace(req.Amount),
		entity.NewTagSet(req.Tags...),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	s.log.Info().
		Int64("job_id", id).
		Str("transaction_id", req.TransactionID).
		Str("merchant", req.MerchantName).
		Msg("job enqueued")
	return id, nil
}

func (s *JobService) GetJob(ctx context.Context, id int64) (*entity.Job, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *JobService) ListJobs(ctx context.Context, f entity.JobFilter) ([]entity.Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, f.Status)
	}
	return s.repo.List(ctx, f)
}

func (s *JobService) PendingCount(ctx context.Context) (int, error) {
	return s.repo.PendingCount(ctx)
}

func (s *JobService) CountByStatus(ctx context.Context) (map[entity.JobStatus]int, error) {
	return s.repo.CountByStatus(ctx)
}
