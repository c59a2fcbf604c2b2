package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"firefly-ai-categorize/internal/entity"
)

var ErrNotFound = errors.New("not found")

const jobColumns = `id, transaction_id, merchant_name, description, amount, tags, status, attempts, error, created_at, updated_at`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Enqueue(ctx context.Context, transactionID, merchantName, description, amount string, tags entity.TagSet) (int64, error) {
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("encode tags: %w", err)
	}

	const q = `
INSERT INTO jobs (transaction_id, merchant_name, description, amount, tags, status, attempts)
VALUES ($1, $2, $3, $4, $5, 'pending', 0)
RETURNING id;
`
	var id int64
	if err := r.pool.QueryRow(ctx, q, transactionID, merchantName, description, amount, json.RawMessage(rawTags)).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// ClaimNext moves the oldest pending job to processing and bumps its attempt
// counter in a single statement. SKIP LOCKED plus the status re-check keeps two
// claimers from ever receiving the same row. Returns nil when the queue is empty.
func (r *JobRepository) ClaimNext(ctx context.Context) (*entity.Job, error) {
	const q = `
UPDATE jobs
SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
WHERE id = (
    SELECT id FROM jobs
    WHERE status = 'pending'
    ORDER BY created_at, id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
AND status = 'pending'
RETURNING ` + jobColumns + `;
`
	job, err := scanJob(r.pool.QueryRow(ctx, q))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Complete marks a processing job completed. Unknown or terminal ids are ignored.
func (r *JobRepository) Complete(ctx context.Context, id int64) error {
	const q = `UPDATE jobs SET status='completed', updated_at=NOW() WHERE id=$1 AND status='processing';`

	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	return nil
}

// Fail records errText on a processing job and either returns it to pending
// (attempts < maxRetries) or parks it as failed. The returned status is empty
// when the job was not processing.
func (r *JobRepository) Fail(ctx context.Context, id int64, errText string, maxRetries int) (entity.JobStatus, error) {
	const q = `
UPDATE jobs
SET status = CASE WHEN attempts < $3 THEN 'pending' ELSE 'failed' END,
    error = $2,
    updated_at = NOW()
WHERE id = $1 AND status = 'processing'
RETURNING status;
`
	var status string
	if err := r.pool.QueryRow(ctx, q, id, errText, maxRetries).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("fail job %d: %w", id, err)
	}
	return entity.JobStatus(status), nil
}

func (r *JobRepository) PendingCount(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM jobs WHERE status = 'pending';`

	var n int
	if err := r.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// RecoverProcessing returns every processing job to pending. A job can only be
// processing at startup if the previous process died while holding it.
func (r *JobRepository) RecoverProcessing(ctx context.Context) (int64, error) {
	const q = `UPDATE jobs SET status='pending', updated_at=NOW() WHERE status='processing';`

	tag, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("recover processing jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (r *JobRepository) List(ctx context.Context, f entity.JobFilter) ([]entity.Job, error) {
	b := psql.Select(jobColumns).From("jobs").OrderBy("id DESC")
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	b = b.Limit(uint64(limit))
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}

	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]entity.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs per status. Statuses with no jobs are reported as 0.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[entity.JobStatus]int, error) {
	q, args, err := psql.Select("status", "COUNT(*)").From("jobs").GroupBy("status").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[entity.JobStatus]int{
		entity.StatusPending:    0,
		entity.StatusProcessing: 0,
		entity.StatusCompleted:  0,
		entity.StatusFailed:     0,
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[entity.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job        entity.Job
		statusText string
		tagsBytes  []byte
		errText    *string
	)

	if err := row.Scan(
		&job.ID,
		&job.TransactionID,
		&job.MerchantName,
		&job.Description,
		&job.Amount,
		&tagsBytes,
		&statusText,
		&job.Attempts,
		&errText, // NULL => nil
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.Status = entity.JobStatus(statusText)
	job.Error = errText
	if len(tagsBytes) > 0 {
		if err := json.Unmarshal(tagsBytes, &job.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of job %d: %w", job.ID, err)
		}
	}
	return &job, nil
}
