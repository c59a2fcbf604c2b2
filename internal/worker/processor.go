package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"firefly-ai-categorize/internal/categorize"
	"firefly-ai-categorize/internal/entity"
	"firefly-ai-categorize/internal/logging"
	"firefly-ai-categorize/internal/metrics"
)

// JobQueue is the subset of the job store the worker drives.
type JobQueue interface {
	ClaimNext(ctx context.Context) (*entity.Job, error)
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, errText string, maxRetries int) (entity.JobStatus, error)
}

type Decider interface {
	Decide(ctx context.Context, job *entity.Job) (entity.Decision, error)
}

type TransactionUpdater interface {
	ApplyCategory(ctx context.Context, transactionID, categoryID string, tags []string) error
}

const DefaultMaxRetries = 3

type Processor struct {
	queue         JobQueue
	decider       Decider
	updater       TransactionUpdater
	completionTag string
	maxRetries    int
	log           *zerolog.Logger
}

func NewProcessor(queue JobQueue, decider Decider, updater TransactionUpdater, completionTag string, maxRetries int, log *zerolog.Logger) *Processor {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Processor{
		queue:         queue,
		decider:       decider,
		updater:       updater,
		completionTag: completionTag,
		maxRetries:    maxRetries,
		log:           log,
	}
}

// Process resolves one claimed job. Collaborator errors become queue
// bookkeeping and are not returned. The returned error is fatal: the store
// failed, or ctx was cancelled and the job is left for startup recovery.
func (p *Processor) Process(ctx context.Context, job *entity.Job) error {
	start := time.Now()
	log := logging.WithJob(p.log, job, uuid.NewString())
	log.Info().Msg("job claimed")

	decision, err := p.run(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("job interrupted, left for recovery")
			return ctx.Err()
		}
		var storeErr *categorize.StoreError
		if errors.As(err, &storeErr) {
			return err
		}

		status, ferr := p.queue.Fail(ctx, job.ID, err.Error(), p.maxRetries)
		if ferr != nil {
			return fmt.Errorf("record failure of job %d: %w", job.ID, ferr)
		}
		if status == "" {
			log.Warn().Err(err).Msg("job no longer processing, failure not recorded")
			return nil
		}
		outcome := "retried"
		if status == entity.StatusFailed {
			outcome = "failed"
		}
		metrics.IncJob(outcome)
		log.Error().
			Err(err).
			Str("status", string(status)).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("job failed")
		return nil
	}

	if err := p.queue.Complete(ctx, job.ID); err != nil {
		return fmt.Errorf("complete job %d: %w", job.ID, err)
	}

	ev := log.Info().
		Str("decision", string(decision.Kind)).
		Int64("duration_ms", time.Since(start).Milliseconds())
	if decision.Kind == entity.DecisionSkip {
		metrics.IncJob("skipped")
		ev.Str("reason", decision.Reason).Msg("job skipped")
		return nil
	}
	metrics.IncJob("completed")
	ev.Str("category", decision.CategoryName).Msg("job completed")
	return nil
}

func (p *Processor) run(ctx context.Context, job *entity.Job) (d entity.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing: %v", r)
		}
	}()

	d, err = p.decider.Decide(ctx, job)
	if err != nil {
		return d, err
	}
	if d.Kind == entity.DecisionSkip {
		return d, nil
	}

	tags := job.Tags
	if p.completionTag != "" {
		tags = tags.With(p.completionTag)
	}
	if err := p.updater.ApplyCategory(ctx, job.TransactionID, d.CategoryID, tags.Values()); err != nil {
		return d, err
	}
	return d, nil
}
