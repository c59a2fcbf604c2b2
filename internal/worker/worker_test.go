package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firefly-ai-categorize/internal/categorize"
	"firefly-ai-categorize/internal/entity"
	"firefly-ai-categorize/internal/logging"
	"firefly-ai-categorize/internal/metrics"
	"firefly-ai-categorize/internal/worker"
)

// fakeQueue mimics the store's status rules in memory.
type fakeQueue struct {
	mu         sync.Mutex
	jobs       []*entity.Job
	claimErr   error
	claimCalls int
	failCalls  int
	lastError  string
}

func (q *fakeQueue) add(j *entity.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j.Status = entity.StatusPending
	q.jobs = append(q.jobs, j)
}

func (q *fakeQueue) ClaimNext(ctx context.Context) (*entity.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claimCalls++
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	for _, j := range q.jobs {
		if j.Status == entity.StatusPending {
			j.Status = entity.StatusProcessing
			j.Attempts++
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (q *fakeQueue) find(id int64) *entity.Job {
	for _, j := range q.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (q *fakeQueue) Complete(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j := q.find(id); j != nil && j.Status == entity.StatusProcessing {
		j.Status = entity.StatusCompleted
	}
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, id int64, errText string, maxRetries int) (entity.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failCalls++
	q.lastError = errText
	j := q.find(id)
	if j == nil || j.Status != entity.StatusProcessing {
		return "", nil
	}
	if j.Attempts < maxRetries {
		j.Status = entity.StatusPending
	} else {
		j.Status = entity.StatusFailed
	}
	return j.Status, nil
}

func (q *fakeQueue) status(id int64) entity.JobStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.find(id).Status
}

func (q *fakeQueue) setStatus(id int64, s entity.JobStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.find(id).Status = s
}

func (q *fakeQueue) claims() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.claimCalls
}

type fakeDecider struct {
	decision entity.Decision
	err      error
	panicMsg string
	onDecide func(job *entity.Job)
	calls    int
}

func (d *fakeDecider) Decide(ctx context.Context, job *entity.Job) (entity.Decision, error) {
	d.calls++
	if d.onDecide != nil {
		d.onDecide(job)
	}
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	return d.decision, d.err
}

type applied struct {
	txID, categoryID string
	tags             []string
}

type fakeUpdater struct {
	calls []applied
	err   error
}

func (u *fakeUpdater) ApplyCategory(ctx context.Context, txID, categoryID string, tags []string) error {
	u.calls = append(u.calls, applied{txID, categoryID, tags})
	return u.err
}

func newJob(id int64, tags ...string) *entity.Job {
	return &entity.Job{
		ID:            id,
		TransactionID: "tx-" + string(rune('0'+id)),
		MerchantName:  "ACME",
		Amount:        "10.00",
		Tags:          entity.NewTagSet(tags...),
	}
}

func newLoop(q *fakeQueue, d *fakeDecider, u *fakeUpdater) *worker.Loop {
	return newTimedLoop(q, d, u, 10*time.Millisecond, 0)
}

func newTimedLoop(q *fakeQueue, d *fakeDecider, u *fakeUpdater, poll, drain time.Duration) *worker.Loop {
	p := worker.NewProcessor(q, d, u, "AI categorized", 3, logging.Nop())
	return worker.NewLoop(q, p, poll, drain, logging.Nop())
}

func runLoop(t *testing.T, loop *worker.Loop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop")
		}
	})
}

func TestTick_AppliesCategoryWithCompletionTag(t *testing.T) {
	q := &fakeQueue{}
	q.add(newJob(1, "imported"))
	d := &fakeDecider{decision: entity.Decision{Kind: entity.DecisionModel, CategoryID: "7", CategoryName: "Groceries"}}
	u := &fakeUpdater{}

	claimed, err := newLoop(q, d, u).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	require.Len(t, u.calls, 1)
	assert.Equal(t, "tx-1", u.calls[0].txID)
	assert.Equal(t, "7", u.calls[0].categoryID)
	assert.Equal(t, []string{"imported", "AI categorized"}, u.calls[0].tags)
	assert.Equal(t, entity.StatusCompleted, q.status(1))
}

func TestTick_CompletionTagNotDuplicated(t *testing.T) {
	q := &fakeQueue{}
	q.add(newJob(1, "AI categorized", "imported"))
	d := &fakeDecider{decision: entity.Decision{Kind: entity.DecisionCache, CategoryID: "7"}}
	u := &fakeUpdater{}

	_, err := newLoop(q, d, u).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AI categorized", "imported"}, u.calls[0].tags)
}

func TestTick_SkipCompletesWithoutUpdate(t *testing.T) {
	q := &fakeQueue{}
	q.add(newJob(1))
	d := &fakeDecider{decision: entity.Skip("category not found")}
	u := &fakeUpdater{}

	_, err := newLoop(q, d, u).Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, u.calls)
	assert.Equal(t, entity.StatusCompleted, q.status(1))
	assert.Zero(t, q.failCalls)
}

func TestTick_EmptyQueue(t *testing.T) {
	q := &fakeQueue{}
	d := &fakeDecider{}

	claimed, err := newLoop(q, d, &fakeUpdater{}).Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Zero(t, d.calls)
}

func TestTick_CollaboratorFailureRetriesThenFails(t *testing.T) {
	q := &fakeQueue{}
	q.add(newJob(1))
	d := &fakeDecider{decision: entity.Decision{Kind: entity.DecisionModel, CategoryID: "7"}}
	u := &fakeUpdater{err: errors.New("firefly 503")}
	loop := newLoop(q, d, u)

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := loop.Tick(context.Background())
		require.NoError(t, err, "attempt %d", attempt)
		require.True(t, claimed, "attempt %d", attempt)
		if attempt < 3 {
			assert.Equal(t, entity.StatusPending, q.status(1))
		}
	}

	assert.Equal(t, entity.StatusFailed, q.status(1))
	assert.Equal(t, "firefly 503", q.lastError)

	claimed, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed, "failed jobs are never claimed again")
}

func TestTick_PanicBecomesJobFailure(t *testing.T) {
	q := &fakeQueue{}
	q.add(newJob(1))
	d := &fakeDecider{panicMsg: "nil map"}

	_, err := newLoop(q, d, &fakeUpdater{}).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, q.failCalls)
	assert.Contains(t, q.lastError, "nil map")
}

func TestTick_FailureOfJobNoLongerProcessingIsNotCounted(t *testing.T) {
	q := &fakeQueue{}
	q.add(newJob(1))
	d := &fakeDecider{
		err: errors.New("model timeout"),
		// another actor resolves the job while the decision is in flight
		onDecide: func(job *entity.Job) { q.setStatus(job.ID, entity.StatusCompleted) },
	}
	retried := testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("retried"))
	failed := testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("failed"))

	claimed, err := newLoop(q, d, &fakeUpdater{}).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.Equal(t, 1, q.failCalls)
	assert.Equal(t, entity.StatusCompleted, q.status(1))
	assert.Equal(t, retried, testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("retried")))
	assert.Equal(t, failed, testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("failed")))
}

func TestTick_StoreErrorIsFatal(t *testing.T) {
	q := &fakeQueue{}
	q.add(newJob(1))
	d := &fakeDecider{err: &categorize.StoreError{Op: "set", Err: errors.New("connection reset")}}

	_, err := newLoop(q, d, &fakeUpdater{}).Tick(context.Background())
	require.Error(t, err)
	assert.Zero(t, q.failCalls)
	assert.Equal(t, entity.StatusProcessing, q.status(1))
}

func TestTick_ClaimErrorIsFatal(t *testing.T) {
	q := &fakeQueue{claimErr: errors.New("db gone")}

	_, err := newLoop(q, &fakeDecider{}, &fakeUpdater{}).Tick(context.Background())
	require.Error(t, err)
}

func TestRun_DrainsBacklogAndStopsOnCancel(t *testing.T) {
	q := &fakeQueue{}
	for i := int64(1); i <= 3; i++ {
		q.add(newJob(i))
	}
	d := &fakeDecider{decision: entity.Decision{Kind: entity.DecisionCache, CategoryID: "7"}}
	loop := newLoop(q, d, &fakeUpdater{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return q.status(3) == entity.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, worker.StateIdle, loop.State())
}

func TestRun_ReturnsStoreFailure(t *testing.T) {
	q := &fakeQueue{claimErr: errors.New("db gone")}
	loop := newLoop(q, &fakeDecider{}, &fakeUpdater{})

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
}

func TestRun_BacklogDrainsWithoutWaitingForPollInterval(t *testing.T) {
	q := &fakeQueue{}
	for i := int64(1); i <= 3; i++ {
		q.add(newJob(i))
	}
	d := &fakeDecider{decision: entity.Decision{Kind: entity.DecisionCache, CategoryID: "7"}}
	runLoop(t, newTimedLoop(q, d, &fakeUpdater{}, time.Hour, 0))

	require.Eventually(t, func() bool {
		return q.status(1) == entity.StatusCompleted &&
			q.status(2) == entity.StatusCompleted &&
			q.status(3) == entity.StatusCompleted
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func TestRun_EmptyClaimWaitsForPollInterval(t *testing.T) {
	const poll = 300 * time.Millisecond
	q := &fakeQueue{}
	d := &fakeDecider{decision: entity.Decision{Kind: entity.DecisionCache, CategoryID: "7"}}
	runLoop(t, newTimedLoop(q, d, &fakeUpdater{}, poll, 0))

	require.Eventually(t, func() bool { return q.claims() >= 1 }, time.Second, time.Millisecond)
	q.add(newJob(1))

	assert.Never(t, func() bool {
		return q.status(1) != entity.StatusPending
	}, 100*time.Millisecond, 5*time.Millisecond, "job claimed before the poll interval elapsed")
	assert.Equal(t, 1, q.claims())

	require.Eventually(t, func() bool {
		return q.status(1) == entity.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}
