package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type State string

const (
	StateIdle State = "idle"
	StateBusy State = "busy"
)

// Loop is the single consumer of the job queue. After a claimed job it waits
// drainDelay (zero by default) before the next claim; after an empty claim it
// waits pollInterval.
type Loop struct {
	queue        JobQueue
	processor    *Processor
	pollInterval time.Duration
	drainDelay   time.Duration
	busy         atomic.Bool
	log          *zerolog.Logger
}

func NewLoop(queue JobQueue, processor *Processor, pollInterval, drainDelay time.Duration, log *zerolog.Logger) *Loop {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if drainDelay < 0 {
		drainDelay = 0
	}
	return &Loop{
		queue:        queue,
		processor:    processor,
		pollInterval: pollInterval,
		drainDelay:   drainDelay,
		log:          log,
	}
}

func (l *Loop) State() State {
	if l.busy.Load() {
		return StateBusy
	}
	return StateIdle
}

// Tick claims and processes at most one job.
func (l *Loop) Tick(ctx context.Context) (claimed bool, err error) {
	job, err := l.queue.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("claim next job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	l.busy.Store(true)
	defer l.busy.Store(false)
	return true, l.processor.Process(ctx, job)
}

// Run ticks until ctx is done. A non-nil return means the store failed and
// the process should exit.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().
		Dur("poll_interval", l.pollInterval).
		Dur("drain_delay", l.drainDelay).
		Msg("worker loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("worker loop stopped")
			return nil
		case <-timer.C:
		}

		claimed, err := l.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info().Msg("worker loop stopped")
				return nil
			}
			return err
		}

		if claimed {
			timer.Reset(l.drainDelay)
		} else {
			timer.Reset(l.pollInterval)
		}
	}
}
