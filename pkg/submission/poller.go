package submission

import (
	"context"
	"errors"
	"reflect"
	"time"

	"golang.org/x/time/rate"

	"github.com/moonshinevfx/4drec-go/pkg/cloudsync"
	"github.com/moonshinevfx/4drec-go/pkg/entity"
	"github.com/moonshinevfx/4drec-go/pkg/farm"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

const pollInterval = 60 * time.Second

// Poller polls the last batch in a job's chain every 60s, rate-limited so
// a burst of newly-submitted jobs doesn't exceed one status query per job
// per interval.
type Poller struct {
	driver   farm.Driver
	store    *entity.Store
	notifier cloudsync.Notifier
	log      *logger.Logger
	limiter  *rate.Limiter
	// Interval overrides the 60s poll cadence; zero means pollInterval.
	// Exposed for tests that cannot afford to wait 60s per tick.
	Interval time.Duration
}

// NewPoller builds a Poller. qpm bounds the aggregate query rate across all
// jobs it is polling.
func NewPoller(driver farm.Driver, store *entity.Store, notifier cloudsync.Notifier, log *logger.Logger, qpm float64) *Poller {
	return &Poller{
		driver:   driver,
		store:    store,
		notifier: notifier,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(qpm/60.0), 1),
	}
}

// Watch polls jobID's lastBatch every 60s until it resolves, the batch is
// reported deleted, or ctx is cancelled. frameStart and frameEnd give the
// job's full shot-relative [start,end] frame range.
func (p *Poller) Watch(ctx context.Context, jobID string, lastBatch farm.BatchID, frameStart, frameEnd int) {
	interval := p.Interval
	if interval <= 0 {
		interval = pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStates map[int]farm.TaskState

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}

			states, err := p.driver.TaskStates(ctx, lastBatch)
			if err != nil {
				if errors.Is(err, farm.ErrBatchDeleted) {
					p.log.Info("submission: batch deleted, stopping poll", "job_id", jobID)
					return
				}
				p.log.Error("submission: poll failed", "job_id", jobID, "error", err)
				continue
			}

			if reflect.DeepEqual(states, lastStates) {
				continue
			}
			lastStates = states

			p.store.Progress(jobID, map[string]any{"task_states": states})

			if allCompleted(states, frameStart, frameEnd) {
				if err := p.store.Update(jobID, map[string]any{"state": entity.JobResolved, "task_states": states}); err != nil {
					p.log.Error("submission: mark resolved failed", "job_id", jobID, "error", err)
					return
				}
				if err := p.notifier.NotifyResolved(ctx, jobID); err != nil {
					p.log.Error("cloudsync: notify resolved errored", "error", err)
				}
				p.log.Info("submission: job resolved", "job_id", jobID)
				return
			}
		}
	}
}

func allCompleted(states map[int]farm.TaskState, start, end int) bool {
	for f := start; f <= end; f++ {
		if states[f] != farm.TaskCompleted {
			return false
		}
	}
	return true
}
