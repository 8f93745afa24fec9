package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/neuroscan/backend/internal/models"
)

// InsertFunc publishes a prediction message outside any transaction.
// Provided by main as a closure over river.Client.Insert.
type InsertFunc func(ctx context.Context, args PredictJobArgs) error

// SweepStore is the job-store surface the sweeper needs.
type SweepStore interface {
	StaleQueued(ctx context.Context, minAge time.Duration) ([]*models.Job, error)
	StuckProcessing(ctx context.Context, timeout time.Duration) ([]*models.Job, error)
}

// Sweeper runs two periodic passes: the requeue publisher republishes queued
// jobs whose backoff window has elapsed (billing state is the record of
// intent, the queue is only the dispatch accelerator), and the watchdog
// requeues jobs stuck in processing past the timeout as transient failures.
type Sweeper struct {
	store   SweepStore
	settler *Settler
	insert  InsertFunc
	log     *slog.Logger

	interval          time.Duration
	processingTimeout time.Duration
	backoffBase       time.Duration
	backoffCap        time.Duration
}

func NewSweeper(store SweepStore, settler *Settler, insert InsertFunc, log *slog.Logger,
	interval, processingTimeout, backoffBase, backoffCap time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:             store,
		settler:           settler,
		insert:            insert,
		log:               log,
		interval:          interval,
		processingTimeout: processingTimeout,
		backoffBase:       backoffBase,
		backoffCap:        backoffCap,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.republishQueued(ctx)
			s.requeueStuck(ctx)
		}
	}
}

func (s *Sweeper) republishQueued(ctx context.Context) {
	jobs, err := s.store.StaleQueued(ctx, s.backoffBase)
	if err != nil {
		s.log.Error("requeue sweep: list stale queued", "error", err)
		return
	}
	for _, job := range jobs {
		delay := Delay(s.backoffBase, s.backoffCap, job.AttemptCount)
		if job.AttemptCount == 0 {
			// Never attempted: the original message is normally still in the
			// queue, so wait the full cap before assuming it was lost.
			delay = s.backoffCap
		}
		if time.Since(job.UpdatedAt) < delay {
			continue
		}
		args := PredictJobArgs{JobID: job.ID, UserID: job.UserID, JobKind: job.Kind, InputRef: job.InputRef}
		if err := s.insert(ctx, args); err != nil {
			s.log.Error("requeue sweep: republish", "job_id", job.ID, "error", err)
			continue
		}
		s.log.Info("job republished", "job_id", job.ID, "attempt", job.AttemptCount)
	}
}

func (s *Sweeper) requeueStuck(ctx context.Context) {
	jobs, err := s.store.StuckProcessing(ctx, s.processingTimeout)
	if err != nil {
		s.log.Error("watchdog sweep: list stuck processing", "error", err)
		return
	}
	for _, job := range jobs {
		s.log.Warn("job stuck in processing, forcing transient failure", "job_id", job.ID, "attempt", job.AttemptCount)
		if err := s.settler.FailAndSettle(ctx, job, false, "processing timeout exceeded"); err != nil {
			s.log.Error("watchdog sweep: settle", "job_id", job.ID, "error", err)
		}
	}
}
