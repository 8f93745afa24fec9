package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/riverqueue/river"

	"github.com/neuroscan/backend/internal/inference"
	"github.com/neuroscan/backend/internal/metrics"
	"github.com/neuroscan/backend/internal/models"
)

// PredictWorker consumes prediction messages. Execution is idempotent: the
// claim compare-and-set admits exactly one attempt per delivery generation,
// and every duplicate delivery is discarded without side effects.
type PredictWorker struct {
	river.WorkerDefaults[PredictJobArgs]
	jobs    JobStore
	settler *Settler
	engine  inference.Engine
	results ResultStore
	log     *slog.Logger
}

func NewPredictWorker(jobs JobStore, settler *Settler, engine inference.Engine, results ResultStore, log *slog.Logger) *PredictWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PredictWorker{jobs: jobs, settler: settler, engine: engine, results: results, log: log}
}

func (w *PredictWorker) Work(ctx context.Context, delivery *river.Job[PredictJobArgs]) error {
	args := delivery.Args

	claimed, err := w.jobs.Claim(ctx, args.JobID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", args.JobID, err)
	}
	if !claimed {
		return w.handleUnclaimed(ctx, args)
	}

	job, err := w.jobs.GetByID(ctx, args.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", args.JobID, err)
	}

	refs, err := w.infer(ctx, job)
	if err != nil {
		permanent := inference.IsPermanent(err)
		w.log.Warn("inference failed", "job_id", job.ID, "kind", job.Kind, "permanent", permanent, "error", err)
		if settleErr := w.settler.FailAndSettle(ctx, job, permanent, err.Error()); settleErr != nil {
			return settleErr
		}
		return nil
	}

	if err := w.jobs.Complete(ctx, job.ID, refs); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	metrics.JobsCompleted.WithLabelValues(job.Kind).Inc()
	w.log.Info("job completed", "job_id", job.ID, "kind", job.Kind, "results", len(refs))
	return nil
}

// handleUnclaimed runs when the claim was refused. A job left in failed is a
// crashed failure path: resume the refund, which is idempotent end to end.
// Anything else, including a message whose job id is unknown, is a stale or
// duplicate delivery and is discarded.
func (w *PredictWorker) handleUnclaimed(ctx context.Context, args PredictJobArgs) error {
	job, err := w.jobs.GetByID(ctx, args.JobID)
	if errors.Is(err, ErrJobNotFound) {
		w.log.Warn("message for unknown job discarded", "job_id", args.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load unclaimed job %s: %w", args.JobID, err)
	}
	if job.Status == models.JobStatusFailed {
		return w.settler.Refund(ctx, job)
	}
	metrics.DuplicateDeliveries.Inc()
	w.log.Debug("duplicate delivery discarded", "job_id", job.ID, "status", job.Status)
	return nil
}

// infer dispatches on the closed set of job kinds. For scans, both
// segmentations must succeed before anything is persisted so the billed unit
// of work stays atomic.
func (w *PredictWorker) infer(ctx context.Context, job *models.Job) ([]string, error) {
	switch job.Kind {
	case models.JobKindImagePredict:
		mask, err := w.engine.PredictImage(ctx, job.InputRef)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("mask_%s_%s.png", job.UserID, job.ID)
		ref, err := w.results.SaveResult(name, mask)
		if err != nil {
			return nil, fmt.Errorf("persist image mask: %w", err)
		}
		return []string{ref}, nil

	case models.JobKindScanPredict:
		brain, err := w.engine.SegmentBrain(ctx, job.InputRef)
		if err != nil {
			return nil, err
		}
		aneurysm, err := w.engine.SegmentAneurysm(ctx, job.InputRef, brain)
		if err != nil {
			return nil, err
		}
		base := filepath.Base(job.InputRef)
		brainRef, err := w.results.SaveResult("brain_mask_"+base, brain)
		if err != nil {
			return nil, fmt.Errorf("persist brain mask: %w", err)
		}
		aneurysmRef, err := w.results.SaveResult("aneurysm_mask_"+base, aneurysm)
		if err != nil {
			return nil, fmt.Errorf("persist aneurysm mask: %w", err)
		}
		return []string{brainRef, aneurysmRef}, nil

	default:
		return nil, inference.Reject("dispatch", fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}
