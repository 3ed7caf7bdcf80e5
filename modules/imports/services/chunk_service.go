package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	debtors "github.com/ledgerline/collect/modules/debtors/services"
	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/entities/importrow"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/metrics"
)

// Loader lands one slice of validated rows into the primary and satellite
// tables. Implemented by the debtors bulk loader.
type Loader interface {
	LoadSlice(ctx context.Context, job importjob.ImportJob, rows []importrow.ImportRow) (debtors.LoadResult, error)
}

// ChunkResult is what one Process invocation accomplished. The caller drives
// the loop: invoke again from NextStartIndex until Completed or Cancelled.
type ChunkResult struct {
	Processed      int
	NextStartIndex int
	Completed      bool
	Cancelled      bool
	Errors         []importjob.RowError
}

// ChunkService advances one job by one chunk per invocation. All resumption
// state lives on the job row; the claim keeps concurrent invocations from
// double-loading the same slice.
type ChunkService struct {
	jobs     importjob.Repository
	rows     importrow.Repository
	loader   Loader
	claimant string
	claimTTL time.Duration
	log      logrus.FieldLogger
}

func NewChunkService(
	jobs importjob.Repository,
	rows importrow.Repository,
	loader Loader,
	claimant string,
	claimTTL time.Duration,
	log logrus.FieldLogger,
) *ChunkService {
	return &ChunkService{
		jobs:     jobs,
		rows:     rows,
		loader:   loader,
		claimant: claimant,
		claimTTL: claimTTL,
		log:      log,
	}
}

// Process claims the job, observes cancellation, loads the slice starting at
// max(startIndex, cursor) and folds the outcome into the job's counters. A
// chunk whose rows were already advanced past is a no-op: the cursor never
// moves backwards.
func (s *ChunkService) Process(ctx context.Context, jobID uuid.UUID, chunkSize, startIndex int) (ChunkResult, error) {
	job, err := composables.InTenantTxResult(ctx, func(txCtx context.Context) (importjob.ImportJob, error) {
		return s.jobs.GetByID(txCtx, jobID)
	})
	if err != nil {
		return ChunkResult{}, err
	}

	switch job.Status() {
	case importjob.StatusCompleted:
		return ChunkResult{NextStartIndex: job.Cursor(), Completed: true}, nil
	case importjob.StatusValidated, importjob.StatusProcessing:
	default:
		return ChunkResult{}, errors.Wrapf(importjob.ErrNotProcessable, "status %s", job.Status())
	}

	now := timeNow()
	claimed, err := composables.InTenantTxResult(ctx, func(txCtx context.Context) (bool, error) {
		return s.jobs.Claim(txCtx, jobID, importjob.ClaimParams{
			Claimant:    s.claimant,
			ClaimedAt:   now,
			StaleBefore: now.Add(-s.claimTTL),
		})
	})
	if err != nil {
		return ChunkResult{}, err
	}
	if !claimed {
		return ChunkResult{}, importjob.ErrClaimed
	}
	defer func() {
		releaseErr := composables.InTenantTx(ctx, func(txCtx context.Context) error {
			return s.jobs.ReleaseClaim(txCtx, jobID, s.claimant)
		})
		if releaseErr != nil {
			s.log.WithField("job_id", jobID).WithError(releaseErr).Warn("claim not released")
		}
	}()

	started := time.Now()
	result, err := composables.InTenantTxResult(ctx, func(txCtx context.Context) (ChunkResult, error) {
		return s.processClaimed(txCtx, jobID, chunkSize, startIndex)
	})
	if err != nil {
		// A loader failure marks the job failed in its own transaction:
		// writing it inside the chunk transaction would be undone by the
		// rollback that the returned error triggers.
		var le *loadError
		if errors.As(err, &le) {
			s.markFailed(ctx, jobID, le.cause.Error())
			return ChunkResult{}, errors.Wrap(le.cause, "load slice")
		}
		return ChunkResult{}, err
	}
	metrics.ObserveChunk(string(job.ImportType()), time.Since(started))
	return result, nil
}

func (s *ChunkService) processClaimed(ctx context.Context, jobID uuid.UUID, chunkSize, startIndex int) (ChunkResult, error) {
	// Re-read under the claim; the pre-claim snapshot may be stale.
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return ChunkResult{}, err
	}

	if job.CancelRequested() {
		job, err = job.Cancel(timeNow())
		if err != nil && !errors.Is(err, importjob.ErrNotCancellable) {
			return ChunkResult{}, err
		}
		if err == nil {
			if err := s.jobs.Update(ctx, job); err != nil {
				return ChunkResult{}, err
			}
			metrics.RecordJobTransition(string(job.Status()))
			s.log.WithField("job_id", jobID).Info("import job cancelled")
		}
		return ChunkResult{NextStartIndex: job.Cursor(), Cancelled: true}, nil
	}

	prevStatus := job.Status()
	job, err = job.StartProcessing(timeNow())
	if err != nil {
		return ChunkResult{}, err
	}
	if job.Status() != prevStatus {
		metrics.RecordJobTransition(string(job.Status()))
	}

	start := startIndex
	if start < job.Cursor() {
		start = job.Cursor()
	}

	if start >= job.TotalRows() {
		return s.complete(ctx, job)
	}

	slice, err := s.rows.Slice(ctx, jobID, start, chunkSize)
	if err != nil {
		return ChunkResult{}, errors.Wrap(err, "read row slice")
	}
	if len(slice) == 0 {
		// Row indexes are dense, so an empty slice below totalRows means the
		// row set is gone. Treat as exhausted rather than spinning.
		job, err = job.ApplyChunk(job.TotalRows(), 0, 0)
		if err != nil {
			return ChunkResult{}, err
		}
		return s.complete(ctx, job)
	}

	valid := slice[:0:0]
	for _, row := range slice {
		if row.Valid {
			valid = append(valid, row)
		}
	}

	var loaded debtors.LoadResult
	if len(valid) > 0 {
		loaded, err = s.loader.LoadSlice(ctx, job, valid)
		if err != nil {
			return ChunkResult{}, &loadError{cause: err}
		}
	}

	newCursor := start + len(slice)
	succeeded := len(valid) - len(loaded.RowFailures)
	job, err = job.ApplyChunk(newCursor, succeeded, len(loaded.RowFailures))
	if err != nil {
		return ChunkResult{}, err
	}

	var chunkErrors []importjob.RowError
	for _, f := range loaded.RowFailures {
		chunkErrors = append(chunkErrors, importjob.RowError{
			RowIndex: f.RowIndex,
			Field:    "",
			Message:  f.Message,
		})
	}
	if len(chunkErrors) > 0 {
		if err := s.jobs.AppendRowErrors(ctx, jobID, chunkErrors); err != nil {
			return ChunkResult{}, errors.Wrap(err, "persist chunk errors")
		}
	}

	if loaded.PortfolioWasCreated {
		job, err = job.AttachPortfolio(loaded.PortfolioID)
		if err != nil {
			return ChunkResult{}, err
		}
	}

	metrics.RecordRows(string(job.ImportType()), succeeded, len(loaded.RowFailures))

	result := ChunkResult{
		Processed:      len(slice),
		NextStartIndex: job.Cursor(),
		Errors:         chunkErrors,
	}

	if job.Cursor() >= job.TotalRows() {
		completed, err := s.complete(ctx, job)
		if err != nil {
			return ChunkResult{}, err
		}
		result.Completed = completed.Completed
		return result, nil
	}

	if err := s.jobs.Update(ctx, job); err != nil {
		return ChunkResult{}, err
	}

	s.log.WithFields(logrus.Fields{
		"job_id":    jobID,
		"cursor":    job.Cursor(),
		"total":     job.TotalRows(),
		"processed": len(slice),
		"failed":    len(loaded.RowFailures),
	}).Debug("chunk processed")
	return result, nil
}

func (s *ChunkService) complete(ctx context.Context, job importjob.ImportJob) (ChunkResult, error) {
	job, err := job.Complete(timeNow())
	if err != nil {
		return ChunkResult{}, err
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return ChunkResult{}, err
	}
	metrics.RecordJobTransition(string(job.Status()))
	s.log.WithFields(logrus.Fields{
		"job_id":    job.ID(),
		"total":     job.TotalRows(),
		"succeeded": job.SucceededRows(),
		"failed":    job.FailedRows(),
	}).Info("import job completed")
	return ChunkResult{NextStartIndex: job.Cursor(), Completed: true}, nil
}

// loadError carries a loader failure out of the chunk transaction so the
// failed status can be persisted after the rollback.
type loadError struct{ cause error }

func (e *loadError) Error() string { return e.cause.Error() }
func (e *loadError) Unwrap() error { return e.cause }

// markFailed records the failure in a fresh transaction. The chunk
// transaction rolled back, so the stored job may still read validated; it is
// moved through processing before failing.
func (s *ChunkService) markFailed(ctx context.Context, jobID uuid.UUID, reason string) {
	err := composables.InTenantTx(ctx, func(txCtx context.Context) error {
		job, err := s.jobs.GetByID(txCtx, jobID)
		if err != nil {
			return err
		}
		if job.Status() == importjob.StatusValidated {
			if job, err = job.StartProcessing(timeNow()); err != nil {
				return err
			}
		}
		failed, err := job.Fail(timeNow(), reason)
		if err != nil {
			return err
		}
		return s.jobs.Update(txCtx, failed)
	})
	if err != nil {
		s.log.WithField("job_id", jobID).WithError(err).Warn("failed status not persisted")
		return
	}
	metrics.RecordJobTransition(string(importjob.StatusFailed))
}

// timeNow is swappable in tests.
var timeNow = time.Now
