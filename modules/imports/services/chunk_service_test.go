package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	debtors "github.com/ledgerline/collect/modules/debtors/services"
	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/entities/importrow"
)

type stubLoader struct {
	fn func(ctx context.Context, job importjob.ImportJob, rows []importrow.ImportRow) (debtors.LoadResult, error)
}

func (l *stubLoader) LoadSlice(ctx context.Context, job importjob.ImportJob, rows []importrow.ImportRow) (debtors.LoadResult, error) {
	return l.fn(ctx, job, rows)
}

func TestProcessChunk(t *testing.T) {
	t.Run("AdvancesCursorChunkByChunk", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)
		chunks := e.chunks("worker-1", time.Minute)

		res, err := chunks.Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Processed)
		assert.Equal(t, 2, res.NextStartIndex)
		assert.False(t, res.Completed)

		res, err = chunks.Process(e.ctx, job.ID(), 2, res.NextStartIndex)
		require.NoError(t, err)
		assert.True(t, res.Completed)

		got, err := e.imports.GetByID(e.ctx, job.ID())
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusCompleted, got.Status())
		assert.Equal(t, 4, got.ProcessedRows())
		assert.Equal(t, 3, got.SucceededRows())
		assert.Equal(t, 1, got.FailedRows())
		assert.Equal(t, 100, got.Progress())
	})

	t.Run("StaleStartIndexIsNoOp", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)
		chunks := e.chunks("worker-1", time.Minute)

		_, err := chunks.Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)

		// A retry of the already-advanced slice starts at the cursor instead.
		res, err := chunks.Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)
		assert.True(t, res.Completed)

		got, err := e.imports.GetByID(e.ctx, job.ID())
		require.NoError(t, err)
		assert.Equal(t, 3, got.SucceededRows())
		assert.Equal(t, 1, got.FailedRows())
	})

	t.Run("LoadsIdempotentlyAcrossReruns", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)
		chunks := e.chunks("worker-1", time.Minute)

		for {
			res, err := chunks.Process(e.ctx, job.ID(), 2, 0)
			require.NoError(t, err)
			if res.Completed {
				break
			}
		}

		// Two distinct persons, two accounts, one portfolio; the duplicate
		// row updated the existing account instead of adding one.
		assert.Equal(t, 2, e.persons.Count())
		assert.Equal(t, 2, e.accounts.Count())
		assert.Equal(t, 1, e.portfolios.Count())
		// Identical phone/address on the re-imported row deduplicated.
		assert.Equal(t, 2, e.satellites.CountByCategory("phone"))
		assert.Equal(t, 1, e.satellites.CountByCategory("address"))
	})

	t.Run("AttachesCreatedPortfolio", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)

		_, err := e.chunks("worker-1", time.Minute).Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)

		got, err := e.imports.GetByID(e.ctx, job.ID())
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, got.PortfolioID())
	})

	t.Run("NotProcessableBeforeValidation", func(t *testing.T) {
		e := newEnv(t)
		job := e.createAccountsJob(t)

		_, err := e.chunks("worker-1", time.Minute).Process(e.ctx, job.ID(), 2, 0)
		assert.ErrorIs(t, err, importjob.ErrNotProcessable)
	})

	t.Run("CompletedJobShortCircuits", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)
		chunks := e.chunks("worker-1", time.Minute)
		for {
			res, err := chunks.Process(e.ctx, job.ID(), 2, 0)
			require.NoError(t, err)
			if res.Completed {
				break
			}
		}

		res, err := chunks.Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)
		assert.True(t, res.Completed)
		assert.Equal(t, 4, res.NextStartIndex)
	})
}

func TestProcessClaims(t *testing.T) {
	t.Run("FreshForeignClaimBlocks", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)

		claimed, err := e.jobs.Claim(e.ctx, job.ID(), importjob.ClaimParams{
			Claimant:    "worker-2",
			ClaimedAt:   time.Now(),
			StaleBefore: time.Now().Add(-time.Minute),
		})
		require.NoError(t, err)
		require.True(t, claimed)

		_, err = e.chunks("worker-1", time.Minute).Process(e.ctx, job.ID(), 2, 0)
		assert.ErrorIs(t, err, importjob.ErrClaimed)
	})

	t.Run("StaleClaimIsTakenOver", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)

		// worker-2 crashed an hour ago and never released.
		claimed, err := e.jobs.Claim(e.ctx, job.ID(), importjob.ClaimParams{
			Claimant:    "worker-2",
			ClaimedAt:   time.Now().Add(-time.Hour),
			StaleBefore: time.Now().Add(-2 * time.Hour),
		})
		require.NoError(t, err)
		require.True(t, claimed)

		res, err := e.chunks("worker-1", time.Minute).Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Processed)
	})

	t.Run("OwnClaimIsReclaimable", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)

		claimed, err := e.jobs.Claim(e.ctx, job.ID(), importjob.ClaimParams{
			Claimant:    "worker-1",
			ClaimedAt:   time.Now(),
			StaleBefore: time.Now().Add(-time.Minute),
		})
		require.NoError(t, err)
		require.True(t, claimed)

		res, err := e.chunks("worker-1", time.Minute).Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Processed)
	})

	t.Run("StalenessFollowsTheServiceClock", func(t *testing.T) {
		restore := timeNow
		defer func() { timeNow = restore }()

		e := newEnv(t)
		job := e.validatedAccountsJob(t)

		claimedAt := time.Now()
		claimed, err := e.jobs.Claim(e.ctx, job.ID(), importjob.ClaimParams{
			Claimant:    "worker-2",
			ClaimedAt:   claimedAt,
			StaleBefore: claimedAt.Add(-time.Minute),
		})
		require.NoError(t, err)
		require.True(t, claimed)

		chunks := e.chunks("worker-1", time.Minute)

		timeNow = func() time.Time { return claimedAt.Add(30 * time.Second) }
		_, err = chunks.Process(e.ctx, job.ID(), 2, 0)
		assert.ErrorIs(t, err, importjob.ErrClaimed)

		timeNow = func() time.Time { return claimedAt.Add(2 * time.Minute) }
		res, err := chunks.Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Processed)
	})

	t.Run("ClaimReleasedAfterChunk", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)

		_, err := e.chunks("worker-1", time.Minute).Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)

		// worker-2 can claim immediately.
		_, err = e.chunks("worker-2", time.Minute).Process(e.ctx, job.ID(), 2, 2)
		assert.NoError(t, err)
	})
}

func TestProcessFailure(t *testing.T) {
	fixed := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	restore := timeNow
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = restore }()

	failingLoader := &stubLoader{fn: func(context.Context, importjob.ImportJob, []importrow.ImportRow) (debtors.LoadResult, error) {
		return debtors.LoadResult{}, errors.New("relation does not exist")
	}}

	t.Run("MarksJobFailed", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)
		chunks := NewChunkService(e.jobs, e.rows, failingLoader, "worker-1", time.Minute, testLogger())

		_, err := chunks.Process(e.ctx, job.ID(), 2, 0)
		require.ErrorContains(t, err, "relation does not exist")

		got, err := e.imports.GetByID(e.ctx, job.ID())
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusFailed, got.Status())
		assert.Contains(t, got.FailureReason(), "relation does not exist")
		assert.Equal(t, fixed, got.ProcessingFinishedAt())
	})

	t.Run("ChunkTransactionDefersTheFailedWrite", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)
		chunks := NewChunkService(e.jobs, e.rows, failingLoader, "worker-1", time.Minute, testLogger())

		// The transaction body must not write the failed status itself: its
		// error return rolls the transaction back, which would discard it.
		_, err := chunks.processClaimed(e.ctx, job.ID(), 2, 0)
		var le *loadError
		require.ErrorAs(t, err, &le)

		got, err := e.imports.GetByID(e.ctx, job.ID())
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusValidated, got.Status())

		// The follow-up write lands the failure even though the processing
		// transition was never persisted.
		chunks.markFailed(e.ctx, job.ID(), le.cause.Error())
		got, err = e.imports.GetByID(e.ctx, job.ID())
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusFailed, got.Status())
		assert.Equal(t, "relation does not exist", got.FailureReason())
	})
}

func TestProcessRowFailuresAccumulate(t *testing.T) {
	e := newEnv(t)
	job := e.validatedAccountsJob(t)

	loader := &stubLoader{fn: func(_ context.Context, _ importjob.ImportJob, rows []importrow.ImportRow) (debtors.LoadResult, error) {
		// First row of every slice is rejected.
		return debtors.LoadResult{
			Inserted:    len(rows) - 1,
			RowFailures: []debtors.RowFailure{{RowIndex: rows[0].Index, Message: "constraint violated"}},
		}, nil
	}}
	chunks := NewChunkService(e.jobs, e.rows, loader, "worker-1", time.Minute, testLogger())

	res, err := chunks.Process(e.ctx, job.ID(), 2, 0)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Errors[0].RowIndex)
	assert.Equal(t, "constraint violated", res.Errors[0].Message)

	got, err := e.imports.GetByID(e.ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, got.SucceededRows())
	// One validation failure plus one load failure.
	assert.Equal(t, 2, got.FailedRows())

	rowErrors, err := e.imports.RowErrors(e.ctx, job.ID())
	require.NoError(t, err)
	assert.Len(t, rowErrors, 3)
}
