package importjob_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
)

func newUploadedJob(t *testing.T) importjob.ImportJob {
	t.Helper()
	job := importjob.New(
		uuid.New(), uuid.New(), "accounts.csv", 128,
		importjob.FileKindCSV, importtype.Accounts, nil, uuid.Nil,
	)
	job, err := job.MarkUploaded("handle.csv")
	require.NoError(t, err)
	return job
}

func validatedJob(t *testing.T, totalRows, invalidRows int) importjob.ImportJob {
	t.Helper()
	job := newUploadedJob(t)
	job, err := job.StartValidation(time.Now())
	require.NoError(t, err)
	job, err = job.MarkValidated(time.Now(), totalRows, invalidRows)
	require.NoError(t, err)
	return job
}

func TestImportJobLifecycle(t *testing.T) {
	t.Run("HappyPath", func(t *testing.T) {
		job := validatedJob(t, 10, 2)
		assert.Equal(t, importjob.StatusValidated, job.Status())
		assert.Equal(t, 10, job.TotalRows())
		assert.Equal(t, 2, job.FailedRows())

		job, err := job.StartProcessing(time.Now())
		require.NoError(t, err)
		job, err = job.ApplyChunk(10, 8, 0)
		require.NoError(t, err)
		job, err = job.Complete(time.Now())
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusCompleted, job.Status())
		assert.Equal(t, 100, job.Progress())
	})

	t.Run("MarkUploadedOnlyFromPending", func(t *testing.T) {
		job := newUploadedJob(t)
		_, err := job.MarkUploaded("again")
		assert.ErrorIs(t, err, importjob.ErrInvalidTransition)
	})

	t.Run("RevalidationResetsCounters", func(t *testing.T) {
		job := validatedJob(t, 10, 4)
		job, err := job.StartValidation(time.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, job.TotalRows())
		assert.Equal(t, 0, job.FailedRows())
		assert.Equal(t, 0, job.Cursor())
	})

	t.Run("ReturnToUploadedKeepsReason", func(t *testing.T) {
		job := newUploadedJob(t)
		job, err := job.StartValidation(time.Now())
		require.NoError(t, err)
		job, err = job.ReturnToUploaded("mapped source column missing")
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusUploaded, job.Status())
		assert.Equal(t, "mapped source column missing", job.FailureReason())

		// Fixable: validation can start again.
		_, err = job.StartValidation(time.Now())
		assert.NoError(t, err)
	})

	t.Run("CancelOnlyWhileProcessing", func(t *testing.T) {
		job := validatedJob(t, 5, 0)
		_, err := job.Cancel(time.Now())
		assert.ErrorIs(t, err, importjob.ErrNotCancellable)

		job, err = job.StartProcessing(time.Now())
		require.NoError(t, err)
		job, err = job.Cancel(time.Now())
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusCancelled, job.Status())
	})

	t.Run("CompleteRequiresExhaustedCursor", func(t *testing.T) {
		job := validatedJob(t, 5, 0)
		job, err := job.StartProcessing(time.Now())
		require.NoError(t, err)
		_, err = job.Complete(time.Now())
		assert.ErrorIs(t, err, importjob.ErrRowsRemaining)
	})

	t.Run("FailFromProcessing", func(t *testing.T) {
		job := validatedJob(t, 5, 0)
		job, err := job.StartProcessing(time.Now())
		require.NoError(t, err)
		job, err = job.Fail(time.Now(), "database gone")
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusFailed, job.Status())
		assert.Equal(t, "database gone", job.FailureReason())
	})
}

func TestApplyChunk(t *testing.T) {
	processing := func(t *testing.T) importjob.ImportJob {
		job := validatedJob(t, 10, 0)
		job, err := job.StartProcessing(time.Now())
		require.NoError(t, err)
		return job
	}

	t.Run("AdvancesCursorAndCounters", func(t *testing.T) {
		job := processing(t)
		job, err := job.ApplyChunk(4, 3, 1)
		require.NoError(t, err)
		assert.Equal(t, 4, job.Cursor())
		assert.Equal(t, 4, job.ProcessedRows())
		assert.Equal(t, 3, job.SucceededRows())
		assert.Equal(t, 1, job.FailedRows())
		assert.Equal(t, 40, job.Progress())
	})

	t.Run("ReplayedChunkIsNoOp", func(t *testing.T) {
		job := processing(t)
		job, err := job.ApplyChunk(4, 4, 0)
		require.NoError(t, err)
		// Same slice again: cursor does not move, counters stay.
		job, err = job.ApplyChunk(4, 4, 0)
		require.NoError(t, err)
		assert.Equal(t, 4, job.Cursor())
		assert.Equal(t, 4, job.ProcessedRows())
		assert.Equal(t, 4, job.SucceededRows())
	})

	t.Run("CursorClampedToTotal", func(t *testing.T) {
		job := processing(t)
		job, err := job.ApplyChunk(50, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 10, job.Cursor())
		assert.Equal(t, 10, job.ProcessedRows())
	})
}

func TestAttachPortfolio(t *testing.T) {
	job := validatedJob(t, 1, 0)
	pid := uuid.New()

	job, err := job.AttachPortfolio(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, job.PortfolioID())

	// Re-attaching the same id is idempotent; a different id is refused.
	_, err = job.AttachPortfolio(pid)
	assert.NoError(t, err)
	_, err = job.AttachPortfolio(uuid.New())
	assert.ErrorIs(t, err, importjob.ErrPortfolioAttached)
}
