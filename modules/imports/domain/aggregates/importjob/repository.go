package importjob

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type FindParams struct {
	Statuses []Status
	Limit    int
	Offset   int
}

// ClaimParams gate the atomic "right to advance this job's cursor". A claim
// is grantable when no claimant is recorded, the previous claim is stale, or
// the claimant is re-claiming its own.
type ClaimParams struct {
	Claimant    string
	ClaimedAt   time.Time
	StaleBefore time.Time
}

type Repository interface {
	Create(ctx context.Context, job ImportJob) (ImportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (ImportJob, error)
	List(ctx context.Context, params FindParams) ([]ImportJob, int64, error)
	Update(ctx context.Context, job ImportJob) error

	// Claim performs the conditional update described by params against jobs
	// in validated or processing state. Returns false when another claimant
	// holds a fresh claim.
	Claim(ctx context.Context, id uuid.UUID, params ClaimParams) (bool, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, claimant string) error

	// SetCancelRequested flips the cooperative cancellation flag; the
	// orchestrator observes it at the start of its next invocation.
	SetCancelRequested(ctx context.Context, id uuid.UUID) error

	ReplaceRowErrors(ctx context.Context, jobID uuid.UUID, errs []RowError) error
	AppendRowErrors(ctx context.Context, jobID uuid.UUID, errs []RowError) error
	RowErrors(ctx context.Context, jobID uuid.UUID) ([]RowError, error)

	// Delete removes the job record and its row errors. Cascades to rows and
	// primary/satellite data are orchestrated by the service layer.
	Delete(ctx context.Context, id uuid.UUID) error
}
