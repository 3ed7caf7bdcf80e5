package account

import (
	"context"

	"github.com/google/uuid"
)

// UpsertFailure reports a single account the set-based upsert rejected.
type UpsertFailure struct {
	AccountNumber string
	Message       string
}

type Repository interface {
	// BulkUpsert inserts or updates the slice in one set-based operation
	// keyed on (tenant, portfolio, account number). Constraint violations
	// surface as per-account failures, not as an error for the slice.
	BulkUpsert(ctx context.Context, accounts []DebtAccount) (inserted, updated int, failures []UpsertFailure, err error)
	CountByPortfolio(ctx context.Context, portfolioID uuid.UUID, excludeJobID uuid.UUID) (int64, error)
	DeleteByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
}
