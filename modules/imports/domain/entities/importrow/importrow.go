package importrow

import (
	"context"

	"github.com/google/uuid"
)

// ImportRow is one source row projected through the field mapping. The
// validated row set is persisted once at validation time and consumed in
// slices by the chunk orchestrator.
type ImportRow struct {
	JobID  uuid.UUID
	Index  int
	Fields map[string]string
	Valid  bool
}

type Repository interface {
	// ReplaceForJob atomically swaps the job's row set; re-validation writes
	// a fresh set.
	ReplaceForJob(ctx context.Context, jobID uuid.UUID, rows []ImportRow) error
	// Slice returns rows with Index in [start, start+limit), ordered by index.
	Slice(ctx context.Context, jobID uuid.UUID, start, limit int) ([]ImportRow, error)
	CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
	DeleteByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
}
