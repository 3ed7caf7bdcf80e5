package skiptrace

import (
	"context"

	"github.com/google/uuid"
)

type SubjectRepository interface {
	// BulkUpsert inserts subjects for persons that do not have one yet and
	// refreshes updated_at for those that do. Returns inserted/updated counts.
	BulkUpsert(ctx context.Context, subjects []Subject) (inserted, updated int, err error)
	DeleteByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
	CountByPersons(ctx context.Context, personIDs []uuid.UUID, excludeJobID uuid.UUID) (map[uuid.UUID]int64, error)
}

type SatelliteRepository interface {
	// ExistingKeys returns, per person, the set of dedup keys already stored
	// for the category. One query per category per slice, never per row.
	ExistingKeys(ctx context.Context, category Category, personIDs []uuid.UUID) (map[uuid.UUID]map[string]struct{}, error)
	BulkInsert(ctx context.Context, category Category, records []Satellite) (int, error)
	// DeleteForPersons removes every satellite row of the given persons.
	// Used by cascading job deletion once a person is orphaned.
	DeleteForPersons(ctx context.Context, personIDs []uuid.UUID) (int64, error)
}
