package person

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("person not found")

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (Person, error)
	GetByNationalID(ctx context.Context, nationalID string) (Person, error)
	// FindOrCreate resolves the person for p's national id, inserting when
	// absent. Safe under concurrent invocation: implementations must use an
	// insert-on-conflict, never find-then-unconditional-insert.
	FindOrCreate(ctx context.Context, p Person) (Person, error)
	// OrphanIDs lists persons with no remaining debt accounts or skip-trace
	// subjects. Callers remove dependent satellite rows before DeleteByIDs.
	OrphanIDs(ctx context.Context) ([]uuid.UUID, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}
