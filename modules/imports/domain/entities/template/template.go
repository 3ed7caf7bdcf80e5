package template

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/collect/modules/imports/domain/importtype"
)

var (
	ErrNotFound  = errors.New("import template not found")
	ErrNameTaken = errors.New("template name already exists for this import type")
)

// Template is a reusable column-to-field mapping preset scoped to an import
// type. Selecting one pre-fills the mapping; the caller may still override
// individual fields before confirming.
type Template struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Name       string
	ImportType importtype.ImportType
	Mapping    map[string]string
	SampleRows [][]string
	CreatedBy  uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (t *Template) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
}

type FindParams struct {
	ImportType importtype.ImportType
	Limit      int
	Offset     int
}

type Repository interface {
	Create(ctx context.Context, t Template) (Template, error)
	GetByID(ctx context.Context, id uuid.UUID) (Template, error)
	List(ctx context.Context, params FindParams) ([]Template, int64, error)
	Update(ctx context.Context, t Template) error
	Delete(ctx context.Context, id uuid.UUID) error
}
