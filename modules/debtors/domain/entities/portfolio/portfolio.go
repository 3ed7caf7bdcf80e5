package portfolio

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("portfolio not found")

// Portfolio groups purchased debt accounts. Also covers the simpler
// name-keyed entities imported the same way (clients, agencies), which share
// the kind column.
type Kind string

const (
	KindPortfolio Kind = "portfolio"
	KindClient    Kind = "client"
	KindAgency    Kind = "agency"
)

type Portfolio struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Kind          Kind
	Name          string
	ClientName    string
	PurchaseDate  time.Time
	PurchasePrice decimal.Decimal
	FaceValue     decimal.Decimal
	ImportJobID   uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (Portfolio, error)
	// EnsureByName finds the named record or creates it, returning the id
	// and whether a new row was inserted. Insert-on-conflict semantics.
	EnsureByName(ctx context.Context, p Portfolio) (Portfolio, bool, error)
	// BulkUpsert is the primary-entity load for portfolios/clients/agencies
	// import types, keyed on (tenant, kind, name).
	BulkUpsert(ctx context.Context, items []Portfolio) (inserted, updated int, err error)
	Delete(ctx context.Context, id uuid.UUID) error
}
