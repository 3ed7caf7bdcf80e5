package account

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPaid     Status = "paid"
	StatusDisputed Status = "disputed"
	StatusClosed   Status = "closed"
)

func ValidStatus(s string) bool {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive, StatusPaid, StatusDisputed, StatusClosed:
		return true
	}
	return false
}

// DebtAccount is the primary entity of an accounts import. The natural key
// is (tenant, portfolio, original account number): re-processing the same
// slice twice must update, not duplicate.
type DebtAccount struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	PersonID          uuid.UUID
	PortfolioID       uuid.UUID
	AccountNumber     string
	OriginalCreditor  string
	CurrentBalance    decimal.Decimal
	OriginalBalance   decimal.Decimal
	OpenDate          time.Time
	ChargeOffDate     time.Time
	LastPaymentDate   time.Time
	LastPaymentAmount decimal.Decimal
	Status            Status
	ImportJobID       uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
