package skiptrace

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subject is the primary entity of a skip-trace import. Natural key is the
// person itself: one subject per person per tenant.
type Subject struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	PersonID    uuid.UUID
	ImportJobID uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category identifies a satellite table.
type Category string

const (
	CategoryAddress    Category = "address"
	CategoryPhone      Category = "phone"
	CategoryEmail      Category = "email"
	CategoryRelative   Category = "relative"
	CategoryVehicle    Category = "vehicle"
	CategoryEmployment Category = "employment"
	CategoryBankruptcy Category = "bankruptcy"
)

// Categories lists every satellite category in fan-out order.
func Categories() []Category {
	return []Category{
		CategoryAddress,
		CategoryPhone,
		CategoryEmail,
		CategoryRelative,
		CategoryVehicle,
		CategoryEmployment,
		CategoryBankruptcy,
	}
}

// Satellite is a secondary fact about a person. Payload holds the
// category-specific columns; DedupKey is the exact-string key existing rows
// are matched on before insertion (the source system does not normalize
// formatting, see DESIGN.md).
type Satellite struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	PersonID    uuid.UUID
	Category    Category
	Payload     map[string]string
	FirstSeen   time.Time
	LastSeen    time.Time
	Source      string
	IsCurrent   bool
	ImportJobID uuid.UUID
}

// DedupKey varies by category: phone number value, full address string,
// lowercased email, relative name, VIN, employer name, bankruptcy case number.
func (s Satellite) DedupKey() string {
	switch s.Category {
	case CategoryAddress:
		parts := []string{
			s.Payload["address_line1"],
			s.Payload["address_line2"],
			s.Payload["city"],
			s.Payload["state"],
			s.Payload["zip"],
		}
		nonEmpty := parts[:0]
		for _, p := range parts {
			if strings.TrimSpace(p) != "" {
				nonEmpty = append(nonEmpty, strings.TrimSpace(p))
			}
		}
		return strings.Join(nonEmpty, ", ")
	case CategoryPhone:
		return s.Payload["phone"]
	case CategoryEmail:
		return strings.ToLower(s.Payload["email"])
	case CategoryRelative:
		return s.Payload["relative_name"]
	case CategoryVehicle:
		if vin := s.Payload["vehicle_vin"]; vin != "" {
			return vin
		}
		return strings.TrimSpace(s.Payload["vehicle_year"] + " " + s.Payload["vehicle_make"] + " " + s.Payload["vehicle_model"])
	case CategoryEmployment:
		return s.Payload["employer_name"]
	case CategoryBankruptcy:
		return s.Payload["bankruptcy_case_number"]
	}
	return ""
}
