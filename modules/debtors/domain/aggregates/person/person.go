package person

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Person is the canonical identity entity, keyed per tenant by the
// normalized 9-digit national id.
type Person struct {
	id           uuid.UUID
	tenantID     uuid.UUID
	nationalID   string
	fullName     string
	firstName    string
	lastName     string
	dateOfBirth  time.Time
	deceased     bool
	deceasedDate time.Time
	createdAt    time.Time
	updatedAt    time.Time
}

func New(tenantID uuid.UUID, nationalID, fullName, firstName, lastName string) Person {
	return Person{
		tenantID:   tenantID,
		nationalID: strings.TrimSpace(nationalID),
		fullName:   strings.TrimSpace(fullName),
		firstName:  strings.TrimSpace(firstName),
		lastName:   strings.TrimSpace(lastName),
	}
}

func Hydrate(
	id uuid.UUID,
	tenantID uuid.UUID,
	nationalID string,
	fullName string,
	firstName string,
	lastName string,
	dateOfBirth time.Time,
	deceased bool,
	deceasedDate time.Time,
	createdAt time.Time,
	updatedAt time.Time,
) Person {
	return Person{
		id:           id,
		tenantID:     tenantID,
		nationalID:   strings.TrimSpace(nationalID),
		fullName:     strings.TrimSpace(fullName),
		firstName:    strings.TrimSpace(firstName),
		lastName:     strings.TrimSpace(lastName),
		dateOfBirth:  dateOfBirth,
		deceased:     deceased,
		deceasedDate: deceasedDate,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}

func (p Person) ID() uuid.UUID           { return p.id }
func (p Person) TenantID() uuid.UUID     { return p.tenantID }
func (p Person) NationalID() string      { return p.nationalID }
func (p Person) FullName() string        { return p.fullName }
func (p Person) FirstName() string       { return p.firstName }
func (p Person) LastName() string        { return p.lastName }
func (p Person) DateOfBirth() time.Time  { return p.dateOfBirth }
func (p Person) Deceased() bool          { return p.deceased }
func (p Person) DeceasedDate() time.Time { return p.deceasedDate }
func (p Person) CreatedAt() time.Time    { return p.createdAt }
func (p Person) UpdatedAt() time.Time    { return p.updatedAt }
func (p Person) IsZero() bool            { return p.id == uuid.Nil && p.nationalID == "" }

// WithDemographics returns a copy carrying optional demographic fields parsed
// from an import row.
func (p Person) WithDemographics(dateOfBirth time.Time, deceased bool, deceasedDate time.Time) Person {
	p.dateOfBirth = dateOfBirth
	p.deceased = deceased
	p.deceasedDate = deceasedDate
	return p
}
