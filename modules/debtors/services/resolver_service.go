package services

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ledgerline/collect/modules/debtors/domain/aggregates/person"
	"github.com/ledgerline/collect/modules/debtors/domain/identity"
)

// ResolverService finds or creates the Person a row's data attaches to.
// Resolution is keyed by the normalized national id; creation relies on the
// repository's insert-on-conflict so two rows sharing a key, in one chunk or
// across chunks, land on the same Person exactly once.
type ResolverService struct {
	persons person.Repository
}

func NewResolverService(persons person.Repository) *ResolverService {
	return &ResolverService{persons: persons}
}

// Resolve normalizes proto's national id and returns the durable Person.
// Rows whose id fails normalization never reach this point: validation
// rejects them first, so a failure here is a programming error upstream.
func (s *ResolverService) Resolve(ctx context.Context, proto person.Person) (person.Person, error) {
	key, err := identity.Normalize(proto.NationalID())
	if err != nil {
		return person.Person{}, errors.Wrapf(err, "national id %q", proto.NationalID())
	}

	resolved, err := s.persons.FindOrCreate(ctx, person.Hydrate(
		proto.ID(),
		proto.TenantID(),
		key,
		proto.FullName(),
		proto.FirstName(),
		proto.LastName(),
		proto.DateOfBirth(),
		proto.Deceased(),
		proto.DeceasedDate(),
		proto.CreatedAt(),
		proto.UpdatedAt(),
	))
	if err != nil {
		return person.Person{}, errors.Wrap(err, "resolve person")
	}
	return resolved, nil
}
