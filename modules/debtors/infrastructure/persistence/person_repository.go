package persistence

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/collect/modules/debtors/domain/aggregates/person"
	"github.com/ledgerline/collect/pkg/composables"
)

const personColumns = `id, tenant_id, national_id, full_name, first_name, last_name,
	date_of_birth, deceased, deceased_date, created_at, updated_at`

type PersonRepository struct{}

func NewPersonRepository() person.Repository {
	return &PersonRepository{}
}

func (r *PersonRepository) GetByID(ctx context.Context, id uuid.UUID) (person.Person, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return person.Person{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return person.Person{}, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+personColumns+`
		FROM persons
		WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	return scanPerson(row)
}

func (r *PersonRepository) GetByNationalID(ctx context.Context, nationalID string) (person.Person, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return person.Person{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return person.Person{}, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+personColumns+`
		FROM persons
		WHERE tenant_id = $1 AND national_id = $2`,
		tenantID, nationalID,
	)
	return scanPerson(row)
}

// FindOrCreate relies on the (tenant_id, national_id) unique constraint: the
// insert either lands or degrades to a no-op update so RETURNING always
// yields the surviving row, even when two callers race on the same key.
func (r *PersonRepository) FindOrCreate(ctx context.Context, p person.Person) (person.Person, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return person.Person{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return person.Person{}, err
	}

	id := p.ID()
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now()

	row := tx.QueryRow(ctx, `
		INSERT INTO persons (
			id, tenant_id, national_id, full_name, first_name, last_name,
			date_of_birth, deceased, deceased_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (tenant_id, national_id) DO UPDATE SET
			full_name = CASE WHEN persons.full_name = '' THEN EXCLUDED.full_name ELSE persons.full_name END,
			first_name = CASE WHEN persons.first_name = '' THEN EXCLUDED.first_name ELSE persons.first_name END,
			last_name = CASE WHEN persons.last_name = '' THEN EXCLUDED.last_name ELSE persons.last_name END,
			date_of_birth = COALESCE(persons.date_of_birth, EXCLUDED.date_of_birth),
			deceased = persons.deceased OR EXCLUDED.deceased,
			deceased_date = COALESCE(persons.deceased_date, EXCLUDED.deceased_date),
			updated_at = EXCLUDED.updated_at
		RETURNING `+personColumns,
		id, tenantID, p.NationalID(), p.FullName(), p.FirstName(), p.LastName(),
		pgTime(p.DateOfBirth()), p.Deceased(), pgTime(p.DeceasedDate()), now,
	)
	return scanPerson(row)
}

func (r *PersonRepository) OrphanIDs(ctx context.Context) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT p.id
		FROM persons p
		WHERE p.tenant_id = $1
		  AND NOT EXISTS (SELECT 1 FROM debt_accounts a WHERE a.person_id = p.id)
		  AND NOT EXISTS (SELECT 1 FROM skip_trace_subjects s WHERE s.person_id = p.id)`,
		tenantID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query orphaned persons")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PersonRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM persons WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, ids,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete persons")
	}
	return tag.RowsAffected(), nil
}

func scanPerson(row pgx.Row) (person.Person, error) {
	var (
		id, tenantID                              uuid.UUID
		nationalID, fullName, firstName, lastName string
		dateOfBirth, deceasedDate                 *time.Time
		deceased                                  bool
		createdAt, updatedAt                      time.Time
	)
	err := row.Scan(
		&id, &tenantID, &nationalID, &fullName, &firstName, &lastName,
		&dateOfBirth, &deceased, &deceasedDate, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return person.Person{}, person.ErrNotFound
		}
		return person.Person{}, err
	}
	return person.Hydrate(
		id, tenantID, nationalID, fullName, firstName, lastName,
		timeOrZero(dateOfBirth), deceased, timeOrZero(deceasedDate),
		createdAt, updatedAt,
	), nil
}
