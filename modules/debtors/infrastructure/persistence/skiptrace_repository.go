package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/ledgerline/collect/modules/debtors/domain/entities/skiptrace"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/repo"
)

// satelliteTables maps a category onto its table. One table per category
// keeps the payload columns queryable without a discriminator.
var satelliteTables = map[skiptrace.Category]string{
	skiptrace.CategoryAddress:    "person_addresses",
	skiptrace.CategoryPhone:      "person_phones",
	skiptrace.CategoryEmail:      "person_emails",
	skiptrace.CategoryRelative:   "person_relatives",
	skiptrace.CategoryVehicle:    "person_vehicles",
	skiptrace.CategoryEmployment: "person_employments",
	skiptrace.CategoryBankruptcy: "person_bankruptcies",
}

func satelliteTable(category skiptrace.Category) (string, error) {
	table, ok := satelliteTables[category]
	if !ok {
		return "", errors.Errorf("unknown satellite category: %s", category)
	}
	return table, nil
}

type SubjectRepository struct{}

func NewSubjectRepository() skiptrace.SubjectRepository {
	return &SubjectRepository{}
}

func (r *SubjectRepository) BulkUpsert(ctx context.Context, subjects []skiptrace.Subject) (int, int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(subjects) == 0 {
		return 0, 0, nil
	}

	now := time.Now()
	const cols = 6
	args := make([]any, 0, len(subjects)*cols)
	for _, s := range subjects {
		id := s.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		args = append(args, id, tenantID, s.PersonID, s.ImportJobID, now, now)
	}

	rows, err := tx.Query(ctx, `
		INSERT INTO skip_trace_subjects (id, tenant_id, person_id, import_job_id, created_at, updated_at)
		VALUES `+repo.BatchValues(len(subjects), cols)+`
		ON CONFLICT (tenant_id, person_id) DO UPDATE SET
			import_job_id = EXCLUDED.import_job_id,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS was_insert`,
		args...,
	)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to upsert skip trace subjects")
	}
	defer rows.Close()

	var inserted, updated int
	for rows.Next() {
		var wasInsert bool
		if err := rows.Scan(&wasInsert); err != nil {
			return inserted, updated, err
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, rows.Err()
}

func (r *SubjectRepository) DeleteByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM skip_trace_subjects WHERE tenant_id = $1 AND import_job_id = $2`,
		tenantID, jobID,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete skip trace subjects")
	}
	return tag.RowsAffected(), nil
}

func (r *SubjectRepository) CountByPersons(ctx context.Context, personIDs []uuid.UUID, excludeJobID uuid.UUID) (map[uuid.UUID]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT person_id, COUNT(*)
		FROM skip_trace_subjects
		WHERE tenant_id = $1 AND person_id = ANY($2) AND import_job_id <> $3
		GROUP BY person_id`,
		tenantID, personIDs, excludeJobID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count skip trace subjects")
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64, len(personIDs))
	for rows.Next() {
		var id uuid.UUID
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

type SatelliteRepository struct{}

func NewSatelliteRepository() skiptrace.SatelliteRepository {
	return &SatelliteRepository{}
}

func (r *SatelliteRepository) ExistingKeys(ctx context.Context, category skiptrace.Category, personIDs []uuid.UUID) (map[uuid.UUID]map[string]struct{}, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	table, err := satelliteTable(category)
	if err != nil {
		return nil, err
	}
	if len(personIDs) == 0 {
		return map[uuid.UUID]map[string]struct{}{}, nil
	}

	rows, err := tx.Query(ctx,
		`SELECT person_id, dedup_key FROM `+table+` WHERE tenant_id = $1 AND person_id = ANY($2)`,
		tenantID, personIDs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query dedup keys")
	}
	defer rows.Close()

	existing := make(map[uuid.UUID]map[string]struct{})
	for rows.Next() {
		var id uuid.UUID
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, err
		}
		if existing[id] == nil {
			existing[id] = make(map[string]struct{})
		}
		existing[id][key] = struct{}{}
	}
	return existing, rows.Err()
}

// BulkInsert writes the pre-deduplicated records. ON CONFLICT DO NOTHING
// keeps re-processed chunks idempotent when two invocations race past the
// ExistingKeys read.
func (r *SatelliteRepository) BulkInsert(ctx context.Context, category skiptrace.Category, records []skiptrace.Satellite) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}
	table, err := satelliteTable(category)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	const cols = 10
	args := make([]any, 0, len(records)*cols)
	for _, rec := range records {
		id := rec.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return 0, err
		}
		args = append(args,
			id, tenantID, rec.PersonID, payload, rec.DedupKey(),
			rec.FirstSeen, rec.LastSeen, rec.Source, rec.IsCurrent, rec.ImportJobID,
		)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO `+table+` (
			id, tenant_id, person_id, payload, dedup_key,
			first_seen, last_seen, source, is_current, import_job_id
		) VALUES `+repo.BatchValues(len(records), cols)+`
		ON CONFLICT (tenant_id, person_id, dedup_key) DO NOTHING`,
		args...,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert satellite records")
	}
	return int(tag.RowsAffected()), nil
}

func (r *SatelliteRepository) DeleteForPersons(ctx context.Context, personIDs []uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}
	if len(personIDs) == 0 {
		return 0, nil
	}

	var total int64
	for _, category := range skiptrace.Categories() {
		table, err := satelliteTable(category)
		if err != nil {
			return total, err
		}
		tag, err := tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE tenant_id = $1 AND person_id = ANY($2)`,
			tenantID, personIDs,
		)
		if err != nil {
			return total, errors.Wrap(err, "failed to delete satellite records")
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
