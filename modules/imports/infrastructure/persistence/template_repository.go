package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerline/collect/modules/imports/domain/entities/template"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/repo"
)

const templateColumns = `id, tenant_id, name, import_type, mapping, sample_rows, created_by, created_at, updated_at`

type TemplateRepository struct{}

func NewTemplateRepository() template.Repository {
	return &TemplateRepository{}
}

func (r *TemplateRepository) Create(ctx context.Context, t template.Template) (template.Template, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return template.Template{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return template.Template{}, err
	}

	t.Normalize()
	id := t.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	mapping, sampleRows, err := marshalTemplateJSON(t)
	if err != nil {
		return template.Template{}, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO import_templates (
			id, tenant_id, name, import_type, mapping, sample_rows, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+templateColumns,
		id, tenantID, t.Name, string(t.ImportType), mapping, sampleRows, t.CreatedBy, time.Now(),
	)
	out, err := scanTemplate(row)
	if err != nil {
		return template.Template{}, mapTemplateError(err)
	}
	return out, nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (template.Template, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return template.Template{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return template.Template{}, err
	}

	row := tx.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM import_templates WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	return scanTemplate(row)
}

func (r *TemplateRepository) List(ctx context.Context, params template.FindParams) ([]template.Template, int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := `tenant_id = $1`
	args := []any{tenantID}
	if params.ImportType != "" {
		where += ` AND import_type = $2`
		args = append(args, string(params.ImportType))
	}

	var total int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM import_templates WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count templates")
	}

	rows, err := tx.Query(ctx,
		`SELECT `+templateColumns+` FROM import_templates WHERE `+where+
			` ORDER BY name `+repo.FormatLimitOffset(params.Limit, params.Offset),
		args...,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to query templates")
	}
	defer rows.Close()

	var out []template.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *TemplateRepository) Update(ctx context.Context, t template.Template) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	t.Normalize()
	mapping, sampleRows, err := marshalTemplateJSON(t)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE import_templates
		SET name = $3, mapping = $4, sample_rows = $5, updated_at = $6
		WHERE id = $1 AND tenant_id = $2`,
		t.ID, tenantID, t.Name, mapping, sampleRows, time.Now(),
	)
	if err != nil {
		return mapTemplateError(err)
	}
	if tag.RowsAffected() == 0 {
		return template.ErrNotFound
	}
	return nil
}

func (r *TemplateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM import_templates WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return template.ErrNotFound
	}
	return nil
}

func marshalTemplateJSON(t template.Template) (mapping, sampleRows []byte, err error) {
	mapping, err = json.Marshal(t.Mapping)
	if err != nil {
		return nil, nil, err
	}
	sampleRows, err = json.Marshal(t.SampleRows)
	if err != nil {
		return nil, nil, err
	}
	return mapping, sampleRows, nil
}

func mapTemplateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return template.ErrNameTaken
	}
	return err
}

func scanTemplate(row pgx.Row) (template.Template, error) {
	var (
		t          template.Template
		importType string
		mapping    []byte
		sampleRows []byte
	)
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Name, &importType, &mapping, &sampleRows,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return template.Template{}, template.ErrNotFound
		}
		return template.Template{}, err
	}
	t.ImportType = importtype.ImportType(importType)
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &t.Mapping); err != nil {
			return template.Template{}, err
		}
	}
	if len(sampleRows) > 0 {
		if err := json.Unmarshal(sampleRows, &t.SampleRows); err != nil {
			return template.Template{}, err
		}
	}
	return t, nil
}
