package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/repo"
)

const importJobColumns = `id, tenant_id, created_by, file_name, file_size, file_kind,
	file_handle, import_type, mapping, template_id, status, failure_reason,
	progress, total_rows, processed_rows, succeeded_rows, failed_rows, cursor,
	cancel_requested, portfolio_id, created_at, validation_started_at,
	validation_finished_at, processing_started_at, processing_finished_at`

type ImportJobRepository struct{}

func NewImportJobRepository() importjob.Repository {
	return &ImportJobRepository{}
}

func (r *ImportJobRepository) Create(ctx context.Context, job importjob.ImportJob) (importjob.ImportJob, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return importjob.ImportJob{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return importjob.ImportJob{}, err
	}

	id := job.ID()
	if id == uuid.Nil {
		id = uuid.New()
	}
	mapping, err := json.Marshal(job.Mapping())
	if err != nil {
		return importjob.ImportJob{}, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO import_jobs (
			id, tenant_id, created_by, file_name, file_size, file_kind,
			file_handle, import_type, mapping, template_id, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+importJobColumns,
		id, tenantID, job.CreatedBy(), job.FileName(), job.FileSize(), string(job.FileKind()),
		job.FileHandle(), string(job.ImportType()), mapping, pgUUID(job.TemplateID()),
		string(job.Status()), time.Now(),
	)
	return scanImportJob(row)
}

func (r *ImportJobRepository) GetByID(ctx context.Context, id uuid.UUID) (importjob.ImportJob, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return importjob.ImportJob{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return importjob.ImportJob{}, err
	}

	row := tx.QueryRow(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	return scanImportJob(row)
}

func (r *ImportJobRepository) List(ctx context.Context, params importjob.FindParams) ([]importjob.ImportJob, int64, error) {
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
	if len(params.Statuses) > 0 {
		statuses := make([]string, 0, len(params.Statuses))
		for _, s := range params.Statuses {
			statuses = append(statuses, string(s))
		}
		where += ` AND status = ANY($2)`
		args = append(args, statuses)
	}

	var total int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM import_jobs WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count import jobs")
	}

	query := `SELECT ` + importJobColumns + ` FROM import_jobs WHERE ` + where +
		` ORDER BY created_at DESC ` + repo.FormatLimitOffset(params.Limit, params.Offset)
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to query import jobs")
	}
	defer rows.Close()

	var jobs []importjob.ImportJob
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (r *ImportJobRepository) Update(ctx context.Context, job importjob.ImportJob) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	mapping, err := json.Marshal(job.Mapping())
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE import_jobs SET
			file_handle = $3,
			mapping = $4,
			template_id = $5,
			status = $6,
			failure_reason = $7,
			progress = $8,
			total_rows = $9,
			processed_rows = $10,
			succeeded_rows = $11,
			failed_rows = $12,
			cursor = $13,
			cancel_requested = $14,
			portfolio_id = $15,
			validation_started_at = $16,
			validation_finished_at = $17,
			processing_started_at = $18,
			processing_finished_at = $19
		WHERE id = $1 AND tenant_id = $2`,
		job.ID(), tenantID,
		job.FileHandle(), mapping, pgUUID(job.TemplateID()),
		string(job.Status()), job.FailureReason(),
		job.Progress(), job.TotalRows(), job.ProcessedRows(),
		job.SucceededRows(), job.FailedRows(), job.Cursor(),
		job.CancelRequested(), pgUUID(job.PortfolioID()),
		pgTime(job.ValidationStartedAt()), pgTime(job.ValidationFinishedAt()),
		pgTime(job.ProcessingStartedAt()), pgTime(job.ProcessingFinishedAt()),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update import job")
	}
	if tag.RowsAffected() == 0 {
		return importjob.ErrNotFound
	}
	return nil
}

// Claim is the single conditional UPDATE that decides who may advance the
// job. The WHERE clause admits three cases: no claimant, a stale claim, or
// the caller re-claiming its own. Zero rows affected means someone else
// holds a fresh claim.
func (r *ImportJobRepository) Claim(ctx context.Context, id uuid.UUID, params importjob.ClaimParams) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE import_jobs
		SET claimed_by = $3, claimed_at = $4
		WHERE id = $1 AND tenant_id = $2
		  AND status IN ('validated', 'processing')
		  AND (claimed_by IS NULL OR claimed_at < $5 OR claimed_by = $3)`,
		id, tenantID, params.Claimant, params.ClaimedAt, params.StaleBefore,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim import job")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ImportJobRepository) ReleaseClaim(ctx context.Context, id uuid.UUID, claimant string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE import_jobs
		SET claimed_by = NULL, claimed_at = NULL
		WHERE id = $1 AND tenant_id = $2 AND claimed_by = $3`,
		id, tenantID, claimant,
	)
	return err
}

func (r *ImportJobRepository) SetCancelRequested(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE import_jobs SET cancel_requested = TRUE WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return importjob.ErrNotFound
	}
	return nil
}

func (r *ImportJobRepository) ReplaceRowErrors(ctx context.Context, jobID uuid.UUID, errs []importjob.RowError) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM import_row_errors WHERE job_id = $1`, jobID,
	); err != nil {
		return err
	}
	return r.AppendRowErrors(ctx, jobID, errs)
}

func (r *ImportJobRepository) AppendRowErrors(ctx context.Context, jobID uuid.UUID, errs []importjob.RowError) error {
	if len(errs) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	const cols = 4
	args := make([]any, 0, len(errs)*cols)
	for _, e := range errs {
		args = append(args, jobID, e.RowIndex, e.Field, e.Message)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO import_row_errors (job_id, row_index, field, message)
		VALUES `+repo.BatchValues(len(errs), cols),
		args...,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert row errors")
	}
	return nil
}

func (r *ImportJobRepository) RowErrors(ctx context.Context, jobID uuid.UUID) ([]importjob.RowError, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT row_index, field, message
		FROM import_row_errors
		WHERE job_id = $1
		ORDER BY row_index, field`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []importjob.RowError
	for rows.Next() {
		var e importjob.RowError
		if err := rows.Scan(&e.RowIndex, &e.Field, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ImportJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM import_row_errors WHERE job_id = $1`, id,
	); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`DELETE FROM import_jobs WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return importjob.ErrNotFound
	}
	return nil
}

func scanImportJob(row pgx.Row) (importjob.ImportJob, error) {
	var (
		p          importjob.HydrateParams
		fileKind   string
		importType string
		status     string
		mapping    []byte
		templateID *uuid.UUID
		portfolio  *uuid.UUID
		vStarted, vFinished, pStarted, pFinished *time.Time
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.CreatedBy, &p.FileName, &p.FileSize, &fileKind,
		&p.FileHandle, &importType, &mapping, &templateID, &status, &p.FailureReason,
		&p.Progress, &p.TotalRows, &p.ProcessedRows, &p.SucceededRows, &p.FailedRows,
		&p.Cursor, &p.CancelRequested, &portfolio, &p.CreatedAt,
		&vStarted, &vFinished, &pStarted, &pFinished,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return importjob.ImportJob{}, importjob.ErrNotFound
		}
		return importjob.ImportJob{}, err
	}

	p.FileKind = importjob.FileKind(fileKind)
	p.ImportType = importtype.ImportType(importType)
	p.Status = importjob.Status(status)
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &p.Mapping); err != nil {
			return importjob.ImportJob{}, err
		}
	}
	p.TemplateID = uuidOrNil(templateID)
	p.PortfolioID = uuidOrNil(portfolio)
	p.ValidationStartedAt = timeOrZero(vStarted)
	p.ValidationFinishedAt = timeOrZero(vFinished)
	p.ProcessingStartedAt = timeOrZero(pStarted)
	p.ProcessingFinishedAt = timeOrZero(pFinished)
	return importjob.Hydrate(p), nil
}
