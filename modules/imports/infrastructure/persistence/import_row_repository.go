package persistence

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/collect/modules/imports/domain/entities/importrow"
	"github.com/ledgerline/collect/pkg/composables"
)

type ImportRowRepository struct{}

func NewImportRowRepository() importrow.Repository {
	return &ImportRowRepository{}
}

// ReplaceForJob swaps the job's row set. The delete and the batched insert
// run on the caller's transaction, so re-validation is atomic.
func (r *ImportRowRepository) ReplaceForJob(ctx context.Context, jobID uuid.UUID, rows []importrow.ImportRow) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM import_rows WHERE job_id = $1`, jobID,
	); err != nil {
		return errors.Wrap(err, "failed to clear import rows")
	}
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		fields, err := json.Marshal(row.Fields)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO import_rows (job_id, row_index, fields, valid) VALUES ($1, $2, $3, $4)`,
			jobID, row.Index, fields, row.Valid,
		)
	}
	results := tx.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return errors.Wrap(err, "failed to insert import rows")
		}
	}
	return nil
}

func (r *ImportRowRepository) Slice(ctx context.Context, jobID uuid.UUID, start, limit int) ([]importrow.ImportRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT job_id, row_index, fields, valid
		FROM import_rows
		WHERE job_id = $1 AND row_index >= $2 AND row_index < $3
		ORDER BY row_index`,
		jobID, start, start+limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query import rows")
	}
	defer rows.Close()

	var out []importrow.ImportRow
	for rows.Next() {
		var (
			row    importrow.ImportRow
			fields []byte
		)
		if err := rows.Scan(&row.JobID, &row.Index, &fields, &row.Valid); err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &row.Fields); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *ImportRowRepository) CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM import_rows WHERE job_id = $1`, jobID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count import rows")
	}
	return count, nil
}

func (r *ImportRowRepository) DeleteByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM import_rows WHERE job_id = $1`, jobID,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete import rows")
	}
	return tag.RowsAffected(), nil
}
