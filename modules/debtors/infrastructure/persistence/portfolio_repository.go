package persistence

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/collect/modules/debtors/domain/entities/portfolio"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/repo"
)

const portfolioColumns = `id, tenant_id, kind, name, client_name,
	purchase_date, purchase_price::text, face_value::text, import_job_id, created_at, updated_at`

type PortfolioRepository struct{}

func NewPortfolioRepository() portfolio.Repository {
	return &PortfolioRepository{}
}

func (r *PortfolioRepository) GetByID(ctx context.Context, id uuid.UUID) (portfolio.Portfolio, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return portfolio.Portfolio{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return portfolio.Portfolio{}, err
	}

	row := tx.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	return scanPortfolio(row)
}

func (r *PortfolioRepository) EnsureByName(ctx context.Context, p portfolio.Portfolio) (portfolio.Portfolio, bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return portfolio.Portfolio{}, false, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return portfolio.Portfolio{}, false, err
	}

	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now()

	// The no-op update on conflict makes RETURNING yield the surviving row,
	// same trick as person FindOrCreate.
	row := tx.QueryRow(ctx, `
		INSERT INTO portfolios (
			id, tenant_id, kind, name, client_name,
			purchase_date, purchase_price, face_value, import_job_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $10)
		ON CONFLICT (tenant_id, kind, name) DO UPDATE SET updated_at = portfolios.updated_at
		RETURNING `+portfolioColumns+`, (xmax = 0) AS was_insert`,
		id, tenantID, string(p.Kind), p.Name, p.ClientName,
		pgTime(p.PurchaseDate), pgDecimal(p.PurchasePrice), pgDecimal(p.FaceValue),
		p.ImportJobID, now,
	)

	out, wasInsert, err := scanPortfolioWithInsertFlag(row)
	if err != nil {
		return portfolio.Portfolio{}, false, err
	}
	return out, wasInsert, nil
}

func (r *PortfolioRepository) BulkUpsert(ctx context.Context, items []portfolio.Portfolio) (int, int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(items) == 0 {
		return 0, 0, nil
	}

	// Last occurrence of a (kind, name) wins within the slice.
	type key struct {
		kind portfolio.Kind
		name string
	}
	byKey := make(map[key]portfolio.Portfolio, len(items))
	order := make([]key, 0, len(items))
	for _, p := range items {
		k := key{p.Kind, p.Name}
		if _, dup := byKey[k]; !dup {
			order = append(order, k)
		}
		byKey[k] = p
	}

	now := time.Now()
	const cols = 11
	args := make([]any, 0, len(order)*cols)
	for _, k := range order {
		p := byKey[k]
		id := p.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		args = append(args,
			id, tenantID, string(p.Kind), p.Name, p.ClientName,
			pgTime(p.PurchaseDate), pgDecimal(p.PurchasePrice), pgDecimal(p.FaceValue),
			p.ImportJobID, now, now,
		)
	}

	rows, err := tx.Query(ctx, `
		INSERT INTO portfolios (
			id, tenant_id, kind, name, client_name,
			purchase_date, purchase_price, face_value, import_job_id, created_at, updated_at
		) VALUES `+repo.BatchValues(len(order), cols)+`
		ON CONFLICT (tenant_id, kind, name) DO UPDATE SET
			client_name = EXCLUDED.client_name,
			purchase_date = EXCLUDED.purchase_date,
			purchase_price = EXCLUDED.purchase_price,
			face_value = EXCLUDED.face_value,
			import_job_id = EXCLUDED.import_job_id,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS was_insert`,
		args...,
	)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to upsert portfolios")
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

func (r *PortfolioRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM portfolios WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete portfolio")
	}
	return nil
}

func scanPortfolio(row pgx.Row) (portfolio.Portfolio, error) {
	var (
		p                         portfolio.Portfolio
		kind                      string
		purchaseDate              *time.Time
		purchasePrice, faceValue  *string
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &kind, &p.Name, &p.ClientName,
		&purchaseDate, &purchasePrice, &faceValue, &p.ImportJobID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return portfolio.Portfolio{}, portfolio.ErrNotFound
		}
		return portfolio.Portfolio{}, err
	}
	p.Kind = portfolio.Kind(kind)
	p.PurchaseDate = timeOrZero(purchaseDate)
	p.PurchasePrice = decimalOrZero(purchasePrice)
	p.FaceValue = decimalOrZero(faceValue)
	return p, nil
}

func scanPortfolioWithInsertFlag(row pgx.Row) (portfolio.Portfolio, bool, error) {
	var (
		p                        portfolio.Portfolio
		kind                     string
		purchaseDate             *time.Time
		purchasePrice, faceValue *string
		wasInsert                bool
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &kind, &p.Name, &p.ClientName,
		&purchaseDate, &purchasePrice, &faceValue, &p.ImportJobID, &p.CreatedAt, &p.UpdatedAt,
		&wasInsert,
	)
	if err != nil {
		return portfolio.Portfolio{}, false, err
	}
	p.Kind = portfolio.Kind(kind)
	p.PurchaseDate = timeOrZero(purchaseDate)
	p.PurchasePrice = decimalOrZero(purchasePrice)
	p.FaceValue = decimalOrZero(faceValue)
	return p, wasInsert, nil
}
