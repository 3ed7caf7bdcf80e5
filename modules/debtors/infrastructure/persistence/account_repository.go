package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/ledgerline/collect/modules/debtors/domain/entities/account"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/repo"
)

type AccountRepository struct{}

func NewAccountRepository() account.Repository {
	return &AccountRepository{}
}

const accountUpsertColumns = 16

// BulkUpsert lands the slice in one multi-row statement keyed on
// (tenant, portfolio, account number). Duplicate natural keys inside the
// slice would abort the statement ("cannot affect row a second time"), so
// they are peeled off as per-account failures first; the last occurrence
// wins, matching re-processing semantics.
func (r *AccountRepository) BulkUpsert(ctx context.Context, accounts []account.DebtAccount) (int, int, []account.UpsertFailure, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(accounts) == 0 {
		return 0, 0, nil, nil
	}

	type naturalKey struct {
		portfolioID   uuid.UUID
		accountNumber string
	}
	var failures []account.UpsertFailure
	byKey := make(map[naturalKey]account.DebtAccount, len(accounts))
	order := make([]naturalKey, 0, len(accounts))
	for _, a := range accounts {
		key := naturalKey{a.PortfolioID, a.AccountNumber}
		if _, dup := byKey[key]; dup {
			failures = append(failures, account.UpsertFailure{
				AccountNumber: a.AccountNumber,
				Message:       "duplicate account number in chunk, last occurrence kept",
			})
		} else {
			order = append(order, key)
		}
		byKey[key] = a
	}

	now := time.Now()
	args := make([]any, 0, len(order)*accountUpsertColumns)
	for _, key := range order {
		a := byKey[key]
		id := a.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		args = append(args,
			id, tenantID, a.PersonID, a.PortfolioID, a.AccountNumber,
			a.OriginalCreditor, pgDecimal(a.CurrentBalance), pgDecimal(a.OriginalBalance),
			pgTime(a.OpenDate), pgTime(a.ChargeOffDate), pgTime(a.LastPaymentDate),
			pgDecimal(a.LastPaymentAmount), string(a.Status), a.ImportJobID, now, now,
		)
	}

	query := `
		INSERT INTO debt_accounts (
			id, tenant_id, person_id, portfolio_id, account_number,
			original_creditor, current_balance, original_balance,
			open_date, charge_off_date, last_payment_date, last_payment_amount,
			status, import_job_id, created_at, updated_at
		) VALUES ` + repo.BatchValues(len(order), accountUpsertColumns) + `
		ON CONFLICT (tenant_id, portfolio_id, account_number) DO UPDATE SET
			person_id = EXCLUDED.person_id,
			original_creditor = EXCLUDED.original_creditor,
			current_balance = EXCLUDED.current_balance,
			original_balance = EXCLUDED.original_balance,
			open_date = EXCLUDED.open_date,
			charge_off_date = EXCLUDED.charge_off_date,
			last_payment_date = EXCLUDED.last_payment_date,
			last_payment_amount = EXCLUDED.last_payment_amount,
			status = EXCLUDED.status,
			import_job_id = EXCLUDED.import_job_id,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS was_insert`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return 0, 0, failures, errors.Wrap(err, "failed to upsert debt accounts")
	}
	defer rows.Close()

	var inserted, updated int
	for rows.Next() {
		var wasInsert bool
		if err := rows.Scan(&wasInsert); err != nil {
			return inserted, updated, failures, err
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, failures, rows.Err()
}

func (r *AccountRepository) CountByPortfolio(ctx context.Context, portfolioID uuid.UUID, excludeJobID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	err = tx.QueryRow(ctx, strings.TrimSpace(`
		SELECT COUNT(*) FROM debt_accounts
		WHERE tenant_id = $1 AND portfolio_id = $2 AND import_job_id <> $3`),
		tenantID, portfolioID, excludeJobID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count accounts")
	}
	return count, nil
}

func (r *AccountRepository) DeleteByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM debt_accounts WHERE tenant_id = $1 AND import_job_id = $2`,
		tenantID, jobID,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete accounts")
	}
	return tag.RowsAffected(), nil
}
