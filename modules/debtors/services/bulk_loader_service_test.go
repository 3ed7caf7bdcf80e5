package services

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/collect/modules/debtors/domain/entities/skiptrace"
	"github.com/ledgerline/collect/modules/debtors/infrastructure/persistence"
	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/entities/importrow"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/pkg/composables"
)

type loaderEnv struct {
	ctx        context.Context
	tenantID   uuid.UUID
	persons    *persistence.InmemPersonRepository
	accounts   *persistence.InmemAccountRepository
	subjects   *persistence.InmemSubjectRepository
	satellites *persistence.InmemSatelliteRepository
	portfolios *persistence.InmemPortfolioRepository
	loader     *BulkLoaderService
}

func newLoaderEnv(t *testing.T) *loaderEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	accounts := persistence.NewInmemAccountRepository()
	subjects := persistence.NewInmemSubjectRepository()
	persons := persistence.NewInmemPersonRepository(accounts, subjects)
	satellites := persistence.NewInmemSatelliteRepository()
	portfolios := persistence.NewInmemPortfolioRepository()

	tenantID := uuid.New()
	return &loaderEnv{
		ctx:        composables.WithTenantID(context.Background(), tenantID),
		tenantID:   tenantID,
		persons:    persons,
		accounts:   accounts,
		subjects:   subjects,
		satellites: satellites,
		portfolios: portfolios,
		loader: NewBulkLoaderService(
			NewResolverService(persons),
			accounts, subjects, satellites, portfolios, log,
		),
	}
}

func (e *loaderEnv) job(typ importtype.ImportType) importjob.ImportJob {
	return importjob.Hydrate(importjob.HydrateParams{
		ID:         uuid.New(),
		TenantID:   e.tenantID,
		FileName:   "upload.csv",
		FileKind:   importjob.FileKindCSV,
		ImportType: typ,
		Status:     importjob.StatusProcessing,
		TotalRows:  100,
	})
}

func row(index int, fields map[string]string) importrow.ImportRow {
	return importrow.ImportRow{Index: index, Fields: fields, Valid: true}
}

func TestLoadAccounts(t *testing.T) {
	t.Run("SharedNationalIDResolvesOnePerson", func(t *testing.T) {
		e := newLoaderEnv(t)
		res, err := e.loader.LoadSlice(e.ctx, e.job(importtype.Accounts), []importrow.ImportRow{
			row(0, map[string]string{
				"account_number": "A-1", "national_id": "111-22-3333",
				"full_name": "Jane Roe", "current_balance": "100",
			}),
			row(1, map[string]string{
				"account_number": "A-2", "national_id": "111223333",
				"full_name": "Jane Roe", "current_balance": "200",
			}),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Inserted)
		assert.Empty(t, res.RowFailures)
		assert.Equal(t, 1, e.persons.Count())
	})

	t.Run("InSliceDuplicateBlamesTheDroppedRow", func(t *testing.T) {
		e := newLoaderEnv(t)
		res, err := e.loader.LoadSlice(e.ctx, e.job(importtype.Accounts), []importrow.ImportRow{
			row(0, map[string]string{
				"account_number": "A-1", "national_id": "111223333",
				"full_name": "Jane Roe", "current_balance": "100",
				"email": "first@example.com",
			}),
			row(1, map[string]string{
				"account_number": "A-1", "national_id": "111223333",
				"full_name": "Jane Roe", "current_balance": "999",
				"email": "last@example.com",
			}),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Inserted)
		require.Len(t, res.RowFailures, 1)
		assert.Contains(t, res.RowFailures[0].Message, "duplicate account number")
		assert.Equal(t, 1, e.accounts.Count())
		// Last occurrence wins the upsert, so the failure names the first
		// row and only the kept row's satellites land.
		assert.Equal(t, 0, res.RowFailures[0].RowIndex)
		assert.False(t, e.satellites.HasDedupKey(skiptrace.CategoryEmail, "first@example.com"))
		assert.True(t, e.satellites.HasDedupKey(skiptrace.CategoryEmail, "last@example.com"))
	})

	t.Run("TripleDuplicateBlamesBothEarlierRows", func(t *testing.T) {
		e := newLoaderEnv(t)
		res, err := e.loader.LoadSlice(e.ctx, e.job(importtype.Accounts), []importrow.ImportRow{
			row(0, map[string]string{
				"account_number": "A-1", "national_id": "111223333",
				"full_name": "Jane Roe", "current_balance": "100",
			}),
			row(1, map[string]string{
				"account_number": "A-1", "national_id": "111223333",
				"full_name": "Jane Roe", "current_balance": "200",
			}),
			row(2, map[string]string{
				"account_number": "A-1", "national_id": "111223333",
				"full_name": "Jane Roe", "current_balance": "300",
			}),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Inserted)
		require.Len(t, res.RowFailures, 2)
		assert.Equal(t, 0, res.RowFailures[0].RowIndex)
		assert.Equal(t, 1, res.RowFailures[1].RowIndex)
	})

	t.Run("ReprocessingUpdatesInsteadOfDuplicating", func(t *testing.T) {
		e := newLoaderEnv(t)
		job := e.job(importtype.Accounts)
		rows := []importrow.ImportRow{
			row(0, map[string]string{
				"account_number": "A-1", "national_id": "111223333",
				"full_name": "Jane Roe", "current_balance": "100",
				"portfolio_name": "Alpha",
			}),
		}

		first, err := e.loader.LoadSlice(e.ctx, job, rows)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Inserted)
		assert.True(t, first.PortfolioWasCreated)

		second, err := e.loader.LoadSlice(e.ctx, job, rows)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Inserted)
		assert.Equal(t, 1, second.Updated)
		assert.False(t, second.PortfolioWasCreated)
		assert.Equal(t, 1, e.accounts.Count())
		assert.Equal(t, 1, e.portfolios.Count())
	})

	t.Run("ResolverFailureSkipsRowOnly", func(t *testing.T) {
		e := newLoaderEnv(t)
		res, err := e.loader.LoadSlice(e.ctx, e.job(importtype.Accounts), []importrow.ImportRow{
			row(0, map[string]string{
				"account_number": "A-1", "national_id": "12345",
				"full_name": "Short ID", "current_balance": "100",
			}),
			row(1, map[string]string{
				"account_number": "A-2", "national_id": "111223333",
				"full_name": "Jane Roe", "current_balance": "200",
			}),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Inserted)
		require.Len(t, res.RowFailures, 1)
		assert.Equal(t, 0, res.RowFailures[0].RowIndex)
	})
}

func TestLoadSkipTrace(t *testing.T) {
	skipRow := func(index int, extra map[string]string) importrow.ImportRow {
		fields := map[string]string{"national_id": "111223333", "full_name": "Jane Roe"}
		for k, v := range extra {
			fields[k] = v
		}
		return row(index, fields)
	}

	t.Run("SubjectUpsertedOncePerPerson", func(t *testing.T) {
		e := newLoaderEnv(t)
		job := e.job(importtype.SkipTrace)

		res, err := e.loader.LoadSlice(e.ctx, job, []importrow.ImportRow{
			skipRow(0, map[string]string{"phone": "555-0100"}),
			skipRow(1, map[string]string{"phone": "555-0200"}),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Inserted)
		assert.Equal(t, 0, res.Updated)

		res, err = e.loader.LoadSlice(e.ctx, job, []importrow.ImportRow{
			skipRow(2, map[string]string{"phone": "555-0300"}),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Inserted)
		assert.Equal(t, 1, res.Updated)
	})

	t.Run("SatellitesDedupedWithinSlice", func(t *testing.T) {
		e := newLoaderEnv(t)
		res, err := e.loader.LoadSlice(e.ctx, e.job(importtype.SkipTrace), []importrow.ImportRow{
			skipRow(0, map[string]string{"phone": "555-0100", "email": "JANE@example.com"}),
			skipRow(1, map[string]string{"phone": "555-0100", "email": "jane@example.com"}),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.SatelliteInserts[skiptrace.CategoryPhone])
		// Email dedup key is lowercased, so the two spellings collapse.
		assert.Equal(t, 1, res.SatelliteInserts[skiptrace.CategoryEmail])
	})

	t.Run("SatellitesDedupedAcrossSlices", func(t *testing.T) {
		e := newLoaderEnv(t)
		job := e.job(importtype.SkipTrace)

		_, err := e.loader.LoadSlice(e.ctx, job, []importrow.ImportRow{
			skipRow(0, map[string]string{"address_line1": "1 Main St", "city": "Springfield"}),
		})
		require.NoError(t, err)

		res, err := e.loader.LoadSlice(e.ctx, job, []importrow.ImportRow{
			skipRow(1, map[string]string{"address_line1": "1 Main St", "city": "Springfield"}),
			skipRow(2, map[string]string{"address_line1": "2 Oak Ave", "city": "Springfield"}),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.SatelliteInserts[skiptrace.CategoryAddress])
		assert.Equal(t, 2, e.satellites.CountByCategory(skiptrace.CategoryAddress))
	})

	t.Run("VehicleWithoutVINKeyedByMakeModel", func(t *testing.T) {
		e := newLoaderEnv(t)
		res, err := e.loader.LoadSlice(e.ctx, e.job(importtype.SkipTrace), []importrow.ImportRow{
			skipRow(0, map[string]string{
				"vehicle_make": "Honda", "vehicle_model": "Civic", "vehicle_year": "2019",
			}),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.SatelliteInserts[skiptrace.CategoryVehicle])
	})
}

func TestLoadNameKeyed(t *testing.T) {
	t.Run("PortfoliosUpsertByName", func(t *testing.T) {
		e := newLoaderEnv(t)
		job := e.job(importtype.Portfolios)

		res, err := e.loader.LoadSlice(e.ctx, job, []importrow.ImportRow{
			row(0, map[string]string{"portfolio_name": "Alpha", "purchase_price": "1000"}),
			row(1, map[string]string{"portfolio_name": "Beta"}),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Inserted)

		res, err = e.loader.LoadSlice(e.ctx, job, []importrow.ImportRow{
			row(2, map[string]string{"portfolio_name": " Alpha ", "purchase_price": "2000"}),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Inserted)
		assert.Equal(t, 1, res.Updated)
		assert.Equal(t, 2, e.portfolios.Count())
	})

	t.Run("ClientsAndAgenciesAreSeparateNamespaces", func(t *testing.T) {
		e := newLoaderEnv(t)

		res, err := e.loader.LoadSlice(e.ctx, e.job(importtype.Clients), []importrow.ImportRow{
			row(0, map[string]string{"client_name": "Acme"}),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Inserted)

		res, err = e.loader.LoadSlice(e.ctx, e.job(importtype.Agencies), []importrow.ImportRow{
			row(0, map[string]string{"agency_name": "Acme"}),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Inserted)
		assert.Equal(t, 2, e.portfolios.Count())
	})
}

func TestLoadSliceUnsupportedType(t *testing.T) {
	e := newLoaderEnv(t)
	_, err := e.loader.LoadSlice(e.ctx, importjob.Hydrate(importjob.HydrateParams{
		ID: uuid.New(), TenantID: e.tenantID, ImportType: "payments",
	}), nil)
	assert.ErrorContains(t, err, "unsupported import type")
}
