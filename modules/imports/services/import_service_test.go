package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	debtorspersistence "github.com/ledgerline/collect/modules/debtors/infrastructure/persistence"
	debtors "github.com/ledgerline/collect/modules/debtors/services"
	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/entities/template"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/modules/imports/infrastructure/persistence"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/constants"
	"github.com/ledgerline/collect/pkg/storage"
)

type stubTx struct{}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// env wires the full pipeline against in-memory backends.
type env struct {
	ctx      context.Context
	tenantID uuid.UUID

	jobs       *persistence.InmemImportJobRepository
	rows       *persistence.InmemImportRowRepository
	templates  *persistence.InmemTemplateRepository
	files      *storage.MemoryFileStore
	persons    *debtorspersistence.InmemPersonRepository
	accounts   *debtorspersistence.InmemAccountRepository
	subjects   *debtorspersistence.InmemSubjectRepository
	satellites *debtorspersistence.InmemSatelliteRepository
	portfolios *debtorspersistence.InmemPortfolioRepository

	imports *ImportService
	loader  *debtors.BulkLoaderService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tenantID := uuid.New()
	ctx := composables.WithTenantID(context.Background(), tenantID)
	ctx = context.WithValue(ctx, constants.TxKey, stubTx{})

	accounts := debtorspersistence.NewInmemAccountRepository()
	subjects := debtorspersistence.NewInmemSubjectRepository()
	persons := debtorspersistence.NewInmemPersonRepository(accounts, subjects)
	satellites := debtorspersistence.NewInmemSatelliteRepository()
	portfolios := debtorspersistence.NewInmemPortfolioRepository()

	e := &env{
		ctx:        ctx,
		tenantID:   tenantID,
		jobs:       persistence.NewInmemImportJobRepository(),
		rows:       persistence.NewInmemImportRowRepository(),
		templates:  persistence.NewInmemTemplateRepository(),
		files:      storage.NewMemoryFileStore(),
		persons:    persons,
		accounts:   accounts,
		subjects:   subjects,
		satellites: satellites,
		portfolios: portfolios,
	}
	e.imports = NewImportService(ImportServiceDeps{
		Jobs:       e.jobs,
		Rows:       e.rows,
		Templates:  e.templates,
		Files:      e.files,
		Persons:    e.persons,
		Accounts:   e.accounts,
		Subjects:   e.subjects,
		Satellites: e.satellites,
		Portfolios: e.portfolios,
		MaxErrors:  100,
		Log:        testLogger(),
	})
	e.loader = debtors.NewBulkLoaderService(
		debtors.NewResolverService(e.persons),
		e.accounts, e.subjects, e.satellites, e.portfolios, testLogger(),
	)
	return e
}

func (e *env) chunks(claimant string, ttl time.Duration) *ChunkService {
	return NewChunkService(e.jobs, e.rows, e.loader, claimant, ttl, testLogger())
}

const accountsCSV = `account,ssn,name,balance,portfolio,phone,address
A-100,111-22-3333,Jane Roe,100.00,Alpha,555-0100,1 Main St
A-200,444-55-6666,John Doe,2500.00,Alpha,555-0200,
A-300,999,Bad Row,abc,Alpha,,
A-100,111-22-3333,Jane Roe,150.00,Alpha,555-0100,1 Main St
`

func accountsMapping() map[string]string {
	return map[string]string{
		"account":   "account_number",
		"ssn":       "national_id",
		"name":      "full_name",
		"balance":   "current_balance",
		"portfolio": "portfolio_name",
		"phone":     "phone",
		"address":   "address_line1",
	}
}

func (e *env) createAccountsJob(t *testing.T) importjob.ImportJob {
	t.Helper()
	job, err := e.imports.CreateJob(e.ctx, CreateJobParams{
		CreatedBy:  uuid.New(),
		FileName:   "accounts.csv",
		Data:       []byte(accountsCSV),
		ImportType: importtype.Accounts,
		Mapping:    accountsMapping(),
	})
	require.NoError(t, err)
	return job
}

func (e *env) validatedAccountsJob(t *testing.T) importjob.ImportJob {
	t.Helper()
	job := e.createAccountsJob(t)
	job, err := e.imports.Validate(e.ctx, job.ID(), nil)
	require.NoError(t, err)
	require.Equal(t, importjob.StatusValidated, job.Status())
	return job
}

func TestCreateJob(t *testing.T) {
	t.Run("StoresFileAndRegistersJob", func(t *testing.T) {
		e := newEnv(t)
		job := e.createAccountsJob(t)

		assert.Equal(t, importjob.StatusUploaded, job.Status())
		assert.Equal(t, importjob.FileKindCSV, job.FileKind())
		assert.Equal(t, e.tenantID, job.TenantID())
		assert.NotEmpty(t, job.FileHandle())

		stored, err := e.files.Read(e.ctx, job.FileHandle())
		require.NoError(t, err)
		assert.Equal(t, []byte(accountsCSV), stored)
	})

	t.Run("RejectsUnknownExtension", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.imports.CreateJob(e.ctx, CreateJobParams{
			FileName:   "upload.pdf",
			Data:       []byte("x"),
			ImportType: importtype.Accounts,
		})
		assert.Error(t, err)
	})

	t.Run("RejectsTemplateTypeMismatch", func(t *testing.T) {
		e := newEnv(t)
		tpl, err := e.templates.Create(e.ctx, template.Template{
			Name:       "skip trace preset",
			ImportType: importtype.SkipTrace,
			Mapping:    map[string]string{"ssn": "national_id"},
		})
		require.NoError(t, err)

		_, err = e.imports.CreateJob(e.ctx, CreateJobParams{
			FileName:   "accounts.csv",
			Data:       []byte(accountsCSV),
			ImportType: importtype.Accounts,
			Mapping:    accountsMapping(),
			TemplateID: tpl.ID,
		})
		assert.ErrorContains(t, err, "skip_trace imports")
	})
}

func TestValidate(t *testing.T) {
	t.Run("PersistsRowSetAndCounters", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)

		assert.Equal(t, 4, job.TotalRows())
		assert.Equal(t, 1, job.FailedRows())

		count, err := e.rows.CountByJob(e.ctx, job.ID())
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)

		rowErrors, err := e.imports.RowErrors(e.ctx, job.ID())
		require.NoError(t, err)
		require.Len(t, rowErrors, 2)
		assert.Equal(t, 2, rowErrors[0].RowIndex)
		assert.Equal(t, "current_balance", rowErrors[0].Field)
		assert.Equal(t, "national_id", rowErrors[1].Field)
	})

	t.Run("MappingErrorReturnsJobToUploaded", func(t *testing.T) {
		e := newEnv(t)
		job, err := e.imports.CreateJob(e.ctx, CreateJobParams{
			CreatedBy:  uuid.New(),
			FileName:   "accounts.csv",
			Data:       []byte(accountsCSV),
			ImportType: importtype.Accounts,
			Mapping:    map[string]string{"account": "account_number"},
		})
		require.NoError(t, err)

		job, err = e.imports.Validate(e.ctx, job.ID(), nil)
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusUploaded, job.Status())
		assert.Contains(t, job.FailureReason(), "missing required fields")

		// Overrides complete the mapping on the retry.
		job, err = e.imports.Validate(e.ctx, job.ID(), map[string]string{
			"ssn":     "national_id",
			"name":    "full_name",
			"balance": "current_balance",
		})
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusValidated, job.Status())
	})

	t.Run("RevalidationReplacesRowSet", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)

		again, err := e.imports.Validate(e.ctx, job.ID(), nil)
		require.NoError(t, err)
		assert.Equal(t, importjob.StatusValidated, again.Status())
		assert.Equal(t, 4, again.TotalRows())

		count, err := e.rows.CountByJob(e.ctx, job.ID())
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})

	t.Run("UnknownJob", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.imports.Validate(e.ctx, uuid.New(), nil)
		assert.ErrorIs(t, err, importjob.ErrNotFound)
	})
}

func TestCancel(t *testing.T) {
	e := newEnv(t)
	job := e.validatedAccountsJob(t)

	// Not processing yet.
	err := e.imports.Cancel(e.ctx, job.ID())
	assert.ErrorIs(t, err, importjob.ErrNotCancellable)

	chunks := e.chunks("worker-1", time.Minute)
	_, err = chunks.Process(e.ctx, job.ID(), 2, 0)
	require.NoError(t, err)

	require.NoError(t, e.imports.Cancel(e.ctx, job.ID()))

	res, err := chunks.Process(e.ctx, job.ID(), 2, 0)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)

	got, err := e.imports.GetByID(e.ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, importjob.StatusCancelled, got.Status())
	// Rows loaded before cancellation stay loaded.
	assert.Equal(t, 2, e.accounts.Count())
}

func TestDelete(t *testing.T) {
	runToCompletion := func(t *testing.T, e *env) importjob.ImportJob {
		t.Helper()
		job := e.validatedAccountsJob(t)
		chunks := e.chunks("worker-1", time.Minute)
		for {
			res, err := chunks.Process(e.ctx, job.ID(), 2, 0)
			require.NoError(t, err)
			if res.Completed || res.Cancelled {
				break
			}
		}
		got, err := e.imports.GetByID(e.ctx, job.ID())
		require.NoError(t, err)
		require.Equal(t, importjob.StatusCompleted, got.Status())
		return got
	}

	t.Run("CascadesThroughOrphansAndPortfolio", func(t *testing.T) {
		e := newEnv(t)
		job := runToCompletion(t, e)
		require.NotEqual(t, uuid.Nil, job.PortfolioID())
		require.Equal(t, 2, e.persons.Count())

		require.NoError(t, e.imports.Delete(e.ctx, job.ID()))

		assert.Equal(t, 0, e.accounts.Count())
		assert.Equal(t, 0, e.persons.Count())
		assert.Equal(t, 0, e.portfolios.Count())
		assert.Equal(t, 0, e.satellites.CountByCategory("phone"))
		assert.Equal(t, 0, e.satellites.CountByCategory("address"))

		_, err := e.imports.GetByID(e.ctx, job.ID())
		assert.ErrorIs(t, err, importjob.ErrNotFound)
		_, err = e.files.Read(e.ctx, job.FileHandle())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("SharedPersonsSurvive", func(t *testing.T) {
		e := newEnv(t)
		job := runToCompletion(t, e)

		// A second job loads an account for Jane in another portfolio.
		second, err := e.imports.CreateJob(e.ctx, CreateJobParams{
			CreatedBy:  uuid.New(),
			FileName:   "more.csv",
			Data: []byte("account,ssn,name,balance,portfolio\n" +
				"B-1,111-22-3333,Jane Roe,50.00,Beta\n"),
			ImportType: importtype.Accounts,
			Mapping: map[string]string{
				"account": "account_number", "ssn": "national_id",
				"name": "full_name", "balance": "current_balance",
				"portfolio": "portfolio_name",
			},
		})
		require.NoError(t, err)
		_, err = e.imports.Validate(e.ctx, second.ID(), nil)
		require.NoError(t, err)
		res, err := e.chunks("worker-1", time.Minute).Process(e.ctx, second.ID(), 10, 0)
		require.NoError(t, err)
		require.True(t, res.Completed)
		require.Equal(t, 2, e.portfolios.Count())

		require.NoError(t, e.imports.Delete(e.ctx, job.ID()))

		// Jane is still referenced by the second job's account; John is not.
		assert.Equal(t, 1, e.persons.Count())
		assert.Equal(t, 1, e.accounts.Count())
		assert.Equal(t, 1, e.portfolios.Count())
	})

	t.Run("RefusedWhileProcessing", func(t *testing.T) {
		e := newEnv(t)
		job := e.validatedAccountsJob(t)
		chunks := e.chunks("worker-1", time.Minute)
		_, err := chunks.Process(e.ctx, job.ID(), 2, 0)
		require.NoError(t, err)

		err = e.imports.Delete(e.ctx, job.ID())
		assert.ErrorIs(t, err, ErrJobProcessing)

		// After a cancellation request the teardown may proceed.
		require.NoError(t, e.imports.Cancel(e.ctx, job.ID()))
		assert.NoError(t, e.imports.Delete(e.ctx, job.ID()))
	})
}
