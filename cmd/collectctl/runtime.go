package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	debtorspersistence "github.com/ledgerline/collect/modules/debtors/infrastructure/persistence"
	debtorservices "github.com/ledgerline/collect/modules/debtors/services"
	importspersistence "github.com/ledgerline/collect/modules/imports/infrastructure/persistence"
	importservices "github.com/ledgerline/collect/modules/imports/services"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/configuration"
	"github.com/ledgerline/collect/pkg/storage"
)

// runtime wires the full service stack against a live database, same layout
// as the server entrypoint, driven from the shell instead of HTTP.
type runtime struct {
	pool     *pgxpool.Pool
	conf     *configuration.Configuration
	imports  *importservices.ImportService
	chunks   *importservices.ChunkService
	failed   *importservices.FailedRowService
	tenantID uuid.UUID
}

func setupRuntime(cmd *cobra.Command) (*runtime, error) {
	rawTenant, err := cmd.Flags().GetString("tenant")
	if err != nil {
		return nil, err
	}
	tenantID, err := uuid.Parse(rawTenant)
	if err != nil {
		return nil, fmt.Errorf("invalid --tenant: %w", err)
	}

	conf := configuration.Use()
	pool, err := pgxpool.New(cmd.Context(), conf.Database.Opts)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	files := storage.NewLocalFileStore(conf.UploadsPath)
	jobs := importspersistence.NewImportJobRepository()
	rows := importspersistence.NewImportRowRepository()
	templates := importspersistence.NewTemplateRepository()
	persons := debtorspersistence.NewPersonRepository()
	accounts := debtorspersistence.NewAccountRepository()
	subjects := debtorspersistence.NewSubjectRepository()
	satellites := debtorspersistence.NewSatelliteRepository()
	portfolios := debtorspersistence.NewPortfolioRepository()

	logger := conf.Logger()
	resolver := debtorservices.NewResolverService(persons)
	loader := debtorservices.NewBulkLoaderService(resolver, accounts, subjects, satellites, portfolios, logger)

	host, err := os.Hostname()
	if err != nil {
		host = "collectctl"
	}

	return &runtime{
		pool: pool,
		conf: conf,
		imports: importservices.NewImportService(importservices.ImportServiceDeps{
			Jobs:       jobs,
			Rows:       rows,
			Templates:  templates,
			Files:      files,
			Persons:    persons,
			Accounts:   accounts,
			Subjects:   subjects,
			Satellites: satellites,
			Portfolios: portfolios,
			MaxErrors:  conf.Import.MaxRowErrors,
			Log:        logger,
		}),
		chunks: importservices.NewChunkService(
			jobs, rows, loader,
			fmt.Sprintf("%s-%d", host, os.Getpid()),
			conf.Import.ClaimTTL, logger,
		),
		failed:   importservices.NewFailedRowService(jobs, files),
		tenantID: tenantID,
	}, nil
}

func (rt *runtime) Close() {
	rt.pool.Close()
}

// ctx returns a context scoped to the tenant with the pool attached.
func (rt *runtime) ctx(parent context.Context) context.Context {
	return composables.WithTenantID(composables.WithPool(parent, rt.pool), rt.tenantID)
}
