package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/cors"

	debtorspersistence "github.com/ledgerline/collect/modules/debtors/infrastructure/persistence"
	debtorservices "github.com/ledgerline/collect/modules/debtors/services"
	importspersistence "github.com/ledgerline/collect/modules/imports/infrastructure/persistence"
	"github.com/ledgerline/collect/modules/imports/presentation/controllers"
	importservices "github.com/ledgerline/collect/modules/imports/services"
	"github.com/ledgerline/collect/pkg/configuration"
	"github.com/ledgerline/collect/pkg/metrics"
	"github.com/ledgerline/collect/pkg/middleware"
	"github.com/ledgerline/collect/pkg/server"
	"github.com/ledgerline/collect/pkg/storage"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	if err := runMigrations(pool, conf.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
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

	resolver := debtorservices.NewResolverService(persons)
	loader := debtorservices.NewBulkLoaderService(resolver, accounts, subjects, satellites, portfolios, logger)

	importService := importservices.NewImportService(importservices.ImportServiceDeps{
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
	})
	chunkService := importservices.NewChunkService(
		jobs, rows, loader,
		claimantID(), conf.Import.ClaimTTL, logger,
	)
	failedRowService := importservices.NewFailedRowService(jobs, files)
	templateService := importservices.NewTemplateService(templates)

	controllerList := []server.Controller{
		controllers.NewImportJobsController(
			importService, chunkService, failedRowService,
			conf.Import.DefaultChunkSize, conf.MaxUploadSize,
		),
		controllers.NewTemplatesController(templateService),
	}
	if conf.Prometheus.Enabled {
		controllerList = append(controllerList, metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "X-Tenant-ID"},
		AllowCredentials: true,
	})

	srv := &server.HTTPServer{
		Controllers: controllerList,
		Middlewares: []mux.MiddlewareFunc{
			middleware.RequestLogger(logger),
			corsMiddleware.Handler,
			middleware.ProvidePool(pool),
			middleware.TenantFromHeader(),
		},
	}

	log.Printf("Listening on: %s\n", conf.SocketAddress)
	if err := srv.Start(conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func runMigrations(pool *pgxpool.Pool, dir string) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, dir)
}

// claimantID identifies this process in job claims so a crashed worker's
// stale claim can be told apart from a live one.
func claimantID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
