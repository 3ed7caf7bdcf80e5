package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ledgerline/collect/modules/debtors/domain/aggregates/person"
	"github.com/ledgerline/collect/modules/debtors/domain/entities/account"
	"github.com/ledgerline/collect/modules/debtors/domain/entities/portfolio"
	"github.com/ledgerline/collect/modules/debtors/domain/entities/skiptrace"
	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/entities/importrow"
	"github.com/ledgerline/collect/modules/imports/domain/entities/template"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/modules/imports/mapping"
	"github.com/ledgerline/collect/modules/imports/tabular"
	"github.com/ledgerline/collect/modules/imports/validation"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/metrics"
	"github.com/ledgerline/collect/pkg/storage"
)

// ErrJobProcessing guards deletion: a job being advanced must be cancelled
// before its data can be torn down.
var ErrJobProcessing = errors.New("job is processing, cancel it first")

type CreateJobParams struct {
	CreatedBy  uuid.UUID
	FileName   string
	Data       []byte
	ImportType importtype.ImportType
	Mapping    map[string]string
	TemplateID uuid.UUID
}

// ImportService owns the job lifecycle around processing: upload, validation,
// cancellation and cascading deletion. Chunked processing itself lives in
// ChunkService.
type ImportService struct {
	jobs       importjob.Repository
	rows       importrow.Repository
	templates  template.Repository
	files      storage.FileStore
	persons    person.Repository
	accounts   account.Repository
	subjects   skiptrace.SubjectRepository
	satellites skiptrace.SatelliteRepository
	portfolios portfolio.Repository
	maxErrors  int
	log        logrus.FieldLogger
}

type ImportServiceDeps struct {
	Jobs       importjob.Repository
	Rows       importrow.Repository
	Templates  template.Repository
	Files      storage.FileStore
	Persons    person.Repository
	Accounts   account.Repository
	Subjects   skiptrace.SubjectRepository
	Satellites skiptrace.SatelliteRepository
	Portfolios portfolio.Repository
	MaxErrors  int
	Log        logrus.FieldLogger
}

func NewImportService(deps ImportServiceDeps) *ImportService {
	return &ImportService{
		jobs:       deps.Jobs,
		rows:       deps.Rows,
		templates:  deps.Templates,
		files:      deps.Files,
		persons:    deps.Persons,
		accounts:   deps.Accounts,
		subjects:   deps.Subjects,
		satellites: deps.Satellites,
		portfolios: deps.Portfolios,
		maxErrors:  deps.MaxErrors,
		log:        deps.Log,
	}
}

// CreateJob stores the upload and registers the job in uploaded state.
func (s *ImportService) CreateJob(ctx context.Context, params CreateJobParams) (importjob.ImportJob, error) {
	kind, err := tabular.KindForFileName(params.FileName)
	if err != nil {
		return importjob.ImportJob{}, err
	}
	if params.TemplateID != uuid.Nil {
		tpl, err := s.templates.GetByID(ctx, params.TemplateID)
		if err != nil {
			return importjob.ImportJob{}, errors.Wrap(err, "load template")
		}
		if tpl.ImportType != params.ImportType {
			return importjob.ImportJob{}, errors.Errorf(
				"template %q is for %s imports, not %s", tpl.Name, tpl.ImportType, params.ImportType)
		}
	}

	handle, err := s.files.Write(ctx, params.FileName, params.Data)
	if err != nil {
		return importjob.ImportJob{}, errors.Wrap(err, "store upload")
	}

	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return importjob.ImportJob{}, err
	}

	job := importjob.New(
		tenantID, params.CreatedBy, params.FileName, int64(len(params.Data)),
		kind, params.ImportType, params.Mapping, params.TemplateID,
	)
	job, err = job.MarkUploaded(handle)
	if err != nil {
		return importjob.ImportJob{}, err
	}

	created, err := composables.InTenantTxResult(ctx, func(txCtx context.Context) (importjob.ImportJob, error) {
		return s.jobs.Create(txCtx, job)
	})
	if err != nil {
		return importjob.ImportJob{}, err
	}

	metrics.RecordJobTransition(string(created.Status()))
	s.log.WithFields(logrus.Fields{
		"job_id":      created.ID(),
		"import_type": created.ImportType(),
		"file_name":   created.FileName(),
	}).Info("import job created")
	return created, nil
}

// Validate parses the stored file, resolves the mapping and persists the
// projected, validated row set. Mapping errors and unreadable files roll the
// job back to uploaded; row-level errors do not, they are the result.
func (s *ImportService) Validate(ctx context.Context, jobID uuid.UUID, overrides map[string]string) (importjob.ImportJob, error) {
	return composables.InTenantTxResult(ctx, func(txCtx context.Context) (importjob.ImportJob, error) {
		job, err := s.jobs.GetByID(txCtx, jobID)
		if err != nil {
			return importjob.ImportJob{}, err
		}

		job, err = job.StartValidation(time.Now())
		if err != nil {
			return importjob.ImportJob{}, err
		}
		metrics.RecordJobTransition(string(job.Status()))

		table, m, failReason := s.resolveTable(txCtx, job, overrides)
		if failReason != "" {
			job, err = job.ReturnToUploaded(failReason)
			if err != nil {
				return importjob.ImportJob{}, err
			}
			if uErr := s.jobs.Update(txCtx, job); uErr != nil {
				return importjob.ImportJob{}, uErr
			}
			metrics.RecordJobTransition(string(job.Status()))
			s.log.WithFields(logrus.Fields{"job_id": jobID, "reason": failReason}).
				Warn("validation returned job to uploaded")
			return job, nil
		}

		projected := make([]map[string]string, 0, len(table.Records))
		for _, rec := range table.Records {
			projected = append(projected, m.Project(rec))
		}
		results, validCount, invalidCount := validation.ValidateAll(job.ImportType(), projected)

		rows := make([]importrow.ImportRow, 0, len(results))
		var rowErrors []importjob.RowError
		for i, res := range results {
			rows = append(rows, importrow.ImportRow{
				JobID:  jobID,
				Index:  res.RowIndex,
				Fields: projected[i],
				Valid:  res.Valid,
			})
			for _, fe := range res.Errors {
				if s.maxErrors > 0 && len(rowErrors) >= s.maxErrors {
					break
				}
				rowErrors = append(rowErrors, importjob.RowError{
					RowIndex: res.RowIndex,
					Field:    fe.Field,
					Message:  fe.Message,
				})
			}
		}

		if err := s.rows.ReplaceForJob(txCtx, jobID, rows); err != nil {
			return importjob.ImportJob{}, errors.Wrap(err, "persist row set")
		}
		if err := s.jobs.ReplaceRowErrors(txCtx, jobID, rowErrors); err != nil {
			return importjob.ImportJob{}, errors.Wrap(err, "persist row errors")
		}

		job, err = job.MarkValidated(time.Now(), len(rows), invalidCount)
		if err != nil {
			return importjob.ImportJob{}, err
		}
		if err := s.jobs.Update(txCtx, job); err != nil {
			return importjob.ImportJob{}, err
		}
		metrics.RecordJobTransition(string(job.Status()))

		s.log.WithFields(logrus.Fields{
			"job_id":  jobID,
			"total":   len(rows),
			"valid":   validCount,
			"invalid": invalidCount,
		}).Info("import job validated")
		return job, nil
	})
}

// resolveTable reads and parses the upload and finalizes the mapping. A
// non-empty failReason means the job should return to uploaded.
func (s *ImportService) resolveTable(ctx context.Context, job importjob.ImportJob, overrides map[string]string) (tabular.Table, mapping.Mapping, string) {
	data, err := s.files.Read(ctx, job.FileHandle())
	if err != nil {
		return tabular.Table{}, mapping.Mapping{}, "stored file unreadable: " + err.Error()
	}
	table, err := tabular.Read(job.FileKind(), data)
	if err != nil {
		return tabular.Table{}, mapping.Mapping{}, "file parse failed: " + err.Error()
	}

	columns := job.Mapping()
	if job.TemplateID() != uuid.Nil {
		tpl, err := s.templates.GetByID(ctx, job.TemplateID())
		if err != nil {
			return tabular.Table{}, mapping.Mapping{}, "template unavailable: " + err.Error()
		}
		columns = mapping.Merge(tpl.Mapping, columns)
	}
	columns = mapping.Merge(columns, overrides)

	m, err := mapping.Resolve(table.Header, job.ImportType(), columns)
	if err != nil {
		return tabular.Table{}, mapping.Mapping{}, err.Error()
	}
	return table, m, ""
}

// Cancel requests cooperative cancellation. The orchestrator observes the
// flag at the start of its next invocation; rows already loaded stay loaded.
func (s *ImportService) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return composables.InTenantTx(ctx, func(txCtx context.Context) error {
		job, err := s.jobs.GetByID(txCtx, jobID)
		if err != nil {
			return err
		}
		if job.Status() != importjob.StatusProcessing {
			return importjob.ErrNotCancellable
		}
		if err := s.jobs.SetCancelRequested(txCtx, jobID); err != nil {
			return err
		}
		s.log.WithField("job_id", jobID).Info("cancellation requested")
		return nil
	})
}

func (s *ImportService) GetByID(ctx context.Context, jobID uuid.UUID) (importjob.ImportJob, error) {
	return composables.InTenantTxResult(ctx, func(txCtx context.Context) (importjob.ImportJob, error) {
		return s.jobs.GetByID(txCtx, jobID)
	})
}

func (s *ImportService) List(ctx context.Context, params importjob.FindParams) ([]importjob.ImportJob, int64, error) {
	type listResult struct {
		jobs  []importjob.ImportJob
		total int64
	}
	res, err := composables.InTenantTxResult(ctx, func(txCtx context.Context) (listResult, error) {
		jobs, total, err := s.jobs.List(txCtx, params)
		return listResult{jobs, total}, err
	})
	return res.jobs, res.total, err
}

func (s *ImportService) RowErrors(ctx context.Context, jobID uuid.UUID) ([]importjob.RowError, error) {
	return composables.InTenantTxResult(ctx, func(txCtx context.Context) ([]importjob.RowError, error) {
		if _, err := s.jobs.GetByID(txCtx, jobID); err != nil {
			return nil, err
		}
		return s.jobs.RowErrors(txCtx, jobID)
	})
}

// Delete tears down everything the job created, in dependency order: the
// job's primary rows first, then satellites of persons left orphaned, then
// the orphaned persons, then the portfolio side effect if no other job still
// references it, and finally the bookkeeping and the stored file. Shared
// persons and portfolios survive.
func (s *ImportService) Delete(ctx context.Context, jobID uuid.UUID) error {
	var fileHandle string
	err := composables.InTenantTx(ctx, func(txCtx context.Context) error {
		job, err := s.jobs.GetByID(txCtx, jobID)
		if err != nil {
			return err
		}
		if job.Status() == importjob.StatusProcessing && !job.CancelRequested() {
			return ErrJobProcessing
		}
		fileHandle = job.FileHandle()

		if _, err := s.accounts.DeleteByJob(txCtx, jobID); err != nil {
			return errors.Wrap(err, "delete accounts")
		}
		if _, err := s.subjects.DeleteByJob(txCtx, jobID); err != nil {
			return errors.Wrap(err, "delete skip-trace subjects")
		}

		orphans, err := s.persons.OrphanIDs(txCtx)
		if err != nil {
			return errors.Wrap(err, "find orphaned persons")
		}
		if len(orphans) > 0 {
			if _, err := s.satellites.DeleteForPersons(txCtx, orphans); err != nil {
				return errors.Wrap(err, "delete orphan satellites")
			}
			if _, err := s.persons.DeleteByIDs(txCtx, orphans); err != nil {
				return errors.Wrap(err, "delete orphaned persons")
			}
		}

		if pid := job.PortfolioID(); pid != uuid.Nil {
			remaining, err := s.accounts.CountByPortfolio(txCtx, pid, jobID)
			if err != nil {
				return errors.Wrap(err, "count remaining portfolio accounts")
			}
			if remaining == 0 {
				if err := s.portfolios.Delete(txCtx, pid); err != nil {
					return errors.Wrap(err, "delete portfolio")
				}
			}
		}

		if _, err := s.rows.DeleteByJob(txCtx, jobID); err != nil {
			return errors.Wrap(err, "delete row set")
		}
		return s.jobs.Delete(txCtx, jobID)
	})
	if err != nil {
		return err
	}

	if fileHandle != "" {
		if err := s.files.Delete(ctx, fileHandle); err != nil {
			s.log.WithField("handle", fileHandle).WithError(err).Warn("stored file not removed")
		}
	}
	s.log.WithField("job_id", jobID).Info("import job deleted")
	return nil
}
