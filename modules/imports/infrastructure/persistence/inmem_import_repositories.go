package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/entities/importrow"
	"github.com/ledgerline/collect/modules/imports/domain/entities/template"
	"github.com/ledgerline/collect/pkg/composables"
)

// In-memory implementations back service tests; the claim logic mirrors the
// SQL conditional update exactly.

type InmemImportJobRepository struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]importjob.ImportJob
	claims map[uuid.UUID]importjob.ClaimParams
	errs   map[uuid.UUID][]importjob.RowError
}

func NewInmemImportJobRepository() *InmemImportJobRepository {
	return &InmemImportJobRepository{
		jobs:   make(map[uuid.UUID]importjob.ImportJob),
		claims: make(map[uuid.UUID]importjob.ClaimParams),
		errs:   make(map[uuid.UUID][]importjob.RowError),
	}
}

func (r *InmemImportJobRepository) Create(ctx context.Context, job importjob.ImportJob) (importjob.ImportJob, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return importjob.ImportJob{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := job.ID()
	if id == uuid.Nil {
		id = uuid.New()
	}
	stored := rehydrate(job, func(p *importjob.HydrateParams) {
		p.ID = id
		p.TenantID = tenantID
	})
	r.jobs[id] = stored
	return stored, nil
}

func (r *InmemImportJobRepository) GetByID(ctx context.Context, id uuid.UUID) (importjob.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return importjob.ImportJob{}, importjob.ErrNotFound
	}
	return job, nil
}

func (r *InmemImportJobRepository) List(ctx context.Context, params importjob.FindParams) ([]importjob.ImportJob, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []importjob.ImportJob
	for _, job := range r.jobs {
		if len(params.Statuses) > 0 {
			match := false
			for _, s := range params.Statuses {
				if job.Status() == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		all = append(all, job)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID().String() < all[j].ID().String() })

	total := int64(len(all))
	if params.Offset > 0 {
		if params.Offset >= len(all) {
			return nil, total, nil
		}
		all = all[params.Offset:]
	}
	if params.Limit > 0 && params.Limit < len(all) {
		all = all[:params.Limit]
	}
	return all, total, nil
}

func (r *InmemImportJobRepository) Update(ctx context.Context, job importjob.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID()]; !ok {
		return importjob.ErrNotFound
	}
	r.jobs[job.ID()] = job
	return nil
}

func (r *InmemImportJobRepository) Claim(ctx context.Context, id uuid.UUID, params importjob.ClaimParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status() != importjob.StatusValidated && job.Status() != importjob.StatusProcessing {
		return false, nil
	}
	current, held := r.claims[id]
	if held && current.Claimant != params.Claimant && !current.ClaimedAt.Before(params.StaleBefore) {
		return false, nil
	}
	r.claims[id] = params
	return true, nil
}

func (r *InmemImportJobRepository) ReleaseClaim(ctx context.Context, id uuid.UUID, claimant string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, held := r.claims[id]; held && current.Claimant == claimant {
		delete(r.claims, id)
	}
	return nil
}

func (r *InmemImportJobRepository) SetCancelRequested(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return importjob.ErrNotFound
	}
	r.jobs[id] = job.WithCancelRequested()
	return nil
}

func (r *InmemImportJobRepository) ReplaceRowErrors(ctx context.Context, jobID uuid.UUID, errs []importjob.RowError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[jobID] = append([]importjob.RowError(nil), errs...)
	return nil
}

func (r *InmemImportJobRepository) AppendRowErrors(ctx context.Context, jobID uuid.UUID, errs []importjob.RowError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[jobID] = append(r.errs[jobID], errs...)
	return nil
}

func (r *InmemImportJobRepository) RowErrors(ctx context.Context, jobID uuid.UUID) ([]importjob.RowError, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]importjob.RowError(nil), r.errs[jobID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].RowIndex != out[j].RowIndex {
			return out[i].RowIndex < out[j].RowIndex
		}
		return out[i].Field < out[j].Field
	})
	return out, nil
}

func (r *InmemImportJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return importjob.ErrNotFound
	}
	delete(r.jobs, id)
	delete(r.errs, id)
	delete(r.claims, id)
	return nil
}

// rehydrate round-trips a job through its hydrate params so tests can patch
// persistence-owned fields the way the database would.
func rehydrate(job importjob.ImportJob, patch func(*importjob.HydrateParams)) importjob.ImportJob {
	p := importjob.HydrateParams{
		ID:                   job.ID(),
		TenantID:             job.TenantID(),
		CreatedBy:            job.CreatedBy(),
		FileName:             job.FileName(),
		FileSize:             job.FileSize(),
		FileKind:             job.FileKind(),
		FileHandle:           job.FileHandle(),
		ImportType:           job.ImportType(),
		Mapping:              job.Mapping(),
		TemplateID:           job.TemplateID(),
		Status:               job.Status(),
		FailureReason:        job.FailureReason(),
		Progress:             job.Progress(),
		TotalRows:            job.TotalRows(),
		ProcessedRows:        job.ProcessedRows(),
		SucceededRows:        job.SucceededRows(),
		FailedRows:           job.FailedRows(),
		Cursor:               job.Cursor(),
		CancelRequested:      job.CancelRequested(),
		PortfolioID:          job.PortfolioID(),
		CreatedAt:            job.CreatedAt(),
		ValidationStartedAt:  job.ValidationStartedAt(),
		ValidationFinishedAt: job.ValidationFinishedAt(),
		ProcessingStartedAt:  job.ProcessingStartedAt(),
		ProcessingFinishedAt: job.ProcessingFinishedAt(),
	}
	if patch != nil {
		patch(&p)
	}
	return importjob.Hydrate(p)
}

type InmemImportRowRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID][]importrow.ImportRow
}

func NewInmemImportRowRepository() *InmemImportRowRepository {
	return &InmemImportRowRepository{rows: make(map[uuid.UUID][]importrow.ImportRow)}
}

func (r *InmemImportRowRepository) ReplaceForJob(ctx context.Context, jobID uuid.UUID, rows []importrow.ImportRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := append([]importrow.ImportRow(nil), rows...)
	sort.Slice(stored, func(i, j int) bool { return stored[i].Index < stored[j].Index })
	r.rows[jobID] = stored
	return nil
}

func (r *InmemImportRowRepository) Slice(ctx context.Context, jobID uuid.UUID, start, limit int) ([]importrow.ImportRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []importrow.ImportRow
	for _, row := range r.rows[jobID] {
		if row.Index >= start && row.Index < start+limit {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *InmemImportRowRepository) CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows[jobID])), nil
}

func (r *InmemImportRowRepository) DeleteByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.rows[jobID]))
	delete(r.rows, jobID)
	return n, nil
}

type InmemTemplateRepository struct {
	mu        sync.Mutex
	templates map[uuid.UUID]template.Template
}

func NewInmemTemplateRepository() *InmemTemplateRepository {
	return &InmemTemplateRepository{templates: make(map[uuid.UUID]template.Template)}
}

func (r *InmemTemplateRepository) Create(ctx context.Context, t template.Template) (template.Template, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return template.Template{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.templates {
		if existing.TenantID == tenantID && existing.ImportType == t.ImportType &&
			strings.EqualFold(existing.Name, t.Name) {
			return template.Template{}, template.ErrNameTaken
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.TenantID = tenantID
	r.templates[t.ID] = t
	return t, nil
}

func (r *InmemTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return template.Template{}, template.ErrNotFound
	}
	return t, nil
}

func (r *InmemTemplateRepository) List(ctx context.Context, params template.FindParams) ([]template.Template, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []template.Template
	for _, t := range r.templates {
		if params.ImportType != "" && t.ImportType != params.ImportType {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, int64(len(out)), nil
}

func (r *InmemTemplateRepository) Update(ctx context.Context, t template.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.ID]; !ok {
		return template.ErrNotFound
	}
	r.templates[t.ID] = t
	return nil
}

func (r *InmemTemplateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[id]; !ok {
		return template.ErrNotFound
	}
	delete(r.templates, id)
	return nil
}
