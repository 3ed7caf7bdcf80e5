package importjob

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/collect/modules/imports/domain/importtype"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusUploaded   Status = "uploaded"
	StatusValidating Status = "validating"
	StatusValidated  Status = "validated"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type FileKind string

const (
	FileKindCSV  FileKind = "csv"
	FileKindXLSX FileKind = "xlsx"
)

// RowError is one accumulated row-level failure, attributable to a field
// during validation or to the load step during processing.
type RowError struct {
	RowIndex int
	Field    string
	Message  string
}

// ImportJob owns all state a chunked import needs to resume: status, counters
// and the cursor live here, never in process memory.
type ImportJob struct {
	id         uuid.UUID
	tenantID   uuid.UUID
	createdBy  uuid.UUID
	fileName   string
	fileSize   int64
	fileKind   FileKind
	fileHandle string
	importType importtype.ImportType
	mapping    map[string]string
	templateID uuid.UUID

	status          Status
	failureReason   string
	progress        int
	totalRows       int
	processedRows   int
	succeededRows   int
	failedRows      int
	cursor          int
	cancelRequested bool
	portfolioID     uuid.UUID

	createdAt             time.Time
	validationStartedAt   time.Time
	validationFinishedAt  time.Time
	processingStartedAt   time.Time
	processingFinishedAt  time.Time
}

func New(
	tenantID uuid.UUID,
	createdBy uuid.UUID,
	fileName string,
	fileSize int64,
	fileKind FileKind,
	importType importtype.ImportType,
	mapping map[string]string,
	templateID uuid.UUID,
) ImportJob {
	return ImportJob{
		tenantID:   tenantID,
		createdBy:  createdBy,
		fileName:   fileName,
		fileSize:   fileSize,
		fileKind:   fileKind,
		importType: importType,
		mapping:    cloneMapping(mapping),
		templateID: templateID,
		status:     StatusPending,
	}
}

// HydrateParams carries every persisted column; the positional constructor
// the smaller aggregates use would be unreadable at this width.
type HydrateParams struct {
	ID                   uuid.UUID
	TenantID             uuid.UUID
	CreatedBy            uuid.UUID
	FileName             string
	FileSize             int64
	FileKind             FileKind
	FileHandle           string
	ImportType           importtype.ImportType
	Mapping              map[string]string
	TemplateID           uuid.UUID
	Status               Status
	FailureReason        string
	Progress             int
	TotalRows            int
	ProcessedRows        int
	SucceededRows        int
	FailedRows           int
	Cursor               int
	CancelRequested      bool
	PortfolioID          uuid.UUID
	CreatedAt            time.Time
	ValidationStartedAt  time.Time
	ValidationFinishedAt time.Time
	ProcessingStartedAt  time.Time
	ProcessingFinishedAt time.Time
}

func Hydrate(p HydrateParams) ImportJob {
	return ImportJob{
		id:                   p.ID,
		tenantID:             p.TenantID,
		createdBy:            p.CreatedBy,
		fileName:             p.FileName,
		fileSize:             p.FileSize,
		fileKind:             p.FileKind,
		fileHandle:           p.FileHandle,
		importType:           p.ImportType,
		mapping:              cloneMapping(p.Mapping),
		templateID:           p.TemplateID,
		status:               p.Status,
		failureReason:        p.FailureReason,
		progress:             p.Progress,
		totalRows:            p.TotalRows,
		processedRows:        p.ProcessedRows,
		succeededRows:        p.SucceededRows,
		failedRows:           p.FailedRows,
		cursor:               p.Cursor,
		cancelRequested:      p.CancelRequested,
		portfolioID:          p.PortfolioID,
		createdAt:            p.CreatedAt,
		validationStartedAt:  p.ValidationStartedAt,
		validationFinishedAt: p.ValidationFinishedAt,
		processingStartedAt:  p.ProcessingStartedAt,
		processingFinishedAt: p.ProcessingFinishedAt,
	}
}

func (j ImportJob) ID() uuid.UUID                     { return j.id }
func (j ImportJob) TenantID() uuid.UUID               { return j.tenantID }
func (j ImportJob) CreatedBy() uuid.UUID              { return j.createdBy }
func (j ImportJob) FileName() string                  { return j.fileName }
func (j ImportJob) FileSize() int64                   { return j.fileSize }
func (j ImportJob) FileKind() FileKind                { return j.fileKind }
func (j ImportJob) FileHandle() string                { return j.fileHandle }
func (j ImportJob) ImportType() importtype.ImportType { return j.importType }
func (j ImportJob) Mapping() map[string]string        { return cloneMapping(j.mapping) }
func (j ImportJob) TemplateID() uuid.UUID             { return j.templateID }
func (j ImportJob) Status() Status                    { return j.status }
func (j ImportJob) FailureReason() string             { return j.failureReason }
func (j ImportJob) Progress() int                     { return j.progress }
func (j ImportJob) TotalRows() int                    { return j.totalRows }
func (j ImportJob) ProcessedRows() int                { return j.processedRows }
func (j ImportJob) SucceededRows() int                { return j.succeededRows }
func (j ImportJob) FailedRows() int                   { return j.failedRows }
func (j ImportJob) Cursor() int                       { return j.cursor }
func (j ImportJob) CancelRequested() bool             { return j.cancelRequested }
func (j ImportJob) PortfolioID() uuid.UUID            { return j.portfolioID }
func (j ImportJob) CreatedAt() time.Time              { return j.createdAt }
func (j ImportJob) ValidationStartedAt() time.Time    { return j.validationStartedAt }
func (j ImportJob) ValidationFinishedAt() time.Time   { return j.validationFinishedAt }
func (j ImportJob) ProcessingStartedAt() time.Time    { return j.processingStartedAt }
func (j ImportJob) ProcessingFinishedAt() time.Time   { return j.processingFinishedAt }

// MarkUploaded records that the file bytes are durably stored.
func (j ImportJob) MarkUploaded(fileHandle string) (ImportJob, error) {
	if j.status != StatusPending {
		return j, transitionError(j.status, StatusUploaded)
	}
	j.status = StatusUploaded
	j.fileHandle = fileHandle
	return j, nil
}

// StartValidation is legal from uploaded and from validated: re-running
// validation is idempotent, previous results are discarded.
func (j ImportJob) StartValidation(now time.Time) (ImportJob, error) {
	if j.status != StatusUploaded && j.status != StatusValidated {
		return j, transitionError(j.status, StatusValidating)
	}
	j.status = StatusValidating
	j.validationStartedAt = now
	j.validationFinishedAt = time.Time{}
	j.totalRows = 0
	j.processedRows = 0
	j.succeededRows = 0
	j.failedRows = 0
	j.cursor = 0
	j.progress = 0
	j.failureReason = ""
	return j, nil
}

func (j ImportJob) MarkValidated(now time.Time, totalRows, invalidRows int) (ImportJob, error) {
	if j.status != StatusValidating {
		return j, transitionError(j.status, StatusValidated)
	}
	j.status = StatusValidated
	j.validationFinishedAt = now
	j.totalRows = totalRows
	j.failedRows = invalidRows
	return j, nil
}

// ReturnToUploaded rolls a failed-to-validate job back so the caller can fix
// the mapping or the file and try again. Mapping errors and unreadable files
// land here, not in failed.
func (j ImportJob) ReturnToUploaded(reason string) (ImportJob, error) {
	if j.status != StatusValidating {
		return j, transitionError(j.status, StatusUploaded)
	}
	j.status = StatusUploaded
	j.failureReason = reason
	j.validationStartedAt = time.Time{}
	return j, nil
}

func (j ImportJob) Fail(now time.Time, reason string) (ImportJob, error) {
	if j.status != StatusValidating && j.status != StatusProcessing {
		return j, transitionError(j.status, StatusFailed)
	}
	j.status = StatusFailed
	j.failureReason = reason
	j.processingFinishedAt = now
	return j, nil
}

func (j ImportJob) StartProcessing(now time.Time) (ImportJob, error) {
	if j.status == StatusProcessing {
		return j, nil
	}
	if j.status != StatusValidated {
		return j, transitionError(j.status, StatusProcessing)
	}
	j.status = StatusProcessing
	j.processingStartedAt = now
	return j, nil
}

// ApplyChunk folds one chunk's outcome into the counters. The cursor and
// processed count never move backwards, so re-processing an already-advanced
// slice is a no-op on the bookkeeping side.
func (j ImportJob) ApplyChunk(newCursor, succeeded, failed int) (ImportJob, error) {
	if j.status != StatusProcessing {
		return j, transitionError(j.status, StatusProcessing)
	}
	if newCursor > j.totalRows {
		newCursor = j.totalRows
	}
	if newCursor > j.cursor {
		advanced := newCursor - j.cursor
		j.cursor = newCursor
		j.processedRows += advanced
		j.succeededRows += succeeded
		j.failedRows += failed
	}
	if j.processedRows > j.totalRows {
		j.processedRows = j.totalRows
	}
	if j.totalRows > 0 {
		p := j.processedRows * 100 / j.totalRows
		if p > j.progress {
			j.progress = p
		}
	}
	return j, nil
}

func (j ImportJob) Complete(now time.Time) (ImportJob, error) {
	if j.status != StatusProcessing {
		return j, transitionError(j.status, StatusCompleted)
	}
	if j.cursor < j.totalRows {
		return j, ErrRowsRemaining
	}
	j.status = StatusCompleted
	j.progress = 100
	j.processingFinishedAt = now
	return j, nil
}

// Cancel is reachable from processing only; loaded rows stay loaded.
func (j ImportJob) Cancel(now time.Time) (ImportJob, error) {
	if j.status != StatusProcessing {
		return j, ErrNotCancellable
	}
	j.status = StatusCancelled
	j.processingFinishedAt = now
	return j, nil
}

func (j ImportJob) WithCancelRequested() ImportJob {
	j.cancelRequested = true
	return j
}

// AttachPortfolio records the single downstream portfolio side effect.
func (j ImportJob) AttachPortfolio(id uuid.UUID) (ImportJob, error) {
	if j.portfolioID != uuid.Nil && j.portfolioID != id {
		return j, ErrPortfolioAttached
	}
	j.portfolioID = id
	return j, nil
}

func cloneMapping(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
