package viewmodels

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/entities/template"
)

type ImportJob struct {
	ID              uuid.UUID         `json:"id"`
	FileName        string            `json:"fileName"`
	FileSize        int64             `json:"fileSize"`
	ImportType      string            `json:"importType"`
	Status          string            `json:"status"`
	FailureReason   string            `json:"failureReason,omitempty"`
	Progress        int               `json:"progress"`
	TotalRows       int               `json:"totalRows"`
	ProcessedRows   int               `json:"processedRows"`
	SucceededRows   int               `json:"succeededRows"`
	FailedRows      int               `json:"failedRows"`
	Cursor          int               `json:"cursor"`
	CancelRequested bool              `json:"cancelRequested"`
	PortfolioID     *uuid.UUID        `json:"portfolioId,omitempty"`
	TemplateID      *uuid.UUID        `json:"templateId,omitempty"`
	Mapping         map[string]string `json:"mapping,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

type RowError struct {
	RowIndex int    `json:"rowIndex"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

type Template struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	ImportType string            `json:"importType"`
	Mapping    map[string]string `json:"mapping"`
	SampleRows [][]string        `json:"sampleRows,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

func FromImportJob(job importjob.ImportJob) ImportJob {
	vm := ImportJob{
		ID:              job.ID(),
		FileName:        job.FileName(),
		FileSize:        job.FileSize(),
		ImportType:      string(job.ImportType()),
		Status:          string(job.Status()),
		FailureReason:   job.FailureReason(),
		Progress:        job.Progress(),
		TotalRows:       job.TotalRows(),
		ProcessedRows:   job.ProcessedRows(),
		SucceededRows:   job.SucceededRows(),
		FailedRows:      job.FailedRows(),
		Cursor:          job.Cursor(),
		CancelRequested: job.CancelRequested(),
		Mapping:         job.Mapping(),
		CreatedAt:       job.CreatedAt(),
	}
	if id := job.PortfolioID(); id != uuid.Nil {
		vm.PortfolioID = &id
	}
	if id := job.TemplateID(); id != uuid.Nil {
		vm.TemplateID = &id
	}
	return vm
}

func FromRowErrors(errs []importjob.RowError) []RowError {
	out := make([]RowError, 0, len(errs))
	for _, e := range errs {
		out = append(out, RowError{RowIndex: e.RowIndex, Field: e.Field, Message: e.Message})
	}
	return out
}

func FromTemplate(t template.Template) Template {
	return Template{
		ID:         t.ID,
		Name:       t.Name,
		ImportType: string(t.ImportType),
		Mapping:    t.Mapping,
		SampleRows: t.SampleRows,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}
