package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/modules/imports/presentation/viewmodels"
	"github.com/ledgerline/collect/modules/imports/services"
	"github.com/ledgerline/collect/pkg/httpapi"
)

// ImportJobsController exposes the job lifecycle over JSON. Processing is
// driven externally: clients (or the CLI driver) POST /process repeatedly
// until the response reports completion.
type ImportJobsController struct {
	imports          *services.ImportService
	chunks           *services.ChunkService
	failedRows       *services.FailedRowService
	defaultChunkSize int
	maxUploadSize    int64
	basePath         string
}

func NewImportJobsController(
	imports *services.ImportService,
	chunks *services.ChunkService,
	failedRows *services.FailedRowService,
	defaultChunkSize int,
	maxUploadSize int64,
) *ImportJobsController {
	return &ImportJobsController{
		imports:          imports,
		chunks:           chunks,
		failedRows:       failedRows,
		defaultChunkSize: defaultChunkSize,
		maxUploadSize:    maxUploadSize,
		basePath:         "/api/imports",
	}
}

func (c *ImportJobsController) Key() string {
	return c.basePath
}

func (c *ImportJobsController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.Create).Methods(http.MethodPost)
	router.HandleFunc("", c.List).Methods(http.MethodGet)
	router.HandleFunc("/{id}", c.Get).Methods(http.MethodGet)
	router.HandleFunc("/{id}", c.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/{id}/validate", c.Validate).Methods(http.MethodPost)
	router.HandleFunc("/{id}/process", c.Process).Methods(http.MethodPost)
	router.HandleFunc("/{id}/cancel", c.Cancel).Methods(http.MethodPost)
	router.HandleFunc("/{id}/errors", c.RowErrors).Methods(http.MethodGet)
	router.HandleFunc("/{id}/failed-rows", c.FailedRows).Methods(http.MethodGet)
}

// Create accepts a multipart upload: "file" plus form fields import_type,
// mapping (JSON object) and template_id.
func (c *ImportJobsController) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, c.maxUploadSize)
	if err := r.ParseMultipartForm(c.maxUploadSize); err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "UPLOAD_TOO_LARGE", err.Error(), nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", nil)
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "FILE_UNREADABLE", err.Error(), nil)
		return
	}

	typ, err := importtype.Parse(r.FormValue("import_type"))
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "IMPORT_TYPE_INVALID", err.Error(), nil)
		return
	}

	var columnMapping map[string]string
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &columnMapping); err != nil {
			_ = httpapi.WriteError(w, http.StatusBadRequest, "MAPPING_INVALID", err.Error(), nil)
			return
		}
	}

	var templateID uuid.UUID
	if raw := r.FormValue("template_id"); raw != "" {
		templateID, err = uuid.Parse(raw)
		if err != nil {
			_ = httpapi.WriteError(w, http.StatusBadRequest, "TEMPLATE_ID_INVALID", err.Error(), nil)
			return
		}
	}

	job, err := c.imports.CreateJob(r.Context(), services.CreateJobParams{
		FileName:   header.Filename,
		Data:       data,
		ImportType: typ,
		Mapping:    columnMapping,
		TemplateID: templateID,
	})
	if err != nil {
		writeJobError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, viewmodels.FromImportJob(job))
}

func (c *ImportJobsController) List(w http.ResponseWriter, r *http.Request) {
	params := importjob.FindParams{
		Limit:  intQuery(r, "limit", 25),
		Offset: intQuery(r, "offset", 0),
	}
	for _, s := range r.URL.Query()["status"] {
		params.Statuses = append(params.Statuses, importjob.Status(s))
	}

	jobs, total, err := c.imports.List(r.Context(), params)
	if err != nil {
		writeJobError(w, err)
		return
	}

	items := make([]viewmodels.ImportJob, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, viewmodels.FromImportJob(job))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (c *ImportJobsController) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := c.imports.GetByID(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, viewmodels.FromImportJob(job))
}

func (c *ImportJobsController) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Mapping map[string]string `json:"mapping"`
	}
	if r.Body != nil {
		// Body is optional; a bare POST re-validates with the saved mapping.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	job, err := c.imports.Validate(r.Context(), id, body.Mapping)
	if err != nil {
		writeJobError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, viewmodels.FromImportJob(job))
}

func (c *ImportJobsController) Process(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		ChunkSize  int `json:"chunkSize"`
		StartIndex int `json:"startIndex"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.ChunkSize <= 0 {
		body.ChunkSize = c.defaultChunkSize
	}

	result, err := c.chunks.Process(r.Context(), id, body.ChunkSize, body.StartIndex)
	if err != nil {
		writeJobError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"processed":      result.Processed,
		"nextStartIndex": result.NextStartIndex,
		"completed":      result.Completed,
		"cancelled":      result.Cancelled,
		"errors":         viewmodels.FromRowErrors(result.Errors),
	})
}

func (c *ImportJobsController) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := c.imports.Cancel(r.Context(), id); err != nil {
		writeJobError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusAccepted, map[string]any{"cancelRequested": true})
}

func (c *ImportJobsController) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := c.imports.Delete(r.Context(), id); err != nil {
		writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *ImportJobsController) RowErrors(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	errs, err := c.imports.RowErrors(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"items": viewmodels.FromRowErrors(errs),
	})
}

func (c *ImportJobsController) FailedRows(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	data, name, err := c.failedRows.Export(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNoFailedRows) {
			_ = httpapi.WriteError(w, http.StatusNotFound, "NO_FAILED_ROWS", err.Error(), nil)
			return
		}
		writeJobError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(data)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "ID_INVALID", "id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, importjob.ErrNotFound):
		_ = httpapi.WriteError(w, http.StatusNotFound, "JOB_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, importjob.ErrInvalidTransition):
		_ = httpapi.WriteError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, importjob.ErrClaimed):
		_ = httpapi.WriteError(w, http.StatusConflict, "JOB_CLAIMED", err.Error(), nil)
	case errors.Is(err, importjob.ErrNotProcessable):
		_ = httpapi.WriteError(w, http.StatusConflict, "JOB_NOT_PROCESSABLE", err.Error(), nil)
	case errors.Is(err, importjob.ErrNotCancellable):
		_ = httpapi.WriteError(w, http.StatusConflict, "JOB_NOT_CANCELLABLE", err.Error(), nil)
	case errors.Is(err, services.ErrJobProcessing):
		_ = httpapi.WriteError(w, http.StatusConflict, "JOB_PROCESSING", err.Error(), nil)
	default:
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
