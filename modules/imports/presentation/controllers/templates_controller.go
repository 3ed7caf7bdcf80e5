package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/ledgerline/collect/modules/imports/domain/entities/template"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/modules/imports/presentation/viewmodels"
	"github.com/ledgerline/collect/modules/imports/services"
	"github.com/ledgerline/collect/pkg/httpapi"
)

var validate = validator.New()

type templateRequest struct {
	Name       string            `json:"name" validate:"required,min=1,max=120"`
	ImportType string            `json:"importType" validate:"required"`
	Mapping    map[string]string `json:"mapping" validate:"required,min=1"`
	SampleRows [][]string        `json:"sampleRows"`
}

type TemplatesController struct {
	templates *services.TemplateService
	basePath  string
}

func NewTemplatesController(templates *services.TemplateService) *TemplatesController {
	return &TemplatesController{
		templates: templates,
		basePath:  "/api/import-templates",
	}
}

func (c *TemplatesController) Key() string {
	return c.basePath
}

func (c *TemplatesController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.Create).Methods(http.MethodPost)
	router.HandleFunc("", c.List).Methods(http.MethodGet)
	router.HandleFunc("/{id}", c.Get).Methods(http.MethodGet)
	router.HandleFunc("/{id}", c.Update).Methods(http.MethodPut)
	router.HandleFunc("/{id}", c.Delete).Methods(http.MethodDelete)
}

func (c *TemplatesController) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTemplate(w, r)
	if !ok {
		return
	}
	typ, err := importtype.Parse(req.ImportType)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "IMPORT_TYPE_INVALID", err.Error(), nil)
		return
	}

	created, err := c.templates.Create(r.Context(), template.Template{
		Name:       req.Name,
		ImportType: typ,
		Mapping:    req.Mapping,
		SampleRows: req.SampleRows,
	})
	if err != nil {
		writeTemplateError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, viewmodels.FromTemplate(created))
}

func (c *TemplatesController) List(w http.ResponseWriter, r *http.Request) {
	params := template.FindParams{
		Limit:  intQuery(r, "limit", 25),
		Offset: intQuery(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("import_type"); raw != "" {
		typ, err := importtype.Parse(raw)
		if err != nil {
			_ = httpapi.WriteError(w, http.StatusBadRequest, "IMPORT_TYPE_INVALID", err.Error(), nil)
			return
		}
		params.ImportType = typ
	}

	items, total, err := c.templates.List(r.Context(), params)
	if err != nil {
		writeTemplateError(w, err)
		return
	}

	out := make([]viewmodels.Template, 0, len(items))
	for _, t := range items {
		out = append(out, viewmodels.FromTemplate(t))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"items": out,
		"total": total,
	})
}

func (c *TemplatesController) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := c.templates.GetByID(r.Context(), id)
	if err != nil {
		writeTemplateError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, viewmodels.FromTemplate(t))
}

func (c *TemplatesController) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := decodeTemplate(w, r)
	if !ok {
		return
	}

	existing, err := c.templates.GetByID(r.Context(), id)
	if err != nil {
		writeTemplateError(w, err)
		return
	}
	existing.Name = req.Name
	existing.Mapping = req.Mapping
	existing.SampleRows = req.SampleRows

	if err := c.templates.Update(r.Context(), existing); err != nil {
		writeTemplateError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, viewmodels.FromTemplate(existing))
}

func (c *TemplatesController) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := c.templates.Delete(r.Context(), id); err != nil {
		writeTemplateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeTemplate(w http.ResponseWriter, r *http.Request) (templateRequest, bool) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "BODY_INVALID", err.Error(), nil)
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		fields := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		_ = httpapi.WriteFieldErrors(w, "TEMPLATE_INVALID", fields)
		return req, false
	}
	return req, true
}

func writeTemplateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, template.ErrNotFound):
		_ = httpapi.WriteError(w, http.StatusNotFound, "TEMPLATE_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, template.ErrNameTaken):
		_ = httpapi.WriteError(w, http.StatusConflict, "TEMPLATE_NAME_TAKEN", err.Error(), nil)
	default:
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
