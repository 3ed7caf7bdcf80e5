package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ledgerline/collect/modules/imports/domain/entities/template"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/pkg/composables"
)

// TemplateService manages saved mapping presets. Sample rows are capped so a
// template stays a preview, not a second copy of the file.
type TemplateService struct {
	templates template.Repository
}

const maxSampleRows = 5

func NewTemplateService(templates template.Repository) *TemplateService {
	return &TemplateService{templates: templates}
}

func (s *TemplateService) Create(ctx context.Context, t template.Template) (template.Template, error) {
	if err := validateTemplate(&t); err != nil {
		return template.Template{}, err
	}
	return composables.InTenantTxResult(ctx, func(txCtx context.Context) (template.Template, error) {
		return s.templates.Create(txCtx, t)
	})
}

func (s *TemplateService) GetByID(ctx context.Context, id uuid.UUID) (template.Template, error) {
	return composables.InTenantTxResult(ctx, func(txCtx context.Context) (template.Template, error) {
		return s.templates.GetByID(txCtx, id)
	})
}

func (s *TemplateService) List(ctx context.Context, params template.FindParams) ([]template.Template, int64, error) {
	type listResult struct {
		items []template.Template
		total int64
	}
	res, err := composables.InTenantTxResult(ctx, func(txCtx context.Context) (listResult, error) {
		items, total, err := s.templates.List(txCtx, params)
		return listResult{items, total}, err
	})
	return res.items, res.total, err
}

func (s *TemplateService) Update(ctx context.Context, t template.Template) error {
	if err := validateTemplate(&t); err != nil {
		return err
	}
	return composables.InTenantTx(ctx, func(txCtx context.Context) error {
		return s.templates.Update(txCtx, t)
	})
}

func (s *TemplateService) Delete(ctx context.Context, id uuid.UUID) error {
	return composables.InTenantTx(ctx, func(txCtx context.Context) error {
		return s.templates.Delete(txCtx, id)
	})
}

func validateTemplate(t *template.Template) error {
	t.Normalize()
	if t.Name == "" {
		return errors.New("template name is required")
	}
	if _, err := importtype.Parse(string(t.ImportType)); err != nil {
		return err
	}
	for col, field := range t.Mapping {
		if strings.TrimSpace(col) == "" {
			return errors.New("mapping has an empty source column")
		}
		f := importtype.Field(strings.ToLower(strings.TrimSpace(field)))
		if !t.ImportType.Knows(f) {
			return errors.Errorf("unknown canonical field %q for import type %s", field, t.ImportType)
		}
	}
	if len(t.SampleRows) > maxSampleRows {
		t.SampleRows = t.SampleRows[:maxSampleRows]
	}
	return nil
}
