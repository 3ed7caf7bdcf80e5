package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/collect/modules/imports/domain/entities/template"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
)

func TestTemplateService(t *testing.T) {
	t.Run("CreateNormalizesAndCapsSamples", func(t *testing.T) {
		e := newEnv(t)
		svc := NewTemplateService(e.templates)

		created, err := svc.Create(e.ctx, template.Template{
			Name:       "  vendor layout  ",
			ImportType: importtype.Accounts,
			Mapping:    map[string]string{"SSN": "National_ID"},
			SampleRows: [][]string{{"1"}, {"2"}, {"3"}, {"4"}, {"5"}, {"6"}, {"7"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "vendor layout", created.Name)
		assert.Len(t, created.SampleRows, 5)
		assert.Equal(t, e.tenantID, created.TenantID)
	})

	t.Run("RejectsUnknownField", func(t *testing.T) {
		e := newEnv(t)
		svc := NewTemplateService(e.templates)

		_, err := svc.Create(e.ctx, template.Template{
			Name:       "bad",
			ImportType: importtype.Accounts,
			Mapping:    map[string]string{"col": "relative_name"},
		})
		assert.ErrorContains(t, err, "unknown canonical field")
	})

	t.Run("RejectsBlankName", func(t *testing.T) {
		e := newEnv(t)
		svc := NewTemplateService(e.templates)

		_, err := svc.Create(e.ctx, template.Template{
			Name:       "   ",
			ImportType: importtype.Accounts,
		})
		assert.ErrorContains(t, err, "name is required")
	})

	t.Run("DuplicateNamePerTypeConflicts", func(t *testing.T) {
		e := newEnv(t)
		svc := NewTemplateService(e.templates)

		_, err := svc.Create(e.ctx, template.Template{
			Name: "vendor layout", ImportType: importtype.Accounts,
		})
		require.NoError(t, err)

		_, err = svc.Create(e.ctx, template.Template{
			Name: "Vendor Layout", ImportType: importtype.Accounts,
		})
		assert.ErrorIs(t, err, template.ErrNameTaken)

		// Same name under another import type is fine.
		_, err = svc.Create(e.ctx, template.Template{
			Name: "vendor layout", ImportType: importtype.SkipTrace,
		})
		assert.NoError(t, err)
	})

	t.Run("ListFiltersByType", func(t *testing.T) {
		e := newEnv(t)
		svc := NewTemplateService(e.templates)

		for _, typ := range []importtype.ImportType{importtype.Accounts, importtype.SkipTrace} {
			_, err := svc.Create(e.ctx, template.Template{Name: "t-" + string(typ), ImportType: typ})
			require.NoError(t, err)
		}

		items, total, err := svc.List(e.ctx, template.FindParams{ImportType: importtype.Accounts})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, items, 1)
		assert.Equal(t, importtype.Accounts, items[0].ImportType)
	})
}
