package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerline/collect/modules/imports/domain/importtype"
)

// MissingFieldsError lists every required canonical field the mapping failed
// to cover, so the caller can fix them all in one pass.
type MissingFieldsError struct {
	Fields []importtype.Field
}

func (e *MissingFieldsError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, string(f))
	}
	return fmt.Sprintf("mapping is missing required fields: %s", strings.Join(names, ", "))
}

// Mapping is a finalized source-column to canonical-field resolution against
// a concrete header row.
type Mapping struct {
	importType importtype.ImportType
	columnIdx  map[importtype.Field]int
	unmapped   []importtype.Field
}

// Merge overlays per-field overrides on a template's saved mapping. Both maps
// are source-column -> canonical-field; overrides win.
func Merge(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for col, field := range base {
		out[col] = field
	}
	for col, field := range overrides {
		out[col] = field
	}
	return out
}

// Resolve finalizes columns (source-column-name -> canonical-field-name)
// against the header. Every required field of the import type must resolve to
// a header column or the whole mapping is rejected.
func Resolve(header []string, typ importtype.ImportType, columns map[string]string) (Mapping, error) {
	headerIdx := make(map[string]int, len(header))
	for i, col := range header {
		headerIdx[normalizeColumn(col)] = i
	}

	columnIdx := make(map[importtype.Field]int, len(columns))
	for col, rawField := range columns {
		field := importtype.Field(strings.ToLower(strings.TrimSpace(rawField)))
		if !typ.Knows(field) {
			return Mapping{}, fmt.Errorf("unknown canonical field %q for import type %s", rawField, typ)
		}
		idx, ok := headerIdx[normalizeColumn(col)]
		if !ok {
			return Mapping{}, fmt.Errorf("mapped source column %q not found in file header", col)
		}
		if prev, dup := columnIdx[field]; dup && prev != idx {
			return Mapping{}, fmt.Errorf("canonical field %q is mapped from multiple columns", field)
		}
		columnIdx[field] = idx
	}

	var missing []importtype.Field
	for _, f := range typ.Required() {
		if _, ok := columnIdx[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return Mapping{}, &MissingFieldsError{Fields: missing}
	}

	var unmapped []importtype.Field
	for _, f := range typ.Optional() {
		if _, ok := columnIdx[f]; !ok {
			unmapped = append(unmapped, f)
		}
	}

	return Mapping{importType: typ, columnIdx: columnIdx, unmapped: unmapped}, nil
}

func (m Mapping) ImportType() importtype.ImportType { return m.importType }

// Unmapped lists optional canonical fields absent from downstream rows.
func (m Mapping) Unmapped() []importtype.Field {
	return append([]importtype.Field(nil), m.unmapped...)
}

// Project extracts the canonical fields from one source record. Missing cells
// and unmapped optional fields are simply absent from the result.
func (m Mapping) Project(record []string) map[string]string {
	out := make(map[string]string, len(m.columnIdx))
	for field, idx := range m.columnIdx {
		if idx >= len(record) {
			continue
		}
		v := strings.TrimSpace(record[idx])
		if v == "" {
			continue
		}
		out[string(field)] = v
	}
	return out
}

func normalizeColumn(col string) string {
	return strings.ToLower(strings.TrimSpace(col))
}
