// Package tabular reads uploaded CSV and XLSX files into a header row plus
// data records. Parsing happens once, at validation time; the chunked
// processing path works off the persisted row set instead.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
)

// Table is a parsed source file. Records excludes the header row.
type Table struct {
	Header  []string
	Records [][]string
}

// KindForFileName infers the file kind from the upload's extension.
func KindForFileName(name string) (importjob.FileKind, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".txt"):
		return importjob.FileKindCSV, nil
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xls"):
		return importjob.FileKindXLSX, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", name)
}

// Read parses data according to kind.
func Read(kind importjob.FileKind, data []byte) (Table, error) {
	switch kind {
	case importjob.FileKindCSV:
		return readCSV(data)
	case importjob.FileKindXLSX:
		return readXLSX(data)
	}
	return Table{}, fmt.Errorf("unsupported file kind: %s", kind)
}

func readCSV(data []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return Table{}, fmt.Errorf("file is empty")
		}
		return Table{}, fmt.Errorf("read header: %w", err)
	}

	var records [][]string
	for {
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return Table{}, fmt.Errorf("line %d: %w", len(records)+2, err)
		}
		if isBlank(rec) {
			continue
		}
		records = append(records, rec)
	}

	return Table{Header: header, Records: records}, nil
}

func readXLSX(data []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return Table{}, fmt.Errorf("file is empty")
	}

	var records [][]string
	for _, rec := range rows[1:] {
		if isBlank(rec) {
			continue
		}
		records = append(records, rec)
	}
	return Table{Header: rows[0], Records: records}, nil
}

// WriteCSV renders header + records back out, used by the failed-row export.
func WriteCSV(header []string, records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
