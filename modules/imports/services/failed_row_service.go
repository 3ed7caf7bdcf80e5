package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/tabular"
	"github.com/ledgerline/collect/pkg/composables"
	"github.com/ledgerline/collect/pkg/storage"
)

// ErrNoFailedRows means the export has nothing to say: every row loaded.
var ErrNoFailedRows = errors.New("job has no failed rows")

// FailedRowService renders the rows that failed validation or loading back
// in the original column layout, with an appended error column, so the file
// can be fixed and re-imported as-is.
type FailedRowService struct {
	jobs  importjob.Repository
	files storage.FileStore
}

func NewFailedRowService(jobs importjob.Repository, files storage.FileStore) *FailedRowService {
	return &FailedRowService{jobs: jobs, files: files}
}

// Export returns CSV bytes plus a suggested file name.
func (s *FailedRowService) Export(ctx context.Context, jobID uuid.UUID) ([]byte, string, error) {
	type exported struct {
		data []byte
		name string
	}
	out, err := composables.InTenantTxResult(ctx, func(txCtx context.Context) (exported, error) {
		job, err := s.jobs.GetByID(txCtx, jobID)
		if err != nil {
			return exported{}, err
		}

		rowErrors, err := s.jobs.RowErrors(txCtx, jobID)
		if err != nil {
			return exported{}, err
		}
		if len(rowErrors) == 0 {
			return exported{}, ErrNoFailedRows
		}

		data, err := s.files.Read(txCtx, job.FileHandle())
		if err != nil {
			return exported{}, errors.Wrap(err, "read stored file")
		}
		table, err := tabular.Read(job.FileKind(), data)
		if err != nil {
			return exported{}, errors.Wrap(err, "parse stored file")
		}

		// Messages per row, in one cell; field-scoped errors keep the field name.
		byRow := make(map[int][]string)
		for _, e := range rowErrors {
			msg := e.Message
			if e.Field != "" {
				msg = e.Field + ": " + msg
			}
			byRow[e.RowIndex] = append(byRow[e.RowIndex], msg)
		}
		indexes := make([]int, 0, len(byRow))
		for idx := range byRow {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)

		header := append(append([]string(nil), table.Header...), "import_errors")
		records := make([][]string, 0, len(indexes))
		for _, idx := range indexes {
			if idx < 0 || idx >= len(table.Records) {
				continue
			}
			source := table.Records[idx]
			rec := make([]string, len(table.Header)+1)
			copy(rec, source)
			rec[len(table.Header)] = strings.Join(byRow[idx], "; ")
			records = append(records, rec)
		}

		csv, err := tabular.WriteCSV(header, records)
		if err != nil {
			return exported{}, err
		}

		base := strings.TrimSuffix(job.FileName(), filepath.Ext(job.FileName()))
		return exported{
			data: csv,
			name: fmt.Sprintf("%s_failed_rows.csv", base),
		}, nil
	})
	if err != nil {
		return nil, "", err
	}
	return out.data, out.name, nil
}
