package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/modules/imports/services"
)

func newCreateCmd() *cobra.Command {
	var (
		importTypeRaw string
		mappingJSON   string
		templateRaw   string
	)
	cmd := &cobra.Command{
		Use:   "create FILE",
		Short: "Upload a file and create an import job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			typ, err := importtype.Parse(importTypeRaw)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var columnMapping map[string]string
			if mappingJSON != "" {
				if err := json.Unmarshal([]byte(mappingJSON), &columnMapping); err != nil {
					return fmt.Errorf("invalid --mapping: %w", err)
				}
			}
			var templateID uuid.UUID
			if templateRaw != "" {
				templateID, err = uuid.Parse(templateRaw)
				if err != nil {
					return fmt.Errorf("invalid --template: %w", err)
				}
			}

			job, err := rt.imports.CreateJob(rt.ctx(cmd.Context()), services.CreateJobParams{
				FileName:   filepath.Base(args[0]),
				Data:       data,
				ImportType: typ,
				Mapping:    columnMapping,
				TemplateID: templateID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created job %s (%s, %d bytes)\n", job.ID(), job.ImportType(), job.FileSize())
			return nil
		},
	}
	cmd.Flags().StringVar(&importTypeRaw, "type", "", "import type (accounts|skip_trace|portfolios|clients|agencies)")
	cmd.Flags().StringVar(&mappingJSON, "mapping", "", "column mapping as a JSON object {\"Source Col\": \"canonical_field\"}")
	cmd.Flags().StringVar(&templateRaw, "template", "", "template UUID to pre-fill the mapping")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate JOB_ID",
		Short: "Parse, map and validate the job's file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			job, err := rt.imports.Validate(rt.ctx(cmd.Context()), jobID, nil)
			if err != nil {
				return err
			}
			if job.Status() == importjob.StatusUploaded {
				return fmt.Errorf("validation rejected: %s", job.FailureReason())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s validated: %d rows, %d invalid\n",
				job.ID(), job.TotalRows(), job.FailedRows())
			return nil
		},
	}
	return cmd
}

func newProcessCmd() *cobra.Command {
	var chunkSize, startIndex int
	cmd := &cobra.Command{
		Use:   "process JOB_ID",
		Short: "Process a single chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			if chunkSize <= 0 {
				chunkSize = rt.conf.Import.DefaultChunkSize
			}
			result, err := rt.chunks.Process(rt.ctx(cmd.Context()), jobID, chunkSize, startIndex)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d next=%d completed=%v cancelled=%v errors=%d\n",
				result.Processed, result.NextStartIndex, result.Completed, result.Cancelled, len(result.Errors))
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "rows per chunk (default from IMPORT_CHUNK_SIZE)")
	cmd.Flags().IntVar(&startIndex, "start", 0, "row index to start from (cursor wins if ahead)")
	return cmd
}

// drive loops process until the job completes, is cancelled, or errors. This
// is the external loop the chunk contract expects: each iteration is one
// claim/load/advance cycle.
func newDriveCmd() *cobra.Command {
	var chunkSize int
	var pause time.Duration
	cmd := &cobra.Command{
		Use:   "drive JOB_ID",
		Short: "Process chunks in a loop until the job finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			if chunkSize <= 0 {
				chunkSize = rt.conf.Import.DefaultChunkSize
			}

			start := 0
			for {
				result, err := rt.chunks.Process(rt.ctx(cmd.Context()), jobID, chunkSize, start)
				if err != nil {
					if errors.Is(err, importjob.ErrClaimed) {
						fmt.Fprintln(cmd.OutOrStdout(), "job claimed elsewhere, retrying...")
						time.Sleep(pause)
						continue
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "chunk done: processed=%d next=%d errors=%d\n",
					result.Processed, result.NextStartIndex, len(result.Errors))
				if result.Completed {
					fmt.Fprintln(cmd.OutOrStdout(), "job completed")
					return nil
				}
				if result.Cancelled {
					fmt.Fprintln(cmd.OutOrStdout(), "job cancelled")
					return nil
				}
				start = result.NextStartIndex
				if pause > 0 {
					time.Sleep(pause)
				}
			}
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "rows per chunk (default from IMPORT_CHUNK_SIZE)")
	cmd.Flags().DurationVar(&pause, "pause", 0, "pause between chunks")
	return cmd
}

func newCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Request cooperative cancellation of a processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			if err := rt.imports.Cancel(rt.ctx(cmd.Context()), jobID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancellation requested")
			return nil
		},
	}
	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete JOB_ID",
		Short: "Delete a job and everything it imported",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			if err := rt.imports.Delete(rt.ctx(cmd.Context()), jobID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "job deleted")
			return nil
		},
	}
	return cmd
}

func newExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export-failed JOB_ID",
		Short: "Export failed rows as CSV with an error column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			data, name, err := rt.failed.Export(rt.ctx(cmd.Context()), jobID)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = name
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default: derived from the job's file name)")
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show a job's status and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			job, err := rt.imports.GetByID(rt.ctx(cmd.Context()), jobID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:        %s\n", job.ID())
			fmt.Fprintf(out, "file:      %s (%d bytes, %s)\n", job.FileName(), job.FileSize(), job.FileKind())
			fmt.Fprintf(out, "type:      %s\n", job.ImportType())
			fmt.Fprintf(out, "status:    %s\n", job.Status())
			if job.FailureReason() != "" {
				fmt.Fprintf(out, "reason:    %s\n", job.FailureReason())
			}
			fmt.Fprintf(out, "progress:  %d%% (cursor %d of %d)\n", job.Progress(), job.Cursor(), job.TotalRows())
			fmt.Fprintf(out, "rows:      processed=%d succeeded=%d failed=%d\n",
				job.ProcessedRows(), job.SucceededRows(), job.FailedRows())
			return nil
		},
	}
	return cmd
}
