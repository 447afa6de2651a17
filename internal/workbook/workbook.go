// SPDX-License-Identifier: MIT

// Package workbook renders assessment results as an xlsx audit workbook.
package workbook

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/subhogram/riskobot/internal/audit"
	"github.com/subhogram/riskobot/internal/fsutil"
	"github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/metrics"
)

// ErrNoResults is returned when there is nothing to write.
var ErrNoResults = errors.New("workbook: no assessment results to write")

const sheetName = "Audit Results"

var header = []string{"Evidence File", "Policy", "Status", "Control Statement", "Assessment"}

// Write renders results into an xlsx workbook at path. The file is written
// atomically so a crashed run never leaves a truncated workbook behind.
func Write(ctx context.Context, path string, results []audit.Result) error {
	if len(results) == 0 {
		metrics.IncWorkbookWrite("skipped")
		return ErrNoResults
	}

	data, err := render(results)
	if err != nil {
		metrics.IncWorkbookWrite("error")
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o640); err != nil {
		metrics.IncWorkbookWrite("error")
		return fmt.Errorf("workbook: write %s: %w", path, err)
	}

	metrics.IncWorkbookWrite("success")
	logger := log.WithComponentFromContext(ctx, "workbook")
	logger.Info().
		Str(log.FieldEvent, "workbook.written").
		Str(log.FieldPath, path).
		Int("results", len(results)).
		Int("bytes", len(data)).
		Msg("audit workbook written")
	return nil
}

func render(results []audit.Result) ([]byte, error) {
	wb := excelize.NewFile()
	defer func() { _ = wb.Close() }()

	if err := wb.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("workbook: rename sheet: %w", err)
	}

	headerStyle, err := wb.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("workbook: header style: %w", err)
	}

	row := make([]any, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := wb.SetSheetRow(sheetName, "A1", &row); err != nil {
		return nil, fmt.Errorf("workbook: header row: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := wb.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("workbook: apply header style: %w", err)
	}

	for i, r := range results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("workbook: cell for row %d: %w", i+2, err)
		}
		assessment := r.Assessment
		if r.Err != "" {
			assessment = "Error: " + r.Err
		}
		values := []any{r.EvidenceFile, r.Policy, r.Verdict.String(), r.ControlStatement, truncate(assessment, 300)}
		if err := wb.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("workbook: row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		return nil, fmt.Errorf("workbook: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
