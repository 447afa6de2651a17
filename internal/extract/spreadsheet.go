// SPDX-License-Identifier: MIT

package extract

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// csvText parses and re-serializes a CSV file. The round-trip normalizes
// quoting and ragged rows so downstream chunking sees consistent text.
func csvText(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path already confined by the caller
	if err != nil {
		return "", fmt.Errorf("extract: open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // tolerate ragged rows
	rows, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("extract: parse csv: %w", err)
	}

	return writeCSV(rows)
}

// xlsxText flattens every sheet of a workbook into CSV text. Sheets are
// separated by a header naming the sheet.
func xlsxText(path string) (string, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("extract: open xlsx: %w", err)
	}
	defer func() { _ = wb.Close() }()

	var b strings.Builder
	sheets := wb.GetSheetList()
	for _, sheet := range sheets {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("extract: read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		if len(sheets) > 1 {
			b.WriteString("# Sheet: ")
			b.WriteString(sheet)
			b.WriteString("\n")
		}
		text, err := writeCSV(rows)
		if err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func writeCSV(rows [][]string) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("extract: serialize csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("extract: serialize csv: %w", err)
	}
	return b.String(), nil
}
