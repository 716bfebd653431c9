// Package excel writes closure reports as timestamped .xlsx files under a
// fixed reports directory, one sheet per report table.
package excel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"messbook/internal/export"
)

type Writer struct {
	dir string
}

var _ export.Writer = (*Writer)(nil)

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write renders every table of the report into its own sheet and saves the
// workbook as <stem>_<timestamp>.xlsx under the reports directory.
func (w *Writer) Write(ctx context.Context, r export.Report) (string, error) {
	if len(r.Tables) == 0 {
		return "", fmt.Errorf("report %q has no tables", r.Stem)
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, table := range r.Tables {
		if i == 0 {
			// Reuse the default sheet for the first table.
			if err := f.SetSheetName(f.GetSheetName(0), table.Name); err != nil {
				return "", fmt.Errorf("rename sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(table.Name); err != nil {
				return "", fmt.Errorf("create sheet %q: %w", table.Name, err)
			}
		}
		if err := writeTable(f, table); err != nil {
			return "", err
		}
	}

	path := filepath.Join(w.dir,
		fmt.Sprintf("%s_%s.xlsx", r.Stem, time.Now().Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}

	slog.InfoContext(ctx, "Closure report exported", "path", path, "sheets", len(r.Tables))
	return path, nil
}

func writeTable(f *excelize.File, table export.Table) error {
	if err := setRow(f, table.Name, 1, table.Headers); err != nil {
		return err
	}
	for i, row := range table.Rows {
		if err := setRow(f, table.Name, i+2, row); err != nil {
			return err
		}
	}

	// Widen columns to roughly fit the longest value.
	for col := range table.Headers {
		width := float64(len(table.Headers[col]))
		for _, row := range table.Rows {
			if col < len(row) && float64(len(row[col])) > width {
				width = float64(len(row[col]))
			}
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(table.Name, name, name, width+4); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("write row %d on %q: %w", rowNum, sheet, err)
	}
	return nil
}
