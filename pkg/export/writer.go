package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// CSVWriter writes tables in comma-separated format.
type CSVWriter struct{}

// WriteToFile writes the table to a CSV file at the given path.
func (w *CSVWriter) WriteToFile(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}
	defer f.Close()

	if err := w.Write(f, t); err != nil {
		return err
	}
	return f.Close()
}

// Write writes the header and rows of t to out.
func (w *CSVWriter) Write(out io.Writer, t *Table) error {
	writer := csv.NewWriter(out)

	if err := writer.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range t.Rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// XLSXWriter writes tables as a single-sheet Excel workbook.
type XLSXWriter struct{}

// WriteToFile writes the table to an .xlsx file at the given path.
func (w *XLSXWriter) WriteToFile(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}
	defer f.Close()

	if err := w.Write(f, t); err != nil {
		return err
	}
	return f.Close()
}

// Write writes the table to out. The sheet is named after the table.
func (w *XLSXWriter) Write(out io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(t.Name)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := setRow(f, sheet, 1, t.Header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteFile picks the format from the file extension: .xlsx, otherwise CSV.
func WriteFile(path string, t *Table) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return (&XLSXWriter{}).WriteToFile(path, t)
	}
	return (&CSVWriter{}).WriteToFile(path, t)
}

func setRow(f *excelize.File, sheet string, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return fmt.Errorf("failed to address row %d: %w", n, err)
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("failed to write row %d: %w", n, err)
	}
	return nil
}

// sheetName fits a table name into Excel's 31-character sheet name limit.
func sheetName(name string) string {
	if name == "" {
		name = "Sheet1"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
