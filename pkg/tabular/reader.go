// Package tabular reads uploaded CSV and Excel extracts into a raw header + rows table.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for file extensions other than .csv, .xlsx and .xlsm.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Table is an untyped upload: the header row as written in the file and the data rows,
// each padded or truncated to the header width.
type Table struct {
	Header []string
	Rows   [][]string
}

// Read dispatches on the file extension. The whole input is consumed before parsing.
func Read(filename string, r io.Reader) (*Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return ReadCSV(r)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q (expected .csv or .xlsx)", ErrUnsupportedFormat, filename)
	}
}

// ReadCSV reads a comma-delimited file with a header row.
func ReadCSV(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	return build(records)
}

// ReadXLSX reads the first sheet of an Excel workbook. Cells are read raw, so dates
// arrive as Excel serial numbers and amounts without display formatting.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in Excel file")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	return build(rows)
}

func build(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("file has no header row")
	}

	header := records[0]
	t := &Table{Header: header, Rows: make([][]string, 0, len(records)-1)}

	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := make([]string, len(header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
