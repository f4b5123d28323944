// Package normalize maps raw upload tables onto the canonical ledger schema.
package normalize

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/tabular"
)

// Excel serials outside this window are not read as dates (1954-10-03 .. 2119-01-09).
const (
	minExcelSerial = 20000
	maxExcelSerial = 80000
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-0700",
	"2006-01-02 15:04:05-07",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05 -0700 MST",
}

var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"20060102",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"2-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"2006-1-2",
}

var nullWords = map[string]bool{
	"nan":  true,
	"none": true,
	"null": true,
	"nat":  true,
	"n/a":  true,
	"-":    true,
}

// Config configures a Normalizer.
type Config struct {
	// Aliases maps source headers to canonical columns. Optional.
	Aliases Aliases
	// Location is used for timestamps without an offset. Defaults to UTC.
	Location *time.Location
}

// Normalizer converts raw upload tables into typed ledger batches.
type Normalizer struct {
	aliases Aliases
	loc     *time.Location
}

// Stats reports what normalization discarded.
type Stats struct {
	Rows int
	// Coerced counts non-empty cells per column that could not be parsed and became null.
	Coerced map[string]int
}

// New creates a Normalizer.
func New(cfg Config) *Normalizer {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{aliases: cfg.Aliases, loc: loc}
}

// Normalize canonicalizes headers, drops unknown columns and coerces every cell to its
// column kind. Unparseable values become null; they never fail the batch.
func (n *Normalizer) Normalize(t *tabular.Table) (ledger.Batch, Stats) {
	stats := Stats{Coerced: make(map[string]int)}
	batch := ledger.Batch{}

	type mapped struct {
		index  int
		column ledger.Column
	}
	var cols []mapped
	seen := make(map[string]bool)

	for i, raw := range t.Header {
		name := n.aliases.Resolve(raw)
		if name == "" {
			batch.Dropped = append(batch.Dropped, strings.TrimSpace(raw))
			continue
		}
		if seen[name] {
			batch.Dropped = append(batch.Dropped, strings.TrimSpace(raw))
			continue
		}
		seen[name] = true
		col, _ := ledger.Lookup(name)
		cols = append(cols, mapped{index: i, column: col})
		batch.Columns = append(batch.Columns, name)
	}

	batch.Records = make([]ledger.Record, len(t.Rows))
	for i, row := range t.Rows {
		rec := &batch.Records[i]
		for _, c := range cols {
			var cell string
			if c.index < len(row) {
				cell = row[c.index]
			}
			if !n.assign(rec, c.column, cell) {
				stats.Coerced[c.column.Name]++
			}
		}
	}
	stats.Rows = len(batch.Records)

	return batch, stats
}

// assign sets one cell and reports false when a non-empty value was coerced to null.
func (n *Normalizer) assign(rec *ledger.Record, col ledger.Column, cell string) bool {
	s := strings.TrimSpace(cell)
	switch col.Kind {
	case ledger.KindText:
		col.SetText(rec, ledger.String(s))
		return true
	case ledger.KindDecimal:
		d, ok := ParseDecimal(s)
		if ok {
			col.SetDecimal(rec, decimal.NullDecimal{Decimal: d, Valid: true})
			return true
		}
		return isNullish(s)
	case ledger.KindTime:
		ts, ok := ParseTime(s, n.loc)
		if ok {
			col.SetTime(rec, sql.NullTime{Time: ts, Valid: true})
			return true
		}
		return isNullish(s)
	}
	return true
}

func isNullish(s string) bool {
	return s == "" || nullWords[strings.ToLower(s)]
}

// ParseDecimal reads an amount, tolerating thousands separators and surrounding spaces.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if isNullish(s) {
		return decimal.Decimal{}, false
	}
	s = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "\t", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Round(ledger.Scale), true
}

// ParseTime reads a timestamp. Values with an offset keep it; naive values are read in
// loc; numbers in the Excel serial window are converted as workbook dates. The result is UTC.
func ParseTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if isNullish(s) {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts.UTC(), true
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(serial) {
		if serial >= minExcelSerial && serial < maxExcelSerial {
			if ts, err := excelize.ExcelDateToTime(serial, false); err == nil {
				local := time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, loc)
				return local.UTC(), true
			}
		}
	}

	return time.Time{}, false
}
