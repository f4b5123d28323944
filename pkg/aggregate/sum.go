// Package aggregate computes grouped, null-aware sums over ledger rows.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
)

// DailySum is the total of one calendar day.
type DailySum struct {
	Date  time.Time
	Sum   decimal.NullDecimal
	Count int
}

// SumByDate groups rows by the calendar day (in loc) of dateColumn and sums valueColumn,
// minus subtractColumn when one is given. Rows with a null date are excluded. A group's
// sum is null only when every contributing value is null.
//
// Unknown columns, or columns of the wrong kind, yield an empty result.
func SumByDate(rows []ledger.Record, dateColumn, valueColumn, subtractColumn string, loc *time.Location) []DailySum {
	if loc == nil {
		loc = time.UTC
	}

	dateCol, ok := ledger.Lookup(dateColumn)
	if !ok || dateCol.Kind != ledger.KindTime {
		return []DailySum{}
	}
	valueCol, ok := ledger.Lookup(valueColumn)
	if !ok || valueCol.Kind != ledger.KindDecimal {
		return []DailySum{}
	}
	var subCol *ledger.Column
	if subtractColumn != "" {
		c, ok := ledger.Lookup(subtractColumn)
		if !ok || c.Kind != ledger.KindDecimal {
			return []DailySum{}
		}
		subCol = &c
	}

	groups := make(map[time.Time]*DailySum)
	for i := range rows {
		r := &rows[i]
		when := dateCol.TimeValue(r)
		if !when.Valid {
			continue
		}
		local := when.Time.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

		g, ok := groups[day]
		if !ok {
			g = &DailySum{Date: day}
			groups[day] = g
		}
		g.Count++

		v := valueCol.DecimalValue(r)
		if subCol != nil {
			v = Difference(v, subCol.DecimalValue(r))
		}
		g.Sum = Add(g.Sum, v)
	}

	out := make([]DailySum, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Add sums two nullable values, ignoring nulls unless both are null.
func Add(a, b decimal.NullDecimal) decimal.NullDecimal {
	switch {
	case !a.Valid:
		return b
	case !b.Valid:
		return a
	default:
		return decimal.NewNullDecimal(a.Decimal.Add(b.Decimal))
	}
}

// Difference returns a - b with a missing operand taken as zero. It is null only when both are null.
func Difference(a, b decimal.NullDecimal) decimal.NullDecimal {
	if !a.Valid && !b.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(a.Decimal.Sub(b.Decimal))
}

// Total sums a decimal column over rows, treating nulls as zero.
// Unknown or non-decimal columns total zero.
func Total(rows []ledger.Record, column string) decimal.Decimal {
	col, ok := ledger.Lookup(column)
	if !ok || col.Kind != ledger.KindDecimal {
		return decimal.Zero
	}
	total := decimal.Zero
	for i := range rows {
		if v := col.DecimalValue(&rows[i]); v.Valid {
			total = total.Add(v.Decimal)
		}
	}
	return total
}
