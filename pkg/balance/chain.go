// Package balance derives the running daily balance ledger from timestamped transaction rows.
package balance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
)

// DailyBalance is the starting and ending balance of one calendar day.
type DailyBalance struct {
	Date            time.Time
	StartingBalance decimal.NullDecimal
	EndingBalance   decimal.NullDecimal
	RowCount        int
}

type dayRows struct {
	date time.Time
	rows []*ledger.Record
}

// Chain computes one entry per calendar day (in loc) of rows keyed by last_updated.
//
// A day starts from the previous day's ending balance when known, otherwise from its
// first balance_before. It ends at its last balance_after, otherwise at the start plus
// the day's amounts. Days without any balance_before, balance_after or amount produce
// no entry and leave the carried balance untouched.
func Chain(rows []ledger.Record, loc *time.Location) []DailyBalance {
	if loc == nil {
		loc = time.UTC
	}

	days := groupByDay(rows, loc)
	out := make([]DailyBalance, 0, len(days))
	var carried decimal.NullDecimal

	for _, day := range days {
		if !hasBalanceField(day.rows) {
			continue
		}

		start := carried
		if !start.Valid {
			start = firstBefore(day.rows)
		}

		end := lastAfter(day.rows)
		if !end.Valid && start.Valid {
			end = decimal.NewNullDecimal(start.Decimal.Add(sumAmounts(day.rows)))
		}

		out = append(out, DailyBalance{
			Date:            day.date,
			StartingBalance: start,
			EndingBalance:   end,
			RowCount:        len(day.rows),
		})

		if end.Valid {
			carried = end
		}
	}

	return out
}

// Span returns the balance at the start and end of a row set: the first row's
// balance_after (or balance_before) and the last row's, in last_updated order.
// Rows without either balance are skipped.
func Span(rows []ledger.Record) (start, end decimal.NullDecimal) {
	ordered := sortedByTime(rows)
	for _, r := range ordered {
		if v := coalesce(r.BalanceAfter, r.BalanceBefore); v.Valid {
			start = v
			break
		}
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		r := ordered[i]
		if v := coalesce(r.BalanceAfter, r.BalanceBefore); v.Valid {
			end = v
			break
		}
	}
	return start, end
}

func groupByDay(rows []ledger.Record, loc *time.Location) []dayRows {
	byDay := make(map[time.Time]*dayRows)
	for _, r := range sortedByTime(rows) {
		local := r.LastUpdated.Time.In(loc)
		key := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		d, ok := byDay[key]
		if !ok {
			d = &dayRows{date: key}
			byDay[key] = d
		}
		d.rows = append(d.rows, r)
	}

	days := make([]dayRows, 0, len(byDay))
	for _, d := range byDay {
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].date.Before(days[j].date) })
	return days
}

// sortedByTime drops rows without last_updated and stable-sorts the rest by it.
func sortedByTime(rows []ledger.Record) []*ledger.Record {
	out := make([]*ledger.Record, 0, len(rows))
	for i := range rows {
		if rows[i].LastUpdated.Valid {
			out = append(out, &rows[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUpdated.Time.Before(out[j].LastUpdated.Time)
	})
	return out
}

func hasBalanceField(rows []*ledger.Record) bool {
	for _, r := range rows {
		if r.BalanceBefore.Valid || r.BalanceAfter.Valid || r.Amount.Valid {
			return true
		}
	}
	return false
}

func firstBefore(rows []*ledger.Record) decimal.NullDecimal {
	for _, r := range rows {
		if r.BalanceBefore.Valid {
			return r.BalanceBefore
		}
	}
	return decimal.NullDecimal{}
}

func lastAfter(rows []*ledger.Record) decimal.NullDecimal {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].BalanceAfter.Valid {
			return rows[i].BalanceAfter
		}
	}
	return decimal.NullDecimal{}
}

func sumAmounts(rows []*ledger.Record) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		if r.Amount.Valid {
			total = total.Add(r.Amount.Decimal)
		}
	}
	return total
}

func coalesce(values ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range values {
		if v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}
