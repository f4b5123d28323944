// Package export renders report tables as delimited text or Excel workbooks.
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/aggregate"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/balance"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/report"
)

// Exportable tables of a report view.
const (
	TableRows                 = "rows"
	TableTransactionAmounts   = "transaction-amounts"
	TableVendorSettlements    = "vendor-settlements"
	TableSettledClientAmounts = "settled-client-amounts"
	TableDailyBalances        = "daily-balances"
)

// TableNames lists every exportable table.
var TableNames = []string{
	TableRows,
	TableTransactionAmounts,
	TableVendorSettlements,
	TableSettledClientAmounts,
	TableDailyBalances,
}

// Table is a rendered grid of strings.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// FromRecords renders the selected columns of records. An empty selection uses
// ledger.VisibleColumns.
func FromRecords(records []ledger.Record, columns []string, loc *time.Location) (*Table, error) {
	if len(columns) == 0 {
		columns = ledger.VisibleColumns
	}

	cols := make([]ledger.Column, 0, len(columns))
	for _, name := range columns {
		c, ok := ledger.Lookup(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			return nil, &ledger.ValidationError{Column: "export column", Value: name, Reason: "not a ledger column"}
		}
		cols = append(cols, c)
	}

	t := &Table{Name: TableRows, Header: make([]string, len(cols))}
	for i, c := range cols {
		t.Header[i] = c.Name
	}
	for i := range records {
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = c.Format(&records[i], loc)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// FromDailySums renders an aggregate table with the given value label.
func FromDailySums(name, label string, sums []aggregate.DailySum) *Table {
	t := &Table{Name: name, Header: []string{"date", label, "rows"}}
	for _, s := range sums {
		t.Rows = append(t.Rows, []string{s.Date.Format("2006-01-02"), formatNull(s.Sum), fmt.Sprint(s.Count)})
	}
	return t
}

// FromDailyBalances renders the balance ledger.
func FromDailyBalances(balances []balance.DailyBalance) *Table {
	t := &Table{Name: TableDailyBalances, Header: []string{"date", "starting_balance", "ending_balance", "rows"}}
	for _, b := range balances {
		t.Rows = append(t.Rows, []string{
			b.Date.Format("2006-01-02"),
			formatNull(b.StartingBalance),
			formatNull(b.EndingBalance),
			fmt.Sprint(b.RowCount),
		})
	}
	return t
}

// FromView selects one table of a report view by name.
func FromView(view *report.View, name string, columns []string, loc *time.Location) (*Table, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TableRows:
		return FromRecords(view.Rows, columns, loc)
	case TableTransactionAmounts:
		return FromDailySums(TableTransactionAmounts, "std_amount", view.TransactionAmounts), nil
	case TableVendorSettlements:
		return FromDailySums(TableVendorSettlements, "std_amount_less_vendor_cost", view.VendorSettlements), nil
	case TableSettledClientAmounts:
		return FromDailySums(TableSettledClientAmounts, "amount", view.SettledClientAmounts), nil
	case TableDailyBalances:
		return FromDailyBalances(view.DailyBalances), nil
	}

	names := append([]string(nil), TableNames...)
	sort.Strings(names)
	return nil, &ledger.ValidationError{
		Column: "table",
		Value:  name,
		Reason: "expected one of " + strings.Join(names, ", "),
	}
}

func formatNull(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.StringFixed(2)
}
