package export

import (
	"bytes"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/aggregate"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/balance"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/report"
)

func sampleView() *report.View {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &report.View{
		Rows: []ledger.Record{{
			StdTransactionDate: sql.NullTime{Time: jan1.Add(9 * time.Hour), Valid: true},
			StdVendor:          ledger.String("Acme, Inc"),
			StdIdentifier:      ledger.String("A-1"),
			StdAmount:          ledger.Dec("1200.5"),
		}},
		TransactionAmounts: []aggregate.DailySum{{Date: jan1, Sum: ledger.Dec("1200.5"), Count: 1}},
		DailyBalances: []balance.DailyBalance{
			{Date: jan1, StartingBalance: ledger.Dec("1000"), EndingBalance: ledger.Dec("1200"), RowCount: 1},
		},
	}
}

func TestCSVWriterRecords(t *testing.T) {
	table, err := FromView(sampleView(), TableRows, nil, time.UTC)
	if err != nil {
		t.Fatalf("FromView() error = %v", err)
	}

	var buf bytes.Buffer
	if err := (&CSVWriter{}).Write(&buf, table); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, expected header + 1 row", len(lines))
	}
	if lines[0] != strings.Join(ledger.VisibleColumns, ",") {
		t.Errorf("header = %q", lines[0])
	}
	expected := `2025-01-01 09:00:00,"Acme, Inc",A-1,,,,1200.50,,,`
	if lines[1] != expected {
		t.Errorf("row = %q, expected %q", lines[1], expected)
	}
}

func TestFromViewTables(t *testing.T) {
	view := sampleView()

	tests := []struct {
		name     string
		header   string
		firstRow string
	}{
		{TableTransactionAmounts, "date,std_amount,rows", "2025-01-01,1200.50,1"},
		{TableDailyBalances, "date,starting_balance,ending_balance,rows", "2025-01-01,1000.00,1200.00,1"},
		{TableVendorSettlements, "date,std_amount_less_vendor_cost,rows", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := FromView(view, tt.name, nil, time.UTC)
			if err != nil {
				t.Fatalf("FromView() error = %v", err)
			}
			if got := strings.Join(table.Header, ","); got != tt.header {
				t.Errorf("header = %q, expected %q", got, tt.header)
			}
			if tt.firstRow == "" {
				if len(table.Rows) != 0 {
					t.Errorf("rows = %v, expected none", table.Rows)
				}
				return
			}
			if got := strings.Join(table.Rows[0], ","); got != tt.firstRow {
				t.Errorf("first row = %q, expected %q", got, tt.firstRow)
			}
		})
	}

	if _, err := FromView(view, "pivot", nil, time.UTC); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("FromView(pivot) error = %v, expected ErrValidation", err)
	}
	if _, err := FromView(view, TableRows, []string{"std_amount", "nope"}, time.UTC); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("FromView(bad column) error = %v, expected ErrValidation", err)
	}
}

func TestWriteFileXLSX(t *testing.T) {
	table := FromDailyBalances(sampleView().DailyBalances)
	path := filepath.Join(t.TempDir(), "balances.xlsx")

	if err := WriteFile(path, table); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(TableDailyBalances)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 2 || rows[1][2] != "1200.00" {
		t.Errorf("rows = %v, expected header and one balance row", rows)
	}
}
