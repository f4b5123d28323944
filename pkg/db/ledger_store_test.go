package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
)

func openTestDB(t *testing.T) *Connection {
	t.Helper()
	conn, err := Open(context.Background(), Options{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func ts(s string) sql.NullTime {
	v, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return sql.NullTime{Time: v, Valid: true}
}

func TestOpenIsIdempotent(t *testing.T) {
	conn := openTestDB(t)
	if err := conn.InitializeSchema(context.Background()); err != nil {
		t.Fatalf("InitializeSchema() second run error = %v", err)
	}
	if conn.Dialect().Driver() != DriverSQLite {
		t.Errorf("Driver() = %q", conn.Dialect().Driver())
	}
}

func TestInsertAndExistingKeys(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(openTestDB(t))

	records := []ledger.Record{
		{StdIdentifier: ledger.String("A-1"), StdAmount: ledger.Dec("100.50"), StdTransactionDate: ts("2025-01-01 10:00")},
		{StdIdentifier: ledger.String("A-2"), StdAmount: ledger.Dec("20")},
	}
	columns := []string{"std_transaction_date", "std_identifier", "std_amount"}

	err := store.InTx(ctx, func(w Writer) error {
		n, err := w.Insert(ctx, columns, records, false)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("Insert() = %d, expected 2", n)
		}

		found, err := w.ExistingKeys(ctx, "std_identifier", []string{"A-1", "A-3"}, false)
		if err != nil {
			return err
		}
		if !found["A-1"] || found["A-3"] || len(found) != 1 {
			t.Errorf("ExistingKeys() = %v, expected only A-1", found)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	rows, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Query() returned %d rows, expected 2", len(rows))
	}
	if rows[0].StdIdentifier.String != "A-1" || rows[0].StdAmount.Decimal.StringFixed(2) != "100.50" {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if !rows[0].StdTransactionDate.Time.Equal(ts("2025-01-01 10:00").Time) {
		t.Errorf("StdTransactionDate = %v", rows[0].StdTransactionDate.Time)
	}
	if rows[1].StdTransactionDate.Valid {
		t.Error("expected row without a date to sort last")
	}
}

func TestDecimalPrecisionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(openTestDB(t))

	tests := []struct {
		in       string
		expected string
	}{
		{"1234567890123456.78", "1234567890123456.78"},
		{"-9999999999999999.99", "-9999999999999999.99"},
		{"100.005", "100.01"},
		{"0.1", "0.10"},
	}

	records := make([]ledger.Record, len(tests))
	for i, tt := range tests {
		records[i] = ledger.Record{
			TxID:               ledger.String(tt.in),
			StdAmount:          ledger.Dec(tt.in),
			StdTransactionDate: ts("2025-03-10 08:00"),
		}
	}
	if err := store.InTx(ctx, func(w Writer) error {
		_, err := w.Insert(ctx, []string{"tx_id", "std_amount", "std_transaction_date"}, records, false)
		return err
	}); err != nil {
		t.Fatalf("Insert error = %v", err)
	}

	rows, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	stored := make(map[string]string)
	for _, r := range rows {
		stored[r.TxID.String] = r.StdAmount.Decimal.String()
	}
	for _, tt := range tests {
		want := ledger.Dec(tt.expected).Decimal.String()
		if stored[tt.in] != want {
			t.Errorf("stored %s = %s, expected %s", tt.in, stored[tt.in], tt.expected)
		}
	}

	_, total, err := store.RecentTotals(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RecentTotals() error = %v", err)
	}
	if got := total.StringFixed(2); got != "-8765432109876443.10" {
		t.Errorf("RecentTotals() sum = %s, expected -8765432109876443.10", got)
	}
}

func TestExistingKeysUpsertableIgnoresAllowDuplicateRows(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(openTestDB(t))

	err := store.InTx(ctx, func(w Writer) error {
		if _, err := w.Insert(ctx, []string{"tx_id"}, []ledger.Record{{TxID: ledger.String("T-1")}}, true); err != nil {
			return err
		}
		if _, err := w.Insert(ctx, []string{"tx_id"}, []ledger.Record{{TxID: ledger.String("T-2")}}, false); err != nil {
			return err
		}

		all, err := w.ExistingKeys(ctx, "tx_id", []string{"T-1", "T-2"}, false)
		if err != nil {
			return err
		}
		if len(all) != 2 {
			t.Errorf("ExistingKeys(all) = %v, expected T-1 and T-2", all)
		}

		keyed, err := w.ExistingKeys(ctx, "tx_id", []string{"T-1", "T-2"}, true)
		if err != nil {
			return err
		}
		if keyed["T-1"] || !keyed["T-2"] {
			t.Errorf("ExistingKeys(upsertable) = %v, expected only T-2", keyed)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}
}

func TestUniqueKeyRejectsPlainDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(openTestDB(t))
	rec := []ledger.Record{{TxID: ledger.String("T-1")}}

	insert := func(allow bool) error {
		return store.InTx(ctx, func(w Writer) error {
			_, err := w.Insert(ctx, []string{"tx_id"}, rec, allow)
			return err
		})
	}

	if err := insert(false); err != nil {
		t.Fatalf("first insert error = %v", err)
	}
	err := insert(false)
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("second insert error = %v, expected StorageError", err)
	}
	if err := insert(true); err != nil {
		t.Fatalf("insert with allowDuplicate error = %v", err)
	}
	if err := insert(true); err != nil {
		t.Fatalf("repeated insert with allowDuplicate error = %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, expected 3", stats.TotalRecords)
	}
}

func TestUpsertOverwritesPresentColumnsOnly(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	store := NewLedgerStore(conn)

	seed := []ledger.Record{{
		StdIdentifier: ledger.String("A-1"),
		StdAmount:     ledger.Dec("100"),
		Description:   ledger.String("keep me"),
	}}
	if err := store.InTx(ctx, func(w Writer) error {
		_, err := w.Insert(ctx, []string{"std_identifier", "std_amount", "description"}, seed, false)
		return err
	}); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	update := []ledger.Record{{StdIdentifier: ledger.String("A-1"), StdAmount: ledger.Dec("150")}}
	apply := func() {
		t.Helper()
		if err := store.InTx(ctx, func(w Writer) error {
			n, err := w.Upsert(ctx, "std_identifier", []string{"std_identifier", "std_amount"}, update)
			if err != nil {
				return err
			}
			if n != 1 {
				t.Errorf("Upsert() = %d, expected 1", n)
			}
			return nil
		}); err != nil {
			t.Fatalf("Upsert error = %v", err)
		}
	}

	apply()
	apply()

	rows, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Query() returned %d rows, expected 1 after repeated upserts", len(rows))
	}
	if rows[0].StdAmount.Decimal.StringFixed(2) != "150.00" {
		t.Errorf("StdAmount = %s, expected 150.00", rows[0].StdAmount.Decimal)
	}
	if rows[0].Description.String != "keep me" {
		t.Errorf("Description = %q, expected untouched value", rows[0].Description.String)
	}

	var temps int
	if err := conn.GetDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_temp_master WHERE name LIKE 'ledger_staging_%'").Scan(&temps); err != nil {
		t.Fatalf("staging lookup error = %v", err)
	}
	if temps != 0 {
		t.Errorf("found %d staging tables after commit, expected 0", temps)
	}
}

func TestFailedUpsertDropsStagingTable(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(openTestDB(t))
	columns := []string{"id", "std_identifier", "std_amount"}

	seed := []ledger.Record{
		{ID: ledger.String("X"), StdIdentifier: ledger.String("A-1"), StdAmount: ledger.Dec("1")},
		{ID: ledger.String("Y"), StdIdentifier: ledger.String("A-2"), StdAmount: ledger.Dec("2")},
	}
	if err := store.InTx(ctx, func(w Writer) error {
		_, err := w.Insert(ctx, columns, seed, false)
		return err
	}); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	// A-1 takes id Y, which A-2 already holds.
	clash := []ledger.Record{{ID: ledger.String("Y"), StdIdentifier: ledger.String("A-1"), StdAmount: ledger.Dec("9")}}
	var upsertErr error
	var temps int
	err := store.InTx(ctx, func(w Writer) error {
		_, upsertErr = w.Upsert(ctx, "std_identifier", columns, clash)
		tx := w.(*ledgerTx).tx
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_temp_master WHERE name LIKE 'ledger_staging_%'").Scan(&temps); err != nil {
			return err
		}
		return upsertErr
	})

	var storageErr *StorageError
	if !errors.As(upsertErr, &storageErr) {
		t.Fatalf("Upsert() error = %v, expected StorageError", upsertErr)
	}
	if !errors.Is(err, upsertErr) {
		t.Errorf("InTx() error = %v, expected the upsert failure", err)
	}
	if temps != 0 {
		t.Errorf("found %d staging tables after a failed upsert, expected 0", temps)
	}

	rows, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Query() returned %d rows, expected 2", len(rows))
	}
	for _, r := range rows {
		if r.StdIdentifier.String == "A-1" && (r.ID.String != "X" || r.StdAmount.Decimal.StringFixed(2) != "1.00") {
			t.Errorf("A-1 = %+v, expected it unchanged", r)
		}
	}
}

func TestFailedBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(openTestDB(t))
	boom := errors.New("boom")

	err := store.InTx(ctx, func(w Writer) error {
		if _, err := w.Insert(ctx, []string{"tx_id"}, []ledger.Record{{TxID: ledger.String("T-1")}}, false); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, expected boom", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalRecords != 0 {
		t.Errorf("TotalRecords = %d, expected rollback to leave 0", stats.TotalRecords)
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(openTestDB(t))

	records := []ledger.Record{
		{StdIdentifier: ledger.String("A-1"), StdVendor: ledger.String("Acme Bank"), StdTransactionDate: ts("2025-01-01 09:00")},
		{StdIdentifier: ledger.String("A-2"), StdVendor: ledger.String("acme_pay"), StdTransactionDate: ts("2025-01-02 23:59")},
		{StdIdentifier: ledger.String("A-3"), StdVendor: ledger.String("Other"), StdTransactionDate: ts("2025-01-03 00:00")},
		{StdIdentifier: ledger.String("A-4"), StdVendor: ledger.String("acme%"), StdTransactionDate: ts("2024-12-31 12:00")},
	}
	if err := store.InTx(ctx, func(w Writer) error {
		_, err := w.Insert(ctx, []string{"std_transaction_date", "std_vendor", "std_identifier"}, records, false)
		return err
	}); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   Filter
		expected []string
	}{
		{"date range", Filter{From: from, To: to}, []string{"A-1", "A-2"}},
		{"case-insensitive", Filter{From: from, To: to, Contains: map[string]string{"std_vendor": "ACME"}}, []string{"A-1", "A-2"}},
		{"underscore is literal", Filter{Contains: map[string]string{"std_vendor": "acme_"}}, []string{"A-2"}},
		{"percent is literal", Filter{Contains: map[string]string{"std_vendor": "%"}}, []string{"A-4"}},
		{"blank filter ignored", Filter{From: from, To: to, Contains: map[string]string{"std_vendor": " "}}, []string{"A-1", "A-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := store.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			var got []string
			for _, r := range rows {
				got = append(got, r.StdIdentifier.String)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("Query() = %v, expected %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Query() = %v, expected %v", got, tt.expected)
					break
				}
			}
		})
	}

	if _, err := store.Query(ctx, Filter{Contains: map[string]string{"std_amount": "1"}}); err == nil {
		t.Error("Query() expected error for a non-text filter column")
	}
}

func TestRecentTotalsAndBalanceHistory(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(openTestDB(t))

	records := []ledger.Record{
		{TxID: ledger.String("T-1"), StdAmount: ledger.Dec("10.25"), StdTransactionDate: ts("2025-03-10 08:00"), LastUpdated: ts("2025-03-10 08:00")},
		{TxID: ledger.String("T-2"), StdAmount: ledger.Dec("4.75"), StdTransactionDate: ts("2025-03-12 08:00"), LastUpdated: ts("2025-03-09 08:00")},
		{TxID: ledger.String("T-3"), StdAmount: ledger.Dec("100"), StdTransactionDate: ts("2025-02-01 08:00")},
	}
	if err := store.InTx(ctx, func(w Writer) error {
		_, err := w.Insert(ctx, []string{"std_transaction_date", "std_amount", "last_updated", "tx_id"}, records, false)
		return err
	}); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	count, sum, err := store.RecentTotals(ctx, time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RecentTotals() error = %v", err)
	}
	if count != 2 || sum.StringFixed(2) != "15.00" {
		t.Errorf("RecentTotals() = %d, %s, expected 2, 15.00", count, sum)
	}

	history, err := store.BalanceHistory(ctx)
	if err != nil {
		t.Fatalf("BalanceHistory() error = %v", err)
	}
	if len(history) != 2 || history[0].TxID.String != "T-2" || history[1].TxID.String != "T-1" {
		t.Errorf("BalanceHistory() should hold T-2, T-1 in last_updated order, got %d rows", len(history))
	}
}
