package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/config"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/db"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/normalize"
)

func openStore(t *testing.T) *db.LedgerStore {
	t.Helper()
	conn, err := db.Open(context.Background(), db.Options{
		Driver: db.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return db.NewLedgerStore(conn)
}

func batchOf(columns []string, records ...ledger.Record) ledger.Batch {
	return ledger.Batch{Columns: columns, Records: records}
}

func amounts(t *testing.T, store *db.LedgerStore) map[string][]string {
	t.Helper()
	rows, err := store.Query(context.Background(), db.Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	out := make(map[string][]string)
	for _, r := range rows {
		out[r.StdIdentifier.String] = append(out[r.StdIdentifier.String], r.StdAmount.Decimal.StringFixed(2))
	}
	return out
}

var cols = []string{"std_identifier", "std_amount"}

func rec(key, amount string) ledger.Record {
	return ledger.Record{StdIdentifier: ledger.String(key), StdAmount: ledger.Dec(amount)}
}

func TestUpdateTwiceKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	resolver := NewResolver(store, config.LookupFail)

	batch := batchOf(cols, rec("A", "100"), rec("A", "50"))
	opts := Options{Policy: PolicyUpdate, KeyColumn: "std_identifier"}

	first, err := resolver.Resolve(ctx, batch, opts)
	if err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	if first.Inserted != 1 || first.Superseded != 1 || first.Duplicates != 0 {
		t.Errorf("first Result = %+v, expected 1 inserted, 1 superseded", first)
	}

	second, err := resolver.Resolve(ctx, batch, opts)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if second.Inserted != 0 || second.Duplicates != 2 || second.Updated != 1 {
		t.Errorf("second Result = %+v, expected 0 inserted, 2 duplicates, 1 updated", second)
	}

	got := amounts(t, store)
	if len(got["A"]) != 1 || got["A"][0] != "50.00" {
		t.Errorf("stored A = %v, expected exactly one row with 50.00", got["A"])
	}
}

func TestSkipNeverTouchesExistingRows(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	resolver := NewResolver(store, config.LookupFail)
	opts := Options{Policy: PolicySkip, KeyColumn: "std_identifier"}

	if _, err := resolver.Resolve(ctx, batchOf(cols, rec("A", "1"), rec("B", "2")), opts); err != nil {
		t.Fatalf("seed Resolve() error = %v", err)
	}

	result, err := resolver.Resolve(ctx, batchOf(cols,
		rec("A", "10"),
		rec("C", "30"),
		rec("C", "31"),
		ledger.Record{StdAmount: ledger.Dec("5")},
	), opts)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if result.TotalRows != 4 || result.Inserted != 2 || result.Duplicates != 2 {
		t.Errorf("Result = %+v, expected 4 total, 2 inserted, 2 duplicates", result)
	}
	if result.Inserted+result.Duplicates != result.TotalRows {
		t.Error("inserted + duplicates should account for every row")
	}

	got := amounts(t, store)
	if got["A"][0] != "1.00" {
		t.Errorf("A = %v, expected untouched 1.00", got["A"])
	}
	if len(got["C"]) != 1 || got["C"][0] != "30.00" {
		t.Errorf("C = %v, expected first occurrence 30.00", got["C"])
	}
	if len(got[""]) != 1 {
		t.Errorf("null-key rows = %v, expected 1", got[""])
	}
}

func TestAddAllAppendsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	resolver := NewResolver(store, config.LookupFail)
	opts := Options{Policy: PolicyAddAll}

	for i := 0; i < 2; i++ {
		result, err := resolver.Resolve(ctx, batchOf(cols, rec("A", "1")), opts)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if result.Inserted != 1 || result.Duplicates != 0 {
			t.Errorf("Result = %+v, expected 1 inserted", result)
		}
	}

	if got := amounts(t, store); len(got["A"]) != 2 {
		t.Errorf("A = %v, expected two rows", got["A"])
	}
}

func TestUpdateOverAddAllRowsCountsInserts(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	resolver := NewResolver(store, config.LookupFail)

	if _, err := resolver.Resolve(ctx, batchOf(cols, rec("A", "1")), Options{Policy: PolicyAddAll}); err != nil {
		t.Fatalf("add-all Resolve() error = %v", err)
	}

	opts := Options{Policy: PolicyUpdate, KeyColumn: "std_identifier"}
	first, err := resolver.Resolve(ctx, batchOf(cols, rec("A", "2")), opts)
	if err != nil {
		t.Fatalf("first update Resolve() error = %v", err)
	}
	if first.Inserted != 1 || first.Updated != 0 || first.Duplicates != 0 {
		t.Errorf("first update Result = %+v, expected 1 inserted and nothing updated", first)
	}

	second, err := resolver.Resolve(ctx, batchOf(cols, rec("A", "3")), opts)
	if err != nil {
		t.Fatalf("second update Resolve() error = %v", err)
	}
	if second.Inserted != 0 || second.Updated != 1 || second.Duplicates != 1 {
		t.Errorf("second update Result = %+v, expected the keyed row updated", second)
	}

	got := amounts(t, store)
	if len(got["A"]) != 2 || got["A"][0] != "1.00" || got["A"][1] != "3.00" {
		t.Errorf("A = %v, expected the add-all row untouched and the keyed row at 3.00", got["A"])
	}
}

func TestMissingKeyColumn(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	resolver := NewResolver(store, config.LookupFail)
	batch := batchOf([]string{"std_amount"}, ledger.Record{StdAmount: ledger.Dec("7")})

	result, err := resolver.Resolve(ctx, batch, Options{Policy: PolicySkip, KeyColumn: "tx_id"})
	if err != nil {
		t.Fatalf("Skip Resolve() error = %v", err)
	}
	if result.Inserted != 1 || result.Duplicates != 0 || len(result.Notes) != 1 {
		t.Errorf("Skip Result = %+v, expected 1 inserted with a note", result)
	}

	_, err = resolver.Resolve(ctx, batch, Options{Policy: PolicyUpdate, KeyColumn: "tx_id"})
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrValidation) {
		t.Fatalf("Update Resolve() error = %v, expected ValidationError", err)
	}
	if !strings.Contains(err.Error(), "tx_id") {
		t.Errorf("error %q should name the missing column", err)
	}
}

func TestInvalidOptions(t *testing.T) {
	resolver := NewResolver(openStore(t), config.LookupFail)
	batch := batchOf(cols, rec("A", "1"))

	tests := []struct {
		name string
		opts Options
	}{
		{"key not allowed", Options{Policy: PolicySkip, KeyColumn: "std_amount"}},
		{"unknown key", Options{Policy: PolicyUpdate, KeyColumn: "nope"}},
		{"unknown policy", Options{Policy: "merge", KeyColumn: "std_identifier"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := resolver.Resolve(context.Background(), batch, tt.opts); !errors.Is(err, ErrValidation) {
				t.Errorf("Resolve() error = %v, expected ErrValidation", err)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in       string
		expected Policy
	}{
		{"skip", PolicySkip},
		{"Skip Duplicates", PolicySkip},
		{"update existing", PolicyUpdate},
		{"Add All", PolicyAddAll},
		{"add-all", PolicyAddAll},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if err != nil || got != tt.expected {
			t.Errorf("ParsePolicy(%q) = %q, %v, expected %q", tt.in, got, err, tt.expected)
		}
	}
	if _, err := ParsePolicy("replace"); !errors.Is(err, ErrValidation) {
		t.Errorf("ParsePolicy(replace) error = %v, expected ErrValidation", err)
	}
}

// failingLookup stores inserts in memory and fails every key lookup.
type failingLookup struct {
	inserted []ledger.Record
	upserted []ledger.Record
}

var errLookup = errors.New("connection reset")

func (f *failingLookup) InTx(ctx context.Context, fn func(db.Writer) error) error {
	return fn(f)
}

func (f *failingLookup) ExistingKeys(ctx context.Context, column string, keys []string, upsertable bool) (map[string]bool, error) {
	return nil, &db.StorageError{Op: "look up existing keys", Err: errLookup}
}

func (f *failingLookup) Insert(ctx context.Context, columns []string, records []ledger.Record, allowDuplicate bool) (int64, error) {
	f.inserted = append(f.inserted, records...)
	return int64(len(records)), nil
}

func (f *failingLookup) Upsert(ctx context.Context, column string, columns []string, records []ledger.Record) (int64, error) {
	f.upserted = append(f.upserted, records...)
	return int64(len(records)), nil
}

func TestLookupFailurePolicy(t *testing.T) {
	batch := batchOf(cols, rec("A", "1"), rec("B", "2"))
	opts := Options{Policy: PolicySkip, KeyColumn: "std_identifier"}

	t.Run("fail", func(t *testing.T) {
		store := &failingLookup{}
		_, err := NewResolver(store, config.LookupFail).Resolve(context.Background(), batch, opts)
		var storageErr *db.StorageError
		if !errors.As(err, &storageErr) || !errors.Is(err, errLookup) {
			t.Fatalf("Resolve() error = %v, expected StorageError wrapping the lookup failure", err)
		}
		if len(store.inserted) != 0 {
			t.Errorf("inserted %d rows, expected none", len(store.inserted))
		}
	})

	t.Run("assume-none", func(t *testing.T) {
		store := &failingLookup{}
		result, err := NewResolver(store, config.LookupAssumeNone).Resolve(context.Background(), batch, opts)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if result.Inserted != 2 || len(result.Notes) != 1 {
			t.Errorf("Result = %+v, expected 2 inserted with a note", result)
		}
	})
}

func TestUploadAndPreview(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	history := &recordingHistory{}
	uploader := NewUploader(normalize.New(normalize.Config{}), NewResolver(store, config.LookupFail), history)

	csv := "STD_Identifier,std_amount,memo\nA-1,\"1,200.00\",x\nA-2,oops,y\n"

	preview, err := uploader.Preview("jan.csv", strings.NewReader(csv), 1)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if preview.Rows != 2 || preview.Columns != 3 || len(preview.Sample) != 1 {
		t.Errorf("Preview = %+v, expected 2 rows, 3 columns, 1 sample row", preview)
	}
	if len(preview.Dropped) != 1 || preview.Dropped[0] != "memo" {
		t.Errorf("Preview.Dropped = %v, expected [memo]", preview.Dropped)
	}

	result, err := uploader.Upload(ctx, "jan.csv", strings.NewReader(csv), Options{Policy: PolicySkip})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if result.Inserted != 2 || result.KeyColumn != DefaultKeyColumn || result.Coerced["std_amount"] != 1 {
		t.Errorf("Result = %+v", result)
	}
	if len(history.records) != 1 || history.records[0].BatchID != result.BatchID {
		t.Errorf("history = %+v, expected the batch recorded", history.records)
	}

	if _, err := uploader.Upload(ctx, "jan.pdf", strings.NewReader("x"), Options{}); !errors.Is(err, ErrValidation) {
		t.Errorf("Upload(pdf) error = %v, expected ErrValidation", err)
	}
}

type recordingHistory struct {
	records []db.UploadRecord
}

func (h *recordingHistory) RecordUpload(ctx context.Context, record db.UploadRecord) error {
	h.records = append(h.records, record)
	return nil
}
