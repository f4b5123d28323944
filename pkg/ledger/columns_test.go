package ledger

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCatalogueIsComplete(t *testing.T) {
	names := ColumnNames()
	if len(names) != 36 {
		t.Fatalf("ColumnNames() returned %d columns, expected 36", len(names))
	}

	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			t.Errorf("column %q listed twice", n)
		}
		seen[n] = true
	}

	for _, k := range KeyColumns {
		c, ok := Lookup(k)
		if !ok {
			t.Fatalf("key column %q missing from catalogue", k)
		}
		if c.Kind != KindText {
			t.Errorf("key column %q has kind %s, expected text", k, c.Kind)
		}
	}
	for _, v := range VisibleColumns {
		if _, ok := Lookup(v); !ok {
			t.Errorf("visible column %q missing from catalogue", v)
		}
	}
}

func TestColumnSettersRespectKind(t *testing.T) {
	var r Record
	amount, _ := Lookup("amount")
	vendor, _ := Lookup("std_vendor")
	updated, _ := Lookup("last_updated")

	amount.SetDecimal(&r, Dec("12.5"))
	amount.SetText(&r, String("ignored"))
	vendor.SetText(&r, String("ACME"))

	jakarta := time.FixedZone("WIB", 7*3600)
	updated.SetTime(&r, sql.NullTime{Time: time.Date(2025, 1, 1, 7, 0, 0, 0, jakarta), Valid: true})

	if !r.Amount.Valid || !r.Amount.Decimal.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("amount = %v, expected 12.5", r.Amount)
	}
	if r.StdVendor.String != "ACME" {
		t.Errorf("std_vendor = %q, expected ACME", r.StdVendor.String)
	}
	if r.LastUpdated.Time.Location() != time.UTC || r.LastUpdated.Time.Hour() != 0 {
		t.Errorf("last_updated = %v, expected midnight UTC", r.LastUpdated.Time)
	}
}

func TestColumnValueAndFormat(t *testing.T) {
	r := Record{
		StdAmount:     Dec("1000"),
		StdVendor:     String("ACME"),
		StdVendorCost: decimal.NullDecimal{},
	}
	amount, _ := Lookup("std_amount")
	cost, _ := Lookup("std_vendor_cost")
	vendor, _ := Lookup("std_vendor")

	if v := cost.Value(&r); v != nil {
		t.Errorf("Value() of null decimal = %v, expected nil", v)
	}
	if got := amount.Format(&r, nil); got != "1000.00" {
		t.Errorf("Format() = %q, expected 1000.00", got)
	}
	if got := vendor.Value(&r); got != "ACME" {
		t.Errorf("Value() = %v, expected ACME", got)
	}

	for in, expected := range map[string]string{
		"1000":                "1000.00",
		"100.005":             "100.01",
		"1234567890123456.78": "1234567890123456.78",
	} {
		r.StdAmount = Dec(in)
		if got := amount.Value(&r); got != expected {
			t.Errorf("Value(%s) = %v, expected %s", in, got, expected)
		}
	}
}

func TestRecordKey(t *testing.T) {
	r := Record{StdIdentifier: String("A-1"), TxID: sql.NullString{String: "", Valid: true}}

	tests := []struct {
		column string
		want   string
		ok     bool
	}{
		{"std_identifier", "A-1", true},
		{"tx_id", "", false},
		{"id", "", false},
		{"amount", "", false},
		{"unknown", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			got, ok := r.Key(tt.column)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Key(%q) = %q, %v, expected %q, %v", tt.column, got, ok, tt.want, tt.ok)
			}
		})
	}
}
