// Package ledger defines the canonical reconciliation ledger row and its column catalogue.
package ledger

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// Record is one reconciliation transaction line.
// Every canonical field is nullable; timestamps are kept in UTC.
type Record struct {
	// RowID is the storage surrogate key. It is zero for records that were never persisted.
	RowID int64

	ID                   sql.NullString
	StdTransactionDate   sql.NullTime
	StdVendor            sql.NullString
	StdIdentifier        sql.NullString
	StdUsername          sql.NullString
	StdAdminFee          decimal.NullDecimal
	StdAdminFeeInvoice   decimal.NullDecimal
	StdAmount            decimal.NullDecimal
	StdVendorCost        decimal.NullDecimal
	StdBalanceJoiner     sql.NullString
	StdVendorSettledDate sql.NullTime

	Created      sql.NullTime
	CreateBy     sql.NullString
	LastUpdated  sql.NullTime
	LastUpdateBy sql.NullString

	TxID                 sql.NullString
	TxType               sql.NullString
	Username             sql.NullString
	Amount               decimal.NullDecimal
	BalanceFlow          sql.NullString
	BalanceBefore        decimal.NullDecimal
	BalanceAfter         decimal.NullDecimal
	Description          sql.NullString
	UsedOverdraftBefore  decimal.NullDecimal
	UsedOverdraftAfter   decimal.NullDecimal
	ServiceFeePaid       decimal.NullDecimal
	TransactionFeePaid   decimal.NullDecimal
	ServiceFeeBefore     decimal.NullDecimal
	ServiceFeeAfter      decimal.NullDecimal
	PendingBalanceAfter  decimal.NullDecimal
	PendingBalanceBefore decimal.NullDecimal
	AdminFee             decimal.NullDecimal
	TransferAmount       decimal.NullDecimal
	FreezeBalanceBefore  decimal.NullDecimal
	FreezeBalanceAfter   decimal.NullDecimal
	ReconBalanceStatus   sql.NullString
}

// Batch is a normalized upload: the canonical columns that were present in the
// source file, the coerced records, and the source headers that were discarded.
type Batch struct {
	Columns []string
	Records []Record
	Dropped []string
}

// HasColumn reports whether the batch carried the named canonical column.
func (b Batch) HasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Key returns the record's value for a key column as a string.
// ok is false when the column is unknown, not a text column, or null/blank.
func (r *Record) Key(column string) (string, bool) {
	col, found := Lookup(column)
	if !found || col.Kind != KindText {
		return "", false
	}
	v := col.text(r)
	if !v.Valid || v.String == "" {
		return "", false
	}
	return v.String, true
}

// Text returns a string value, or "" when null.
func Text(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

// String builds a valid sql.NullString. Empty input yields a null.
func String(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Dec builds a valid decimal.NullDecimal from a string literal. It panics on malformed input
// and is meant for fixtures and constants.
func Dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}
