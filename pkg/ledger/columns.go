package ledger

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the storage type of a canonical column.
type Kind int

const (
	KindText Kind = iota
	KindTime
	KindDecimal
)

// Scale is the number of fraction digits every decimal column is stored with.
const Scale = 2

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindDecimal:
		return "decimal"
	default:
		return "text"
	}
}

// Column describes one canonical ledger column and how to reach its field on a Record.
type Column struct {
	Name string
	Kind Kind

	text func(*Record) *sql.NullString
	time func(*Record) *sql.NullTime
	dec  func(*Record) *decimal.NullDecimal
}

func textCol(name string, f func(*Record) *sql.NullString) Column {
	return Column{Name: name, Kind: KindText, text: f}
}

func timeCol(name string, f func(*Record) *sql.NullTime) Column {
	return Column{Name: name, Kind: KindTime, time: f}
}

func decCol(name string, f func(*Record) *decimal.NullDecimal) Column {
	return Column{Name: name, Kind: KindDecimal, dec: f}
}

// catalogue lists every canonical column in table order.
var catalogue = []Column{
	textCol("id", func(r *Record) *sql.NullString { return &r.ID }),
	timeCol("std_transaction_date", func(r *Record) *sql.NullTime { return &r.StdTransactionDate }),
	textCol("std_vendor", func(r *Record) *sql.NullString { return &r.StdVendor }),
	textCol("std_identifier", func(r *Record) *sql.NullString { return &r.StdIdentifier }),
	textCol("std_username", func(r *Record) *sql.NullString { return &r.StdUsername }),
	decCol("std_admin_fee", func(r *Record) *decimal.NullDecimal { return &r.StdAdminFee }),
	decCol("std_admin_fee_invoice", func(r *Record) *decimal.NullDecimal { return &r.StdAdminFeeInvoice }),
	decCol("std_amount", func(r *Record) *decimal.NullDecimal { return &r.StdAmount }),
	decCol("std_vendor_cost", func(r *Record) *decimal.NullDecimal { return &r.StdVendorCost }),
	textCol("std_balance_joiner", func(r *Record) *sql.NullString { return &r.StdBalanceJoiner }),
	timeCol("std_vendor_settled_date", func(r *Record) *sql.NullTime { return &r.StdVendorSettledDate }),
	timeCol("created", func(r *Record) *sql.NullTime { return &r.Created }),
	textCol("create_by", func(r *Record) *sql.NullString { return &r.CreateBy }),
	timeCol("last_updated", func(r *Record) *sql.NullTime { return &r.LastUpdated }),
	textCol("last_update_by", func(r *Record) *sql.NullString { return &r.LastUpdateBy }),
	textCol("tx_id", func(r *Record) *sql.NullString { return &r.TxID }),
	textCol("tx_type", func(r *Record) *sql.NullString { return &r.TxType }),
	textCol("username", func(r *Record) *sql.NullString { return &r.Username }),
	decCol("amount", func(r *Record) *decimal.NullDecimal { return &r.Amount }),
	textCol("balance_flow", func(r *Record) *sql.NullString { return &r.BalanceFlow }),
	decCol("balance_before", func(r *Record) *decimal.NullDecimal { return &r.BalanceBefore }),
	decCol("balance_after", func(r *Record) *decimal.NullDecimal { return &r.BalanceAfter }),
	textCol("description", func(r *Record) *sql.NullString { return &r.Description }),
	decCol("used_overdraft_before", func(r *Record) *decimal.NullDecimal { return &r.UsedOverdraftBefore }),
	decCol("used_overdraft_after", func(r *Record) *decimal.NullDecimal { return &r.UsedOverdraftAfter }),
	decCol("service_fee_paid", func(r *Record) *decimal.NullDecimal { return &r.ServiceFeePaid }),
	decCol("transaction_fee_paid", func(r *Record) *decimal.NullDecimal { return &r.TransactionFeePaid }),
	decCol("service_fee_before", func(r *Record) *decimal.NullDecimal { return &r.ServiceFeeBefore }),
	decCol("service_fee_after", func(r *Record) *decimal.NullDecimal { return &r.ServiceFeeAfter }),
	decCol("pending_balance_after", func(r *Record) *decimal.NullDecimal { return &r.PendingBalanceAfter }),
	decCol("pending_balance_before", func(r *Record) *decimal.NullDecimal { return &r.PendingBalanceBefore }),
	decCol("admin_fee", func(r *Record) *decimal.NullDecimal { return &r.AdminFee }),
	decCol("transfer_amount", func(r *Record) *decimal.NullDecimal { return &r.TransferAmount }),
	decCol("freeze_balance_before", func(r *Record) *decimal.NullDecimal { return &r.FreezeBalanceBefore }),
	decCol("freeze_balance_after", func(r *Record) *decimal.NullDecimal { return &r.FreezeBalanceAfter }),
	textCol("recon_balance_status", func(r *Record) *sql.NullString { return &r.ReconBalanceStatus }),
}

var byName = func() map[string]Column {
	m := make(map[string]Column, len(catalogue))
	for _, c := range catalogue {
		m[c.Name] = c
	}
	return m
}()

// KeyColumns are the columns that may serve as the upsert conflict key.
var KeyColumns = []string{"id", "std_identifier", "tx_id"}

// VisibleColumns is the default column selection for tabular views and exports.
var VisibleColumns = []string{
	"std_transaction_date", "std_vendor", "std_identifier", "std_username",
	"std_admin_fee", "std_admin_fee_invoice", "std_amount",
	"std_vendor_cost", "std_balance_joiner", "std_vendor_settled_date",
}

// Columns returns the full catalogue in table order.
func Columns() []Column {
	out := make([]Column, len(catalogue))
	copy(out, catalogue)
	return out
}

// ColumnNames returns every canonical column name in table order.
func ColumnNames() []string {
	names := make([]string, len(catalogue))
	for i, c := range catalogue {
		names[i] = c.Name
	}
	return names
}

// Lookup finds a canonical column by name.
func Lookup(name string) (Column, bool) {
	c, ok := byName[name]
	return c, ok
}

// IsKeyColumn reports whether name may be used as the unique key of an upload.
func IsKeyColumn(name string) bool {
	for _, k := range KeyColumns {
		if k == name {
			return true
		}
	}
	return false
}

// Ptr returns a pointer to the column's field, suitable as a sql.Rows.Scan destination.
func (c Column) Ptr(r *Record) any {
	switch c.Kind {
	case KindTime:
		return c.time(r)
	case KindDecimal:
		return c.dec(r)
	default:
		return c.text(r)
	}
}

// Value returns the column value as a driver argument: nil for nulls, otherwise a
// string, a UTC time.Time, or for decimals the value rounded to Scale as a string.
func (c Column) Value(r *Record) any {
	switch c.Kind {
	case KindTime:
		v := c.time(r)
		if !v.Valid {
			return nil
		}
		return v.Time.UTC()
	case KindDecimal:
		v := c.dec(r)
		if !v.Valid {
			return nil
		}
		return v.Decimal.StringFixed(Scale)
	default:
		v := c.text(r)
		if !v.Valid {
			return nil
		}
		return v.String
	}
}

// TextValue returns the field of a text column.
func (c Column) TextValue(r *Record) sql.NullString {
	if c.Kind != KindText {
		return sql.NullString{}
	}
	return *c.text(r)
}

// TimeValue returns the field of a time column.
func (c Column) TimeValue(r *Record) sql.NullTime {
	if c.Kind != KindTime {
		return sql.NullTime{}
	}
	return *c.time(r)
}

// DecimalValue returns the field of a decimal column.
func (c Column) DecimalValue(r *Record) decimal.NullDecimal {
	if c.Kind != KindDecimal {
		return decimal.NullDecimal{}
	}
	return *c.dec(r)
}

// SetText assigns a text column. It is a no-op for columns of another kind.
func (c Column) SetText(r *Record, v sql.NullString) {
	if c.Kind == KindText {
		*c.text(r) = v
	}
}

// SetTime assigns a time column, normalizing the instant to UTC.
func (c Column) SetTime(r *Record, v sql.NullTime) {
	if c.Kind == KindTime {
		if v.Valid {
			v.Time = v.Time.UTC()
		}
		*c.time(r) = v
	}
}

// SetDecimal assigns a decimal column.
func (c Column) SetDecimal(r *Record, v decimal.NullDecimal) {
	if c.Kind == KindDecimal {
		*c.dec(r) = v
	}
}

// Format renders the column value for display and delimited export.
// Nulls render as "", decimals with two fraction digits, times in loc.
func (c Column) Format(r *Record, loc *time.Location) string {
	switch c.Kind {
	case KindTime:
		v := c.time(r)
		if !v.Valid {
			return ""
		}
		if loc == nil {
			loc = time.UTC
		}
		return v.Time.In(loc).Format("2006-01-02 15:04:05")
	case KindDecimal:
		v := c.dec(r)
		if !v.Valid {
			return ""
		}
		return v.Decimal.StringFixed(2)
	default:
		return Text(*c.text(r))
	}
}

// JSONValue renders the column value for JSON responses.
func (c Column) JSONValue(r *Record) any {
	switch c.Kind {
	case KindTime:
		v := c.time(r)
		if !v.Valid {
			return nil
		}
		return v.Time.UTC().Format(time.RFC3339)
	case KindDecimal:
		v := c.dec(r)
		if !v.Valid {
			return nil
		}
		return v.Decimal.StringFixed(2)
	default:
		v := c.text(r)
		if !v.Valid {
			return nil
		}
		return v.String
	}
}

// Map renders the selected columns of a record keyed by column name.
// Unknown names are skipped.
func (r *Record) Map(columns []string) map[string]any {
	out := make(map[string]any, len(columns))
	for _, name := range columns {
		if c, ok := byName[name]; ok {
			out[name] = c.JSONValue(r)
		}
	}
	return out
}
