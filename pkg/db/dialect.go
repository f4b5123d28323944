package db

import (
	"fmt"
	"strings"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Dialect captures the SQL differences between SQLite and PostgreSQL.
type Dialect struct {
	driver string
	schema string
}

// NewDialect returns the dialect for a driver. schema is only used on PostgreSQL.
func NewDialect(driver, schema string) Dialect {
	if schema == "" {
		schema = "public"
	}
	return Dialect{driver: driver, schema: schema}
}

// Driver returns the database/sql driver name.
func (d Dialect) Driver() string {
	return d.driver
}

// IsPostgres reports whether the dialect targets PostgreSQL.
func (d Dialect) IsPostgres() bool {
	return d.driver == DriverPostgres
}

// Table returns the (schema-qualified on PostgreSQL) name of a table.
func (d Dialect) Table(name string) string {
	if d.IsPostgres() {
		return quoteIdent(d.schema) + "." + name
	}
	return name
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d.IsPostgres() {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// ContainsOp is the case-insensitive pattern operator.
// SQLite's LIKE is already case-insensitive for ASCII.
func (d Dialect) ContainsOp() string {
	if d.IsPostgres() {
		return "ILIKE"
	}
	return "LIKE"
}

// ColumnType maps a column kind to its storage type. SQLite keeps decimals as TEXT;
// NUMERIC affinity there would convert them to REAL.
func (d Dialect) ColumnType(kind ledger.Kind) string {
	switch kind {
	case ledger.KindTime:
		if d.IsPostgres() {
			return "TIMESTAMPTZ"
		}
		return "TIMESTAMP"
	case ledger.KindDecimal:
		if d.IsPostgres() {
			return fmt.Sprintf("NUMERIC(18,%d)", ledger.Scale)
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

// params tracks bind parameters while a statement is assembled.
type params struct {
	d    Dialect
	args []any
}

func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return p.d.Placeholder(len(p.args))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// escapeLike escapes LIKE wildcards so user input matches literally with ESCAPE '\'.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
