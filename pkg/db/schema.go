// Package db provides SQLite and PostgreSQL storage for the reconciliation ledger and upload history.
package db

import (
	"fmt"
	"strings"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
)

// Table names.
const (
	LedgerTable        = "ledger"
	UploadHistoryTable = "upload_history"
)

// SchemaStatements returns the DDL that creates every table and index, one statement each.
//
// ledger holds one row per reconciliation line. Rows appended with allow_duplicate = 1
// are excluded from the partial unique indexes on the key columns, so only those rows may
// share a key.
func SchemaStatements(d Dialect) []string {
	var stmts []string

	if d.IsPostgres() {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(d.schema)))
	}

	rowID := "row_id INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.IsPostgres() {
		rowID = "row_id BIGSERIAL PRIMARY KEY"
	}

	defs := []string{rowID}
	for _, c := range ledger.Columns() {
		defs = append(defs, fmt.Sprintf("%s %s", c.Name, d.ColumnType(c.Kind)))
	}
	defs = append(defs, "allow_duplicate INTEGER NOT NULL DEFAULT 0")

	ledgerTable := d.Table(LedgerTable)
	stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		ledgerTable, strings.Join(defs, ",\n    ")))

	for _, key := range ledger.KeyColumns {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_%s_key\n    ON %s(%s) WHERE allow_duplicate = 0",
			key, ledgerTable, key))
	}
	stmts = append(stmts,
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_ledger_transaction_date\n    ON %s(std_transaction_date)", ledgerTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_ledger_last_updated\n    ON %s(last_updated)", ledgerTable),
	)

	// upload_history records one row per committed upload.
	historyID := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	uploadedAt := "uploaded_at TIMESTAMP NOT NULL"
	if d.IsPostgres() {
		historyID = "id BIGSERIAL PRIMARY KEY"
		uploadedAt = "uploaded_at TIMESTAMPTZ NOT NULL"
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    %s,
    batch_id TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    policy TEXT NOT NULL,
    key_column TEXT NOT NULL,
    total_rows INTEGER NOT NULL,
    inserted INTEGER NOT NULL,
    duplicates INTEGER NOT NULL,
    updated INTEGER NOT NULL,
    %s
)`, d.Table(UploadHistoryTable), historyID, uploadedAt))

	stmts = append(stmts, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_upload_history_uploaded_at\n    ON %s(uploaded_at)",
		d.Table(UploadHistoryTable)))

	return stmts
}
