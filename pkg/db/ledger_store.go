package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/logger"
)

const (
	// maxParams keeps multi-row statements under SQLite's historical 999 bind limit.
	maxParams = 900
	// lookupChunk is the IN-list size of existing-key lookups.
	lookupChunk = 500
)

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Writer is the transactional write surface used by the upload pipeline.
type Writer interface {
	// ExistingKeys returns the subset of keys already stored under column. With upsertable
	// set, rows stored with allow_duplicate are ignored; they are never conflict targets.
	ExistingKeys(ctx context.Context, column string, keys []string, upsertable bool) (map[string]bool, error)
	// Insert appends records, writing only the given columns.
	Insert(ctx context.Context, columns []string, records []ledger.Record, allowDuplicate bool) (int64, error)
	// Upsert applies records keyed on column through a staging table.
	Upsert(ctx context.Context, column string, columns []string, records []ledger.Record) (int64, error)
}

// Filter selects ledger rows for reporting.
type Filter struct {
	// From and To bound std_transaction_date as [From, To). Zero values leave the side open.
	From time.Time
	To   time.Time
	// Contains maps text columns to case-insensitive substrings.
	Contains map[string]string
}

// LedgerStats summarizes stored rows.
type LedgerStats struct {
	TotalRecords int64
	LastUpdated  sql.NullTime
}

// LedgerStore reads and writes the ledger table.
type LedgerStore struct {
	conn *Connection
}

// NewLedgerStore creates a new LedgerStore instance.
func NewLedgerStore(conn *Connection) *LedgerStore {
	return &LedgerStore{conn: conn}
}

// InTx runs fn against a Writer bound to a single transaction.
func (s *LedgerStore) InTx(ctx context.Context, fn func(Writer) error) error {
	return s.conn.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(&ledgerTx{tx: tx, d: s.conn.dialect})
	})
}

type ledgerTx struct {
	tx *sql.Tx
	d  Dialect
}

func (w *ledgerTx) ExistingKeys(ctx context.Context, column string, keys []string, upsertable bool) (map[string]bool, error) {
	if !ledger.IsKeyColumn(column) {
		return nil, fmt.Errorf("column %q is not a key column", column)
	}

	// A failed statement aborts a PostgreSQL transaction; the savepoint lets the
	// caller carry on after a lookup failure.
	if _, err := w.tx.ExecContext(ctx, "SAVEPOINT key_lookup"); err != nil {
		return nil, &StorageError{Op: "create savepoint", Err: err}
	}

	found, err := w.lookupKeys(ctx, column, keys, upsertable)
	if err != nil {
		if _, rbErr := w.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT key_lookup"); rbErr != nil {
			return nil, &StorageError{Op: "look up existing keys", Err: fmt.Errorf("%v (rollback to savepoint: %w)", err, rbErr)}
		}
		return nil, &StorageError{Op: "look up existing keys", Err: err}
	}

	if _, err := w.tx.ExecContext(ctx, "RELEASE SAVEPOINT key_lookup"); err != nil {
		return nil, &StorageError{Op: "release savepoint", Err: err}
	}

	return found, nil
}

func (w *ledgerTx) lookupKeys(ctx context.Context, column string, keys []string, upsertable bool) (map[string]bool, error) {
	found := make(map[string]bool)
	scope := ""
	if upsertable {
		scope = " AND allow_duplicate = 0"
	}
	for start := 0; start < len(keys); start += lookupChunk {
		end := min(start+lookupChunk, len(keys))

		p := &params{d: w.d}
		marks := make([]string, 0, end-start)
		for _, k := range keys[start:end] {
			marks = append(marks, p.add(k))
		}

		query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IN (%s)%s",
			column, w.d.Table(LedgerTable), column, strings.Join(marks, ", "), scope)

		rows, err := w.tx.QueryContext(ctx, query, p.args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, err
			}
			found[k] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return found, nil
}

func (w *ledgerTx) Insert(ctx context.Context, columns []string, records []ledger.Record, allowDuplicate bool) (int64, error) {
	cols, err := resolveColumns(columns)
	if err != nil {
		return 0, err
	}

	flag := 0
	if allowDuplicate {
		flag = 1
	}

	names := append(columnNames(cols), "allow_duplicate")
	n, err := w.insertRows(ctx, w.d.Table(LedgerTable), names, len(records), func(i int, p *params) []string {
		marks := make([]string, 0, len(names))
		for _, c := range cols {
			marks = append(marks, p.add(c.Value(&records[i])))
		}
		return append(marks, p.add(flag))
	})
	if err != nil {
		return n, &StorageError{Op: "insert ledger rows", Err: err}
	}
	return n, nil
}

func (w *ledgerTx) Upsert(ctx context.Context, column string, columns []string, records []ledger.Record) (int64, error) {
	if !ledger.IsKeyColumn(column) {
		return 0, fmt.Errorf("column %q is not a key column", column)
	}
	cols, err := resolveColumns(columns)
	if err != nil {
		return 0, err
	}
	if !contains(columns, column) {
		return 0, fmt.Errorf("key column %q is not among the upserted columns", column)
	}
	if len(records) == 0 {
		return 0, nil
	}

	staging := "ledger_staging_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	defs := []string{"seq INTEGER NOT NULL"}
	for _, c := range cols {
		defs = append(defs, fmt.Sprintf("%s %s", c.Name, w.d.ColumnType(c.Kind)))
	}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", staging, strings.Join(defs, ", "))
	if w.d.IsPostgres() {
		create += " ON COMMIT DROP"
	}
	if _, err := w.tx.ExecContext(ctx, create); err != nil {
		return 0, &StorageError{Op: "create staging table", Err: err}
	}
	defer w.dropStaging(ctx, staging)

	// A failed statement aborts a PostgreSQL transaction; rolling back to the savepoint
	// keeps the transaction usable so the staging table can still be dropped.
	if _, err := w.tx.ExecContext(ctx, "SAVEPOINT staged_upsert"); err != nil {
		return 0, &StorageError{Op: "create savepoint", Err: err}
	}
	n, err := w.applyStaged(ctx, staging, column, cols, records)
	if err != nil {
		if _, rbErr := w.tx.ExecContext(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT staged_upsert"); rbErr != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(rbErr).Msg("failed to roll back staged upsert")
		}
		return 0, err
	}
	if _, err := w.tx.ExecContext(ctx, "RELEASE SAVEPOINT staged_upsert"); err != nil {
		return 0, &StorageError{Op: "release savepoint", Err: err}
	}
	return n, nil
}

func (w *ledgerTx) dropStaging(ctx context.Context, staging string) {
	if _, err := w.tx.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+staging); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("table", staging).Msg("failed to drop staging table")
	}
}

// applyStaged fills the staging table and merges it into the ledger in one statement.
func (w *ledgerTx) applyStaged(ctx context.Context, staging, column string, cols []ledger.Column, records []ledger.Record) (int64, error) {
	names := append([]string{"seq"}, columnNames(cols)...)
	if _, err := w.insertRows(ctx, staging, names, len(records), func(i int, p *params) []string {
		marks := []string{p.add(i)}
		for _, c := range cols {
			marks = append(marks, p.add(c.Value(&records[i])))
		}
		return marks
	}); err != nil {
		return 0, &StorageError{Op: "fill staging table", Err: err}
	}

	var sets []string
	for _, c := range cols {
		if c.Name != column {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c.Name, c.Name))
		}
	}
	if len(sets) == 0 {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", column, column))
	}

	list := strings.Join(columnNames(cols), ", ")
	stmt := fmt.Sprintf(`INSERT INTO %s (%s)
SELECT %s FROM %s WHERE true
ON CONFLICT (%s) WHERE allow_duplicate = 0 DO UPDATE SET %s`,
		w.d.Table(LedgerTable), list, list, staging, column, strings.Join(sets, ", "))

	res, err := w.tx.ExecContext(ctx, stmt)
	if err != nil {
		return 0, &StorageError{Op: "apply staged upsert", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "count upserted rows", Err: err}
	}
	return n, nil
}

// insertRows issues multi-row INSERT statements, chunked to stay under maxParams.
func (w *ledgerTx) insertRows(ctx context.Context, table string, names []string, count int, row func(int, *params) []string) (int64, error) {
	perChunk := max(1, maxParams/max(1, len(names)))
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(names, ", "))

	var total int64
	for start := 0; start < count; start += perChunk {
		end := min(start+perChunk, count)

		p := &params{d: w.d}
		tuples := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			tuples = append(tuples, "("+strings.Join(row(i, p), ", ")+")")
		}

		res, err := w.tx.ExecContext(ctx, head+strings.Join(tuples, ", "), p.args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Query returns ledger rows matching the filter, ordered by transaction date.
func (s *LedgerStore) Query(ctx context.Context, f Filter) ([]ledger.Record, error) {
	d := s.conn.dialect
	p := &params{d: d}
	var where []string

	if !f.From.IsZero() {
		where = append(where, "std_transaction_date >= "+p.add(f.From.UTC()))
	}
	if !f.To.IsZero() {
		where = append(where, "std_transaction_date < "+p.add(f.To.UTC()))
	}

	filterCols := make([]string, 0, len(f.Contains))
	for name := range f.Contains {
		filterCols = append(filterCols, name)
	}
	sort.Strings(filterCols)
	for _, name := range filterCols {
		value := strings.TrimSpace(f.Contains[name])
		if value == "" {
			continue
		}
		col, ok := ledger.Lookup(name)
		if !ok || col.Kind != ledger.KindText {
			return nil, &ledger.ValidationError{Column: "filter", Value: name, Reason: "filters apply to text columns only"}
		}
		where = append(where, fmt.Sprintf(`%s %s %s ESCAPE '\'`,
			name, d.ContainsOp(), p.add("%"+escapeLike(value)+"%")))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selectList(), d.Table(LedgerTable))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY std_transaction_date IS NULL, std_transaction_date, row_id"

	return s.queryRecords(ctx, "query ledger rows", query, p.args...)
}

// BalanceHistory returns every row with a last_updated timestamp in timestamp order,
// regardless of any report filter.
func (s *LedgerStore) BalanceHistory(ctx context.Context) ([]ledger.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE last_updated IS NOT NULL ORDER BY last_updated, row_id",
		selectList(), s.conn.dialect.Table(LedgerTable))
	return s.queryRecords(ctx, "query balance history", query)
}

// RecentTotals returns the number of rows and the std_amount total for transactions on or after since.
func (s *LedgerStore) RecentTotals(ctx context.Context, since time.Time) (int64, decimal.Decimal, error) {
	d := s.conn.dialect
	p := &params{d: d}
	query := fmt.Sprintf("SELECT std_amount FROM %s WHERE std_transaction_date >= %s",
		d.Table(LedgerTable), p.add(since.UTC()))

	rows, err := s.conn.db.QueryContext(ctx, query, p.args...)
	if err != nil {
		return 0, decimal.Zero, &StorageError{Op: "query recent totals", Err: err}
	}
	defer rows.Close()

	// Summed here rather than with SUM(), which goes through floating point on SQLite.
	var count int64
	total := decimal.Zero
	for rows.Next() {
		var amount decimal.NullDecimal
		if err := rows.Scan(&amount); err != nil {
			return 0, decimal.Zero, &StorageError{Op: "query recent totals", Err: err}
		}
		count++
		if amount.Valid {
			total = total.Add(amount.Decimal)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, decimal.Zero, &StorageError{Op: "query recent totals", Err: err}
	}
	return count, total, nil
}

// GetStats retrieves ledger statistics.
func (s *LedgerStore) GetStats(ctx context.Context) (*LedgerStats, error) {
	var stats LedgerStats
	table := s.conn.dialect.Table(LedgerTable)

	if err := s.conn.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&stats.TotalRecords); err != nil {
		return nil, &StorageError{Op: "count ledger rows", Err: err}
	}

	// MAX() loses the column type on SQLite, so read the newest row instead.
	err := s.conn.db.QueryRowContext(ctx,
		"SELECT last_updated FROM "+table+" WHERE last_updated IS NOT NULL ORDER BY last_updated DESC LIMIT 1",
	).Scan(&stats.LastUpdated)
	if err != nil && err != sql.ErrNoRows {
		return nil, &StorageError{Op: "get last update time", Err: err}
	}

	return &stats, nil
}

func (s *LedgerStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]ledger.Record, error) {
	rows, err := s.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	cols := ledger.Columns()
	var records []ledger.Record
	for rows.Next() {
		var rec ledger.Record
		dest := make([]any, 0, len(cols)+1)
		dest = append(dest, &rec.RowID)
		for _, c := range cols {
			dest = append(dest, c.Ptr(&rec))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &StorageError{Op: op, Err: fmt.Errorf("failed to scan ledger row: %w", err)}
		}
		normalizeTimes(&rec, cols)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}

	return records, nil
}

// normalizeTimes pins scanned timestamps to UTC; drivers may return them in the session zone.
func normalizeTimes(rec *ledger.Record, cols []ledger.Column) {
	for _, c := range cols {
		if c.Kind == ledger.KindTime {
			c.SetTime(rec, c.TimeValue(rec))
		}
	}
}

func selectList() string {
	return "row_id, " + strings.Join(ledger.ColumnNames(), ", ")
}

func resolveColumns(names []string) ([]ledger.Column, error) {
	cols := make([]ledger.Column, 0, len(names))
	for _, name := range names {
		c, ok := ledger.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown ledger column %q", name)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func columnNames(cols []ledger.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
