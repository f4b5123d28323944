package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// Options selects and locates the database.
type Options struct {
	// Driver is "sqlite3" (default) or "pgx".
	Driver string
	// DSN is a file path for SQLite or a connection URL for PostgreSQL.
	DSN string
	// Schema qualifies tables on PostgreSQL. Ignored on SQLite.
	Schema string
}

// Connection manages a database connection and the dialect used to talk to it.
type Connection struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens a database connection and initializes the schema.
// SQLite runs in WAL mode with a busy timeout; PostgreSQL goes through pgx's database/sql driver.
func Open(ctx context.Context, opts Options) (*Connection, error) {
	driver := strings.ToLower(opts.Driver)
	if driver == "" {
		driver = DriverSQLite
	}

	var connStr string
	switch driver {
	case DriverSQLite:
		if opts.DSN == "" {
			return nil, fmt.Errorf("sqlite database path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(opts.DSN), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", opts.DSN)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres DSN is empty (set RECON_DB_DSN or DATABASE_URL)")
		}
		connStr = opts.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn := &Connection{
		db:      db,
		dialect: NewDialect(driver, opts.Schema),
	}

	if err := conn.InitializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return conn, nil
}

// Close closes the database connection.
func (c *Connection) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// GetDB returns the underlying *sql.DB instance.
func (c *Connection) GetDB() *sql.DB {
	return c.db
}

// Dialect returns the SQL dialect of the connection.
func (c *Connection) Dialect() Dialect {
	return c.dialect
}

// InitializeSchema creates the schema, tables and indexes if they don't exist.
func (c *Connection) InitializeSchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements(c.dialect) {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// Transaction executes a function within a transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (c *Connection) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
