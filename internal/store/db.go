package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options configures Open.
type Options struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string
	// DSN is a file path or file: URI for SQLite, a connection URL or
	// keyword string for PostgreSQL.
	DSN string
	// MaxOpenConns caps the pool. Zero selects 1 for SQLite and 10 for
	// PostgreSQL.
	MaxOpenConns int
}

// DB wraps a database/sql pool with qlearn-specific operations.
type DB struct {
	conn   *sql.DB
	driver string
	dsn    string
}

// Open opens the configured backend and verifies the connection.
// Migrations are not applied; call Migrate.
func Open(ctx context.Context, opts Options) (*DB, error) {
	var (
		sqlDriver string
		dsn       string
		maxConns  = opts.MaxOpenConns
	)

	switch opts.Driver {
	case DriverSQLite, "":
		var err error
		dsn, err = sqliteDSN(opts.DSN)
		if err != nil {
			return nil, err
		}
		sqlDriver = "sqlite"
		if maxConns == 0 {
			maxConns = 1
		}
	case DriverPostgres:
		sqlDriver = "pgx"
		dsn = opts.DSN
		if maxConns == 0 {
			maxConns = 10
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}

	conn, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(maxConns)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect to %s: %w", opts.Driver, err)
	}

	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	return &DB{conn: conn, driver: driver, dsn: opts.DSN}, nil
}

// OpenSQLite opens an embedded database at path, creating parent
// directories as needed, and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	db, err := Open(ctx, Options{Driver: DriverSQLite, DSN: path})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// sqliteDSN turns a plain path into a file: URI with the pragmas every
// connection needs. file: URIs are passed through unchanged.
func sqliteDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	if dsn == "" {
		return "", fmt.Errorf("open database: empty sqlite path")
	}

	if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
		return "", fmt.Errorf("create db directory: %w", err)
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dsn), nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the backend is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Driver returns the backend driver name.
func (db *DB) Driver() string {
	return db.driver
}

// rebind rewrites ? placeholders to $n for PostgreSQL. Queries in this
// package never contain a literal question mark.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.rebind(query), args...)
}

// transaction runs fn within a transaction. Statements run on tx must be
// passed through rebind.
func (db *DB) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// toUnix and fromUnix convert timestamps for BIGINT columns.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
