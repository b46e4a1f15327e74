package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fwoerister/vdstore/internal/metrics"
	"github.com/fwoerister/vdstore/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial UNIQUE index on is_latest to every record table
const currentSchemaVersion = 1

// DefaultRowsMax is the row cap applied to queries when none is configured.
const DefaultRowsMax = 100

// maxGuardRetries bounds how often a lost is_latest guard is re-read.
const maxGuardRetries = 3

// Clock supplies wall-clock time for version stamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Store provides durable versioned record storage.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db       *sql.DB
	clock    Clock
	rowsMax  int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	compiler *querysql.SQLCompiler
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp versions.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithRowsMax sets the maximum number of rows a query returns.
func WithRowsMax(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.rowsMax = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		clock:    systemClock{},
		rowsMax:  DefaultRowsMax,
		logger:   slog.Default(),
		compiler: querysql.NewSQLCompiler(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// openDB opens a single-connection SQLite handle with the required pragmas.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RowsMax returns the configured row cap.
func (s *Store) RowsMax() int {
	return s.rowsMax
}

// Now returns the store clock's current time. Reads with a zero AsOf are
// evaluated at the later of this and the resource's last write stamp.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the one-latest-per-key index to record tables created
// before it was part of table provisioning. New tables get it from
// createRecordTable.
func migrateToV1(db *sql.DB) error {
	rows, err := db.Query(`SELECT id FROM resources WHERE active = 1 ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("migrate to v1: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	for _, id := range ids {
		table := recordTable(id)
		_, err := db.Exec(fmt.Sprintf(
			`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(business_key) WHERE is_latest = 1`,
			querysql.QuoteIdent(table+"_one_latest"), querysql.QuoteIdent(table)))
		if err != nil {
			return fmt.Errorf("migrate to v1: %s: %w", table, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nextStamp returns the version stamp for a write to res: the clock's time
// in unix nanoseconds, bumped past the resource's last write so stamps
// strictly increase even if the wall clock does not.
func (s *Store) nextStamp(ctx context.Context, q querier, res *Resource) (int64, error) {
	var last int64
	if err := q.QueryRowContext(ctx, `SELECT last_write FROM resources WHERE id = ?`, res.rowid).Scan(&last); err != nil {
		return 0, fmt.Errorf("read last write: %w", err)
	}

	stamp := s.clock.Now().UnixNano()
	if stamp <= last {
		stamp = last + 1
	}

	if _, err := q.ExecContext(ctx, `UPDATE resources SET last_write = ? WHERE id = ?`, stamp, res.rowid); err != nil {
		return 0, fmt.Errorf("update last write: %w", err)
	}
	res.lastWrite = stamp
	return stamp, nil
}

// current returns the instant "now" reads of res are evaluated at: the
// clock's time, or the resource's last write stamp if that is later.
func (s *Store) current(res *Resource) time.Time {
	now := s.clock.Now()
	if res.lastWrite > now.UnixNano() {
		return fromNanos(res.lastWrite)
	}
	return now
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
