package registry

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fwoerister/vdstore/internal/metrics"
	"github.com/fwoerister/vdstore/internal/pid"
	"github.com/fwoerister/vdstore/internal/queryir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// APIURLKey is the PID value that points at the query's resolve endpoint.
const APIURLKey = "API_URL"

// Clock supplies registration timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Query is a registered search.
type Query struct {
	ID         int64
	PID        string // Empty until minting succeeds
	ResourceID string
	Compiled   queryir.Compiled
	// AsOf is the instant the query was evaluated at. Resolving replays the
	// query at this instant.
	AsOf time.Time

	QueryHash       string
	ResultSetHash   string // Empty until known
	RecordFieldHash string
	HashAlgorithm   string

	// DuplicateOf is the id of the query that already held the same digests
	// when this query's result hash was attached. Zero otherwise.
	DuplicateOf int64

	CreatedAt time.Time
	Fields    []RecordField
	Metadata  map[string]string
}

// Ref returns the identifier to cite the query by: its PID, or its numeric
// id while unminted.
func (q Query) Ref() string {
	if q.PID != "" {
		return q.PID
	}
	return strconv.FormatInt(q.ID, 10)
}

// RecordField is one projected field of a registered query.
type RecordField struct {
	Name        string `json:"name"`
	Datatype    string `json:"datatype"`
	Description string `json:"description,omitempty"`
}

// Registry stores registered queries in SQLite.
type Registry struct {
	db        *sql.DB
	minter    pid.Minter
	describer PackageDescriber
	siteURL   string
	clock     Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithMinter sets the PID minter. Defaults to a LocalMinter with prefix
// "local".
func WithMinter(m pid.Minter) Option {
	return func(r *Registry) { r.minter = m }
}

// WithDescriber sets the source of citation metadata. Without one, queries
// carry no citation metadata.
func WithDescriber(d PackageDescriber) Option {
	return func(r *Registry) { r.describer = d }
}

// WithSiteURL sets the base URL of landing pages and resolve links.
func WithSiteURL(url string) Option {
	return func(r *Registry) { r.siteURL = strings.TrimRight(url, "/") }
}

// WithClock sets the clock used to stamp registrations.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Open creates or opens the registry database at path.
// The database uses the same pragmas as the record store.
func Open(path string, opts ...Option) (*Registry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to registry: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply registry schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}

	r := &Registry{
		db:     db,
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.minter == nil {
		r.minter = pid.NewLocalMinter("local")
	}
	return r, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// LandingURL returns the landing page of query id.
func (r *Registry) LandingURL(id int64) string {
	return fmt.Sprintf("%s/querystore/view_query?id=%d", r.siteURL, id)
}

// APIURL returns the resolve endpoint of query id.
func (r *Registry) APIURL(id int64) string {
	return fmt.Sprintf("%s/api/3/action/querystore_resolve?pid=%d", r.siteURL, id)
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
