package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fwoerister/vdstore/internal/querysql"
	"github.com/fwoerister/vdstore/internal/schema"
)

// Resource is a named collection of versioned business records.
type Resource struct {
	ID         string
	PrimaryKey string
	Active     bool
	CreatedAt  time.Time

	rowid     int64
	lastWrite int64 // Stamp of the latest write, unix nanoseconds
}

func (r *Resource) table() string {
	return recordTable(r.rowid)
}

func recordTable(rowid int64) string {
	return "records_" + strconv.FormatInt(rowid, 10)
}

// ResourceInfo is a resource with the field list visible at some instant.
type ResourceInfo struct {
	Resource
	Fields []schema.FieldDefinition
}

// CreateResource registers a resource and provisions its record table.
//
// Idempotent: creating an existing resource with the same primary key
// returns it unchanged, and re-activates it if it had been dropped.
// A different primary key is a SchemaConflictError.
func (s *Store) CreateResource(ctx context.Context, id, primaryKey string) (Resource, error) {
	if id == "" {
		return Resource{}, fmt.Errorf("create resource: resource id must not be empty")
	}
	if err := schema.ValidateFieldID(primaryKey); err != nil {
		return Resource{}, fmt.Errorf("create resource %q: primary key: %w", id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Resource{}, fmt.Errorf("create resource: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := s.findResource(ctx, tx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := s.clock.Now().UnixNano()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO resources (resource_id, primary_key, active, created_at)
			VALUES (?, ?, 1, ?)
		`, id, primaryKey, now)
		if err != nil {
			return Resource{}, fmt.Errorf("create resource: insert: %w", err)
		}
		rowid, err := result.LastInsertId()
		if err != nil {
			return Resource{}, fmt.Errorf("create resource: last insert id: %w", err)
		}
		res = &Resource{ID: id, PrimaryKey: primaryKey, Active: true, CreatedAt: fromNanos(now), rowid: rowid}
	case err != nil:
		return Resource{}, fmt.Errorf("create resource: %w", err)
	case res.PrimaryKey != primaryKey:
		return Resource{}, &SchemaConflictError{ResourceID: id, Existing: res.PrimaryKey, Requested: primaryKey}
	}

	if err := createRecordTable(ctx, tx, res.table()); err != nil {
		return Resource{}, fmt.Errorf("create resource: %w", err)
	}
	if !res.Active {
		if _, err := tx.ExecContext(ctx, `UPDATE resources SET active = 1 WHERE id = ?`, res.rowid); err != nil {
			return Resource{}, fmt.Errorf("create resource: activate: %w", err)
		}
		res.Active = true
	}

	if err := tx.Commit(); err != nil {
		return Resource{}, fmt.Errorf("create resource: commit: %w", err)
	}

	s.logger.Debug("resource created", "resource", id, "primary_key", primaryKey, "table", res.table())
	return *res, nil
}

// createRecordTable provisions a record table and its indexes:
//   - (created_at ASC, valid_to DESC, seq) for temporal range scans
//   - (is_latest DESC, business_key ASC) for current-state lookups
//   - (business_key) for direct access
//   - UNIQUE (business_key) WHERE is_latest = 1
func createRecordTable(ctx context.Context, q querier, table string) error {
	t := querysql.QuoteIdent(table)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			business_key TEXT NOT NULL,
			payload TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			valid_to INTEGER,
			is_latest INTEGER NOT NULL DEFAULT 1
		)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(created_at ASC, valid_to DESC, seq)`,
			querysql.QuoteIdent(table+"_temporal"), t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(is_latest DESC, business_key ASC)`,
			querysql.QuoteIdent(table+"_latest"), t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(business_key)`,
			querysql.QuoteIdent(table+"_key"), t),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(business_key) WHERE is_latest = 1`,
			querysql.QuoteIdent(table+"_one_latest"), t),
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("provision %s: %w", table, err)
		}
	}
	return nil
}

// UpdateSchema replaces the field list of a resource. The previous list is
// closed at the same instant the new one opens. primaryKey may be empty;
// any other value must equal the resource's primary key.
func (s *Store) UpdateSchema(ctx context.Context, id, primaryKey string, fields []schema.FieldDefinition) error {
	if err := schema.Validate(fields); err != nil {
		return fmt.Errorf("update schema %q: %w", id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update schema: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := s.lookup(ctx, tx, id)
	if err != nil {
		return err
	}
	if primaryKey != "" && primaryKey != res.PrimaryKey {
		return &SchemaConflictError{ResourceID: id, Existing: res.PrimaryKey, Requested: primaryKey}
	}

	stamp, err := s.nextStamp(ctx, tx, res)
	if err != nil {
		return fmt.Errorf("update schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE resource_fields SET valid_to = ?
		WHERE resource = ? AND valid_to IS NULL
	`, stamp, res.rowid); err != nil {
		return fmt.Errorf("update schema: close generation: %w", err)
	}

	for i, f := range fields {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO resource_fields
			(resource, position, field_id, type, type_override, label, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, res.rowid, i, f.ID, f.Type, f.TypeOverride, f.Label, f.Notes, stamp); err != nil {
			return fmt.Errorf("update schema: insert field %q: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update schema: commit: %w", err)
	}

	s.logger.Debug("schema updated", "resource", id, "fields", len(fields))
	return nil
}

// Drop removes a resource's records physically and marks it inactive.
// Unlike Delete this is an erasure; history is lost.
func (s *Store) Drop(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("drop: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := s.lookup(ctx, tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+querysql.QuoteIdent(res.table())); err != nil {
		return fmt.Errorf("drop %q: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE resources SET active = 0 WHERE id = ?`, res.rowid); err != nil {
		return fmt.Errorf("drop %q: deactivate: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("drop: commit: %w", err)
	}

	s.logger.Info("resource dropped", "resource", id)
	return nil
}

// ResourceFields returns the resource and the field list visible at asOf,
// or now when asOf is nil.
func (s *Store) ResourceFields(ctx context.Context, id string, asOf *time.Time) (ResourceInfo, error) {
	res, err := s.lookup(ctx, s.db, id)
	if err != nil {
		return ResourceInfo{}, err
	}

	at := s.current(res)
	if asOf != nil {
		at = *asOf
	}
	fields, err := fieldsAt(ctx, s.db, res.rowid, at.UnixNano())
	if err != nil {
		return ResourceInfo{}, err
	}
	return ResourceInfo{Resource: *res, Fields: fields}, nil
}

// Resources returns the ids of all active resources in id order.
func (s *Store) Resources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id FROM resources
		WHERE active = 1
		ORDER BY resource_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return ids, nil
}

// ResourceExists reports whether id names an active resource.
func (s *Store) ResourceExists(ctx context.Context, id string) (bool, error) {
	_, err := s.lookup(ctx, s.db, id)
	switch {
	case err == nil:
		return true, nil
	case IsResourceNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// findResource reads a resource row, active or not.
// Returns sql.ErrNoRows if none exists.
func (s *Store) findResource(ctx context.Context, q querier, id string) (*Resource, error) {
	var (
		res       Resource
		active    int
		createdAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, resource_id, primary_key, active, created_at, last_write
		FROM resources WHERE resource_id = ?
	`, id).Scan(&res.rowid, &res.ID, &res.PrimaryKey, &active, &createdAt, &res.lastWrite)
	if err != nil {
		return nil, err
	}
	res.Active = active == 1
	res.CreatedAt = fromNanos(createdAt)
	return &res, nil
}

// lookup returns an active resource or a ResourceNotFoundError.
func (s *Store) lookup(ctx context.Context, q querier, id string) (*Resource, error) {
	res, err := s.findResource(ctx, q, id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !res.Active) {
		return nil, &ResourceNotFoundError{ResourceID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup resource %q: %w", id, err)
	}
	return res, nil
}

// fieldsAt returns the schema generation visible at stamp.
func fieldsAt(ctx context.Context, q querier, rowid, stamp int64) ([]schema.FieldDefinition, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT field_id, type, type_override, label, notes
		FROM resource_fields
		WHERE resource = ? AND created_at <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY position ASC
	`, rowid, stamp, stamp)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	return scanFields(rows)
}

// openFields returns the current schema generation.
func openFields(ctx context.Context, q querier, rowid int64) ([]schema.FieldDefinition, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT field_id, type, type_override, label, notes
		FROM resource_fields
		WHERE resource = ? AND valid_to IS NULL
		ORDER BY position ASC
	`, rowid)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	return scanFields(rows)
}

// scanFields reads field rows and closes rows.
// Returns an empty slice (not nil) when there are none.
func scanFields(rows *sql.Rows) ([]schema.FieldDefinition, error) {
	defer rows.Close()

	fields := []schema.FieldDefinition{}
	for rows.Next() {
		var f schema.FieldDefinition
		if err := rows.Scan(&f.ID, &f.Type, &f.TypeOverride, &f.Label, &f.Notes); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return fields, nil
}
