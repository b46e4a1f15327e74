package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/queryir"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const queryColumns = `id, pid, resource_id, query, as_of, query_hash, result_set_hash,
	record_field_hash, hash_algorithm, duplicate_of, created_at`

// Resolve returns the query with the given PID, or with the given numeric
// id when ref is not a known PID.
func (r *Registry) Resolve(ctx context.Context, ref string) (Query, error) {
	return r.resolve(ctx, r.db, ref)
}

func (r *Registry) resolve(ctx context.Context, q querier, ref string) (Query, error) {
	if ref == "" {
		return Query{}, &QueryNotFoundError{Ref: ref}
	}
	query, err := r.load(ctx, q, "pid = ?", ref)
	if err == nil || !IsQueryNotFound(err) {
		return query, err
	}
	id, convErr := strconv.ParseInt(ref, 10, 64)
	if convErr != nil {
		return Query{}, &QueryNotFoundError{Ref: ref}
	}
	query, err = r.load(ctx, q, "id = ?", id)
	if IsQueryNotFound(err) {
		return Query{}, &QueryNotFoundError{Ref: ref}
	}
	return query, err
}

// UpdateResultHash attaches the result-set hash to the query ref and returns
// the updated query. Attaching the hash a query already has is a no-op;
// attaching a different one is an error.
//
// If another query already holds the same digests, ref is marked as its
// duplicate (DuplicateOf) and keeps resolving on its own.
func (r *Registry) UpdateResultHash(ctx context.Context, ref, hash string) (Query, error) {
	if hash == "" {
		return Query{}, fmt.Errorf("update result hash %q: empty hash", ref)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Query{}, fmt.Errorf("update result hash: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	q, err := r.resolve(ctx, tx, ref)
	if err != nil {
		return Query{}, err
	}
	switch q.ResultSetHash {
	case hash:
		return q, nil
	case "":
	default:
		return Query{}, fmt.Errorf("update result hash %q: already set to %s", ref, q.ResultSetHash)
	}

	var canonicalID sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM queries
		WHERE query_hash = ? AND result_set_hash = ? AND record_field_hash = ?
		  AND duplicate_of IS NULL AND id <> ?
	`, q.QueryHash, hash, q.RecordFieldHash, q.ID).Scan(&canonicalID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Query{}, fmt.Errorf("update result hash %q: %w", ref, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE queries SET result_set_hash = ?, duplicate_of = ? WHERE id = ?`,
		hash, canonicalID, q.ID); err != nil {
		return Query{}, fmt.Errorf("update result hash %q: %w", ref, err)
	}
	if err := tx.Commit(); err != nil {
		return Query{}, fmt.Errorf("update result hash: commit: %w", err)
	}

	q.ResultSetHash = hash
	q.DuplicateOf = canonicalID.Int64
	if canonicalID.Valid {
		r.logger.Info("registered query duplicates an earlier one",
			"query_id", q.ID, "duplicate_of", canonicalID.Int64)
	}
	return q, nil
}

// Pending returns every query still lacking a result-set hash, oldest
// first.
func (r *Registry) Pending(ctx context.Context) ([]Query, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM queries WHERE result_set_hash IS NULL ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("pending: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("pending: %w", err)
	}

	out := make([]Query, 0, len(ids))
	for _, id := range ids {
		q, err := r.load(ctx, r.db, "id = ?", id)
		if err != nil {
			return nil, fmt.Errorf("pending: %w", err)
		}
		out = append(out, q)
	}
	return out, nil
}

// IDs returns the id of every registered query in ascending order.
func (r *Registry) IDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM queries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("ids: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("ids: %w", err)
	}
	return ids, nil
}

// Purge deletes every registered query and returns how many were removed.
// Minted PIDs are not withdrawn from the minter.
func (r *Registry) Purge(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM queries`)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge: rows affected: %w", err)
	}
	r.logger.Info("query registry purged", "queries", n)
	return n, nil
}

// findByDigests returns the canonical query holding the digest triple.
func (r *Registry) findByDigests(ctx context.Context, q querier, queryHash, resultHash, fieldHash string) (Query, error) {
	return r.load(ctx, q,
		"query_hash = ? AND result_set_hash = ? AND record_field_hash = ? AND duplicate_of IS NULL",
		queryHash, resultHash, fieldHash)
}

// load reads the single query matching where, with its fields and
// metadata.
func (r *Registry) load(ctx context.Context, q querier, where string, args ...any) (Query, error) {
	var (
		query       Query
		queryText   string
		asOf        int64
		resultHash  sql.NullString
		duplicateOf sql.NullInt64
		createdAt   int64
	)
	err := q.QueryRowContext(ctx,
		"SELECT "+queryColumns+" FROM queries WHERE "+where+" ORDER BY id ASC LIMIT 1", args...).
		Scan(&query.ID, &query.PID, &query.ResourceID, &queryText, &asOf, &query.QueryHash,
			&resultHash, &query.RecordFieldHash, &query.HashAlgorithm, &duplicateOf, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Query{}, &QueryNotFoundError{Ref: fmt.Sprint(args...)}
	}
	if err != nil {
		return Query{}, fmt.Errorf("load query: %w", err)
	}

	obj, err := ir.DecodeObject([]byte(queryText))
	if err != nil {
		return Query{}, fmt.Errorf("load query %d: decode: %w", query.ID, err)
	}
	if query.Compiled, err = queryir.FromCanonical(obj); err != nil {
		return Query{}, fmt.Errorf("load query %d: %w", query.ID, err)
	}
	query.AsOf = fromNanos(asOf)
	query.CreatedAt = fromNanos(createdAt)
	query.ResultSetHash = resultHash.String
	query.DuplicateOf = duplicateOf.Int64

	if query.Fields, err = loadFields(ctx, q, query.ID); err != nil {
		return Query{}, err
	}
	if query.Metadata, err = loadMetadata(ctx, q, query.ID); err != nil {
		return Query{}, err
	}
	return query, nil
}

func loadFields(ctx context.Context, q querier, id int64) ([]RecordField, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, datatype, description FROM record_fields WHERE query_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("load fields of query %d: %w", id, err)
	}
	defer rows.Close()

	fields := []RecordField{}
	for rows.Next() {
		var f RecordField
		if err := rows.Scan(&f.Name, &f.Datatype, &f.Description); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func loadMetadata(ctx context.Context, q querier, id int64) (map[string]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT key, value FROM metadata_fields WHERE query_id = ? ORDER BY key ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("load metadata of query %d: %w", id, err)
	}
	defer rows.Close()

	md := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		md[k] = v
	}
	return md, rows.Err()
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
