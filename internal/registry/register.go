package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/queryir"
	"github.com/fwoerister/vdstore/internal/schema"
)

// RegisterRequest describes an executed search.
type RegisterRequest struct {
	ResourceID string
	Compiled   queryir.Compiled
	// AsOf is the instant the search was evaluated at.
	AsOf time.Time
	// ResultHash is the result-set hash, or empty when it will be attached
	// later with UpdateResultHash.
	ResultHash string
	// Fields is the projected schema, in projection order.
	Fields []schema.FieldDefinition
}

// Register stores an executed search and mints its PID.
//
// When ResultHash is set and a query with the same query hash, result hash
// and record-field hash exists, that query is returned unchanged: no new
// row and no new PID. Otherwise a new row is committed, then a PID minted
// for it. A minting failure is logged and counted but not returned; the
// query stays resolvable by id until Remint succeeds.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (Query, error) {
	if req.ResourceID == "" {
		return Query{}, fmt.Errorf("register: resource id is required")
	}
	if err := req.Compiled.Validate(); err != nil {
		return Query{}, fmt.Errorf("register: %w", err)
	}

	queryText, queryHash, err := queryDigest(req.ResourceID, req.Compiled)
	if err != nil {
		return Query{}, fmt.Errorf("register: %w", err)
	}
	fields := RecordFieldsOf(req.Fields)
	fieldHash, err := fieldsDigest(fields)
	if err != nil {
		return Query{}, fmt.Errorf("register: %w", err)
	}

	if req.ResultHash != "" {
		q, err := r.findByDigests(ctx, r.db, queryHash, req.ResultHash, fieldHash)
		if err == nil {
			r.metrics.RecordDedupHit()
			r.logger.Debug("query deduplicated", "query_id", q.ID, "pid", q.PID)
			return q, nil
		}
		if !IsQueryNotFound(err) {
			return Query{}, fmt.Errorf("register: %w", err)
		}
	}

	metadata := r.describe(ctx, req.ResourceID)
	now := r.clock.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Query{}, fmt.Errorf("register: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO queries (resource_id, query, as_of, query_hash, result_set_hash, record_field_hash, hash_algorithm, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, req.ResourceID, queryText, req.AsOf.UnixNano(), queryHash, nullString(req.ResultHash), fieldHash, ir.HashAlgorithm, now.UnixNano())
	if err != nil {
		return Query{}, fmt.Errorf("register: insert query: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return Query{}, fmt.Errorf("register: rows affected: %w", err)
	}
	if n == 0 {
		// A concurrent registration committed the same digests between the
		// lookup and the insert.
		q, err := r.findByDigests(ctx, tx, queryHash, req.ResultHash, fieldHash)
		if err != nil {
			return Query{}, fmt.Errorf("register: re-select after conflict: %w", err)
		}
		r.metrics.RecordDedupHit()
		return q, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Query{}, fmt.Errorf("register: last insert id: %w", err)
	}

	for i, f := range fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO record_fields (query_id, position, name, datatype, description) VALUES (?, ?, ?, ?, ?)`,
			id, i, f.Name, f.Datatype, f.Description); err != nil {
			return Query{}, fmt.Errorf("register: insert field %q: %w", f.Name, err)
		}
	}
	for k, v := range metadata {
		if err := putMetadata(ctx, tx, id, k, v); err != nil {
			return Query{}, fmt.Errorf("register: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Query{}, fmt.Errorf("register: commit: %w", err)
	}
	r.metrics.RecordRegistration()

	q := Query{
		ID:              id,
		ResourceID:      req.ResourceID,
		Compiled:        req.Compiled,
		AsOf:            fromNanos(req.AsOf.UnixNano()),
		QueryHash:       queryHash,
		ResultSetHash:   req.ResultHash,
		RecordFieldHash: fieldHash,
		HashAlgorithm:   ir.HashAlgorithm,
		CreatedAt:       fromNanos(now.UnixNano()),
		Fields:          fields,
		Metadata:        metadata,
	}
	r.logger.Debug("query registered", "query_id", id, "resource", req.ResourceID)

	// Minting failures are counted and logged in mint; the row stays.
	_ = r.mint(ctx, &q)
	return q, nil
}

// Remint mints PIDs for every query that lacks one and returns how many
// succeeded. Failures are joined into the returned error; the remaining
// queries are still attempted.
func (r *Registry) Remint(ctx context.Context) (int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM queries WHERE pid = '' ORDER BY id ASC`)
	if err != nil {
		return 0, fmt.Errorf("remint: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return 0, fmt.Errorf("remint: %w", err)
	}

	var (
		minted int
		errs   []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		q, err := r.load(ctx, r.db, "id = ?", id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.mint(ctx, &q); err != nil {
			errs = append(errs, fmt.Errorf("query %d: %w", id, err))
			continue
		}
		minted++
	}
	return minted, errors.Join(errs...)
}

// mint registers q's landing page with the minter, stores the PID, and
// attaches the resolve endpoint to it.
func (r *Registry) mint(ctx context.Context, q *Query) error {
	landing := r.LandingURL(q.ID)
	p, err := r.minter.Mint(ctx, landing)
	if err != nil {
		r.metrics.RecordMintFailure()
		r.logger.Warn("pid minting failed", "query_id", q.ID, "landing_url", landing, "error", err)
		return fmt.Errorf("mint: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mint: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `UPDATE queries SET pid = ? WHERE id = ?`, p, q.ID); err != nil {
		return fmt.Errorf("mint: store pid: %w", err)
	}
	if err := putMetadata(ctx, tx, q.ID, "citation_handle_pid", p); err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mint: commit: %w", err)
	}

	q.PID = p
	if q.Metadata == nil {
		q.Metadata = map[string]string{}
	}
	q.Metadata["citation_handle_pid"] = p

	if err := r.minter.Attach(ctx, p, APIURLKey, r.APIURL(q.ID)); err != nil {
		r.logger.Warn("pid attach failed", "pid", p, "key", APIURLKey, "error", err)
	}
	r.logger.Info("pid minted", "query_id", q.ID, "pid", p)
	return nil
}

// describe returns the citation metadata of resourceID. A describer error
// registers the query without citation metadata.
func (r *Registry) describe(ctx context.Context, resourceID string) map[string]string {
	if r.describer == nil {
		return map[string]string{}
	}
	info, err := r.describer.DescribePackage(ctx, resourceID)
	if err != nil {
		r.logger.Warn("package lookup failed", "resource", resourceID, "error", err)
		return map[string]string{}
	}
	return citationMetadata(info)
}

// RecordFieldsOf converts a projected schema into registry record fields.
func RecordFieldsOf(fields []schema.FieldDefinition) []RecordField {
	out := make([]RecordField, len(fields))
	for i, f := range fields {
		out[i] = RecordField{
			Name:        f.ID,
			Datatype:    f.EffectiveType(),
			Description: f.Description(),
		}
	}
	return out
}

// queryDigest returns the canonical text of compiled and the query hash of
// it on resourceID. The evaluation instant is not part of the hash.
func queryDigest(resourceID string, compiled queryir.Compiled) (string, string, error) {
	canonical, err := compiled.Canonical()
	if err != nil {
		return "", "", err
	}
	text, err := ir.MarshalCanonical(canonical)
	if err != nil {
		return "", "", err
	}
	hash, err := ir.QueryHash(ir.Object{
		"resource": ir.String(resourceID),
		"query":    canonical,
	})
	if err != nil {
		return "", "", err
	}
	return string(text), hash, nil
}

func fieldsDigest(fields []RecordField) (string, error) {
	arr := make(ir.Array, len(fields))
	for i, f := range fields {
		arr[i] = ir.Object{
			"name":        ir.String(f.Name),
			"datatype":    ir.String(f.Datatype),
			"description": ir.String(f.Description),
		}
	}
	return ir.FieldsHash(arr)
}

func putMetadata(ctx context.Context, q querier, id int64, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO metadata_fields (query_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (query_id, key) DO UPDATE SET value = excluded.value
	`, id, key, value)
	if err != nil {
		return fmt.Errorf("store metadata %q: %w", key, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
