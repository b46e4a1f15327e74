package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/queryir"
	"github.com/fwoerister/vdstore/internal/querysql"
	"github.com/fwoerister/vdstore/internal/schema"
)

// QueryOptions describes a temporal read.
type QueryOptions struct {
	Predicate  queryir.Predicate
	Projection []string
	Sort       []queryir.SortKey
	Distinct   bool

	Offset int
	// Limit caps the rows returned. Zero, negative or above the store's
	// rows-max means rows-max.
	Limit int
	// AsOf is the instant the read is evaluated at. Zero means now.
	AsOf time.Time
	// IncludeTotal also counts the unpaginated result.
	IncludeTotal bool
}

// Compiled returns the storage-level query of the options.
func (o QueryOptions) Compiled() queryir.Compiled {
	return queryir.Compiled{
		Predicate:  o.Predicate,
		Projection: o.Projection,
		Sort:       o.Sort,
		Distinct:   o.Distinct,
	}
}

// QueryResult is an ordered row sequence plus the fields that produced it.
type QueryResult struct {
	Rows []ir.Object
	// Fields describes the projected fields in projection order, as the
	// schema declared them at AsOf.
	Fields []schema.FieldDefinition
	// Total is the unpaginated row count when IncludeTotal was set.
	Total int64
	// AsOf is the instant the read was evaluated at.
	AsOf time.Time
}

// Version is one stored version of a business record.
type Version struct {
	Seq         int64
	BusinessKey string
	Payload     ir.Object
	CreatedAt   time.Time
	ValidTo     *time.Time
	IsLatest    bool
	ContentHash string
}

// Query returns the rows of a resource visible at opts.AsOf, filtered,
// sorted and paginated. Ties in the sort order break by insertion order.
func (s *Store) Query(ctx context.Context, id string, opts QueryOptions) (QueryResult, error) {
	start := time.Now()
	defer func() { s.metrics.RecordDbOperation("query", time.Since(start)) }()

	res, err := s.lookup(ctx, s.db, id)
	if err != nil {
		return QueryResult{}, err
	}

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = s.current(res)
	}
	limit := opts.Limit
	if limit <= 0 || limit > s.rowsMax {
		limit = s.rowsMax
	}

	sel := querysql.Select{
		Table:  res.table(),
		Query:  opts.Compiled(),
		AsOf:   asOf.UnixNano(),
		Offset: max(opts.Offset, 0),
		Limit:  limit,
	}

	result := QueryResult{Rows: []ir.Object{}, AsOf: asOf.UTC()}
	err = s.scan(ctx, sel, func(row ir.Object) error {
		result.Rows = append(result.Rows, row)
		return nil
	})
	if err != nil {
		return QueryResult{}, fmt.Errorf("query %q: %w", id, err)
	}

	if opts.IncludeTotal {
		countSQL, params, err := s.compiler.CompileCount(sel)
		if err != nil {
			return QueryResult{}, fmt.Errorf("query %q: %w", id, err)
		}
		if err := s.db.QueryRowContext(ctx, countSQL, params...).Scan(&result.Total); err != nil {
			return QueryResult{}, fmt.Errorf("query %q: count: %w", id, err)
		}
	}

	fields, err := fieldsAt(ctx, s.db, res.rowid, sel.AsOf)
	if err != nil {
		return QueryResult{}, fmt.Errorf("query %q: %w", id, err)
	}
	result.Fields = ProjectFields(fields, opts.Projection)

	return result, nil
}

// Scan streams every row of compiled visible at asOf, unpaginated, in the
// same order Query returns them. fn's error stops the scan and is returned.
// fn must not call back into the store: the scan holds its only connection.
func (s *Store) Scan(ctx context.Context, id string, compiled queryir.Compiled, asOf time.Time, fn func(ir.Object) error) error {
	res, err := s.lookup(ctx, s.db, id)
	if err != nil {
		return err
	}
	sel := querysql.Select{Table: res.table(), Query: compiled, AsOf: asOf.UnixNano()}
	if err := s.scan(ctx, sel, fn); err != nil {
		return fmt.Errorf("scan %q: %w", id, err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, sel querysql.Select, fn func(ir.Object) error) error {
	query, params, err := s.compiler.Compile(sel)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row ir.Object
		if sel.Query.Distinct {
			row, err = scanDistinctRow(rows, sel.Query.Projection[0])
		} else {
			row, err = scanPayloadRow(rows, sel.Query.Projection)
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return nil
}

func scanPayloadRow(rows *sql.Rows, projection []string) (ir.Object, error) {
	var (
		seq     int64
		payload string
	)
	if err := rows.Scan(&seq, &payload); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	obj, err := ir.DecodeObject([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode row %d: %w", seq, err)
	}
	if len(projection) > 0 {
		obj = obj.Project(projection)
	}
	return obj, nil
}

func scanDistinctRow(rows *sql.Rows, field string) (ir.Object, error) {
	var (
		value    sql.NullString
		firstSeq int64
	)
	if err := rows.Scan(&value, &firstSeq); err != nil {
		return nil, fmt.Errorf("scan distinct row: %w", err)
	}
	if !value.Valid {
		return ir.Object{field: ir.Null{}}, nil
	}
	v, err := ir.Decode([]byte(value.String))
	if err != nil {
		return nil, fmt.Errorf("decode distinct value: %w", err)
	}
	return ir.Object{field: v}, nil
}

// ProjectFields returns the definitions of projection in projection order.
// Projected ids the schema does not declare get a bare definition. An empty
// projection returns all fields.
func ProjectFields(fields []schema.FieldDefinition, projection []string) []schema.FieldDefinition {
	if len(projection) == 0 {
		return fields
	}
	idx := schema.Index(fields)
	out := make([]schema.FieldDefinition, 0, len(projection))
	for _, id := range projection {
		if f, ok := idx[id]; ok {
			out = append(out, f)
		} else {
			out = append(out, schema.FieldDefinition{ID: id})
		}
	}
	return out
}

// History returns every version of a business key in creation order.
// keyValue is the business-key value as it appears in the records.
func (s *Store) History(ctx context.Context, id string, keyValue any) ([]Version, error) {
	res, err := s.lookup(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	v, err := ir.FromAny(keyValue)
	if err != nil {
		return nil, fmt.Errorf("history: business key: %w", err)
	}
	fields, err := openFields(ctx, s.db, res.rowid)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if f, ok := schema.Index(fields)[res.PrimaryKey]; ok {
		if cast, err := schema.CoerceValue(v, f.Kind()); err == nil {
			v = cast
		}
	}
	key, err := ir.MarshalCanonical(v)
	if err != nil {
		return nil, fmt.Errorf("history: business key: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, business_key, payload, content_hash, created_at, valid_to, is_latest FROM "+
			querysql.QuoteIdent(res.table())+" WHERE business_key = ? ORDER BY seq ASC",
		string(key))
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", id, err)
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		var (
			ver       Version
			payload   string
			createdAt int64
			validTo   sql.NullInt64
			isLatest  int
		)
		if err := rows.Scan(&ver.Seq, &ver.BusinessKey, &payload, &ver.ContentHash, &createdAt, &validTo, &isLatest); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if ver.Payload, err = ir.DecodeObject([]byte(payload)); err != nil {
			return nil, fmt.Errorf("decode version %d: %w", ver.Seq, err)
		}
		ver.CreatedAt = fromNanos(createdAt)
		if validTo.Valid {
			t := fromNanos(validTo.Int64)
			ver.ValidTo = &t
		}
		ver.IsLatest = isLatest == 1
		versions = append(versions, ver)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}
