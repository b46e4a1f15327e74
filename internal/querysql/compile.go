package querysql

import (
	"fmt"
	"strings"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/queryir"
)

// Select describes one temporal read against a record table.
type Select struct {
	// Table is the record table name. It is quoted by the compiler.
	Table string
	// Query is the compiled filter, projection and sort.
	Query queryir.Compiled
	// AsOf is the instant, in unix nanoseconds, the read is evaluated at.
	AsOf int64
	// Offset skips rows of the ordered sequence.
	Offset int
	// Limit caps the number of rows. Zero means no limit.
	Limit int
}

// SQLCompiler compiles queryir queries to parameterized SQL for SQLite.
//
// Record payloads live in a JSON text column and every field access goes
// through json_extract with a bound path. Temporal visibility is
//
//	created_at <= asOf AND (valid_to IS NULL OR valid_to > asOf)
//
// CRITICAL: ALL row queries end with the seq tiebreaker so the row sequence
// is fully determined; result-set hashes depend on it.
// CRITICAL: All values and paths are parameterized, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile returns the SQL selecting the visible rows of s.
//
// Row queries select (seq, payload). Distinct queries select
// (value, first_seq) where value is the JSON text of the single projected
// field and first_seq the lowest seq carrying it.
func (c *SQLCompiler) Compile(s Select) (string, []any, error) {
	if err := s.Query.Validate(); err != nil {
		return "", nil, fmt.Errorf("compile: %w", err)
	}
	if s.Query.Distinct {
		return c.compileDistinct(s)
	}

	where, params, err := c.compileWhere(s)
	if err != nil {
		return "", nil, err
	}

	orderBy, orderParams, err := c.stableOrderKey(s.Query.Sort)
	if err != nil {
		return "", nil, err
	}
	params = append(params, orderParams...)

	sql := fmt.Sprintf("SELECT seq, payload FROM %s WHERE %s ORDER BY %s",
		QuoteIdent(s.Table), where, orderBy)
	sql, params = paginate(sql, params, s.Offset, s.Limit)
	return sql, params, nil
}

// CompileCount returns the SQL counting the unpaginated result of s.
func (c *SQLCompiler) CompileCount(s Select) (string, []any, error) {
	if err := s.Query.Validate(); err != nil {
		return "", nil, fmt.Errorf("compile count: %w", err)
	}

	where, params, err := c.compileWhere(s)
	if err != nil {
		return "", nil, err
	}

	if s.Query.Distinct {
		path, err := JSONPath(s.Query.Projection[0])
		if err != nil {
			return "", nil, err
		}
		sql := fmt.Sprintf("SELECT COUNT(*) FROM (SELECT payload -> ? AS value FROM %s WHERE %s GROUP BY value)",
			QuoteIdent(s.Table), where)
		return sql, append([]any{path}, params...), nil
	}

	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", QuoteIdent(s.Table), where)
	return sql, params, nil
}

// compileDistinct groups visible rows by the JSON text of the projected
// field. Sort keys may only name that field.
func (c *SQLCompiler) compileDistinct(s Select) (string, []any, error) {
	field := s.Query.Projection[0]
	path, err := JSONPath(field)
	if err != nil {
		return "", nil, err
	}

	where, whereParams, err := c.compileWhere(s)
	if err != nil {
		return "", nil, err
	}

	var order []string
	for _, k := range s.Query.Sort {
		if k.Field != field {
			return "", nil, fmt.Errorf("distinct on %q cannot sort by %q", field, k.Field)
		}
		order = append(order, "json_extract(value, '$') COLLATE BINARY "+direction(k.Desc))
	}
	order = append(order, "first_seq ASC")

	params := append([]any{path}, whereParams...)
	sql := fmt.Sprintf("SELECT payload -> ? AS value, MIN(seq) AS first_seq FROM %s WHERE %s GROUP BY value ORDER BY %s",
		QuoteIdent(s.Table), where, strings.Join(order, ", "))
	sql, params = paginate(sql, params, s.Offset, s.Limit)
	return sql, params, nil
}

// compileWhere combines temporal visibility with the query predicate.
func (c *SQLCompiler) compileWhere(s Select) (string, []any, error) {
	where := "created_at <= ? AND (valid_to IS NULL OR valid_to > ?)"
	params := []any{s.AsOf, s.AsOf}

	if s.Query.Predicate != nil {
		predSQL, predParams, err := c.CompilePredicate(s.Query.Predicate)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		where += " AND (" + predSQL + ")"
		params = append(params, predParams...)
	}
	return where, params, nil
}

// stableOrderKey returns the ORDER BY clause for the sort keys.
// MANDATORY: every row query ends with seq ASC.
// COLLATE BINARY keeps text ordering independent of connection collations.
func (c *SQLCompiler) stableOrderKey(keys []queryir.SortKey) (string, []any, error) {
	parts := make([]string, 0, len(keys)+1)
	params := make([]any, 0, len(keys))
	for _, k := range keys {
		path, err := JSONPath(k.Field)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "json_extract(payload, ?) COLLATE BINARY "+direction(k.Desc))
		params = append(params, path)
	}
	parts = append(parts, "seq ASC")
	return strings.Join(parts, ", "), params, nil
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

func paginate(sql string, params []any, offset, limit int) (string, []any) {
	switch {
	case limit > 0:
		sql += " LIMIT ?"
		params = append(params, int64(limit))
	case offset > 0:
		sql += " LIMIT -1"
	default:
		return sql, params
	}
	if offset > 0 {
		sql += " OFFSET ?"
		params = append(params, int64(offset))
	}
	return sql, params
}

// CompilePredicate compiles a predicate to a WHERE clause fragment over
// the payload column. A nil predicate compiles to "1 = 1".
// CRITICAL: Values are NEVER interpolated - always ? placeholders.
func (c *SQLCompiler) CompilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Eq:
		return c.compileEq(pred)
	case queryir.In:
		return c.compileIn(pred)
	case queryir.Range:
		return c.compileRange(pred)
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "0 = 1")
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEq compiles to "json_extract(payload, ?) = ?", or IS NULL for a
// null literal.
func (c *SQLCompiler) compileEq(eq queryir.Eq) (string, []any, error) {
	path, err := JSONPath(eq.Field)
	if err != nil {
		return "", nil, err
	}
	param, err := ToParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", eq.Field, err)
	}
	if param == nil {
		return "json_extract(payload, ?) IS NULL", []any{path}, nil
	}
	return "json_extract(payload, ?) = ?", []any{path, param}, nil
}

// compileIn compiles membership. An empty list matches nothing; a null
// member also matches a missing or null field.
func (c *SQLCompiler) compileIn(in queryir.In) (string, []any, error) {
	if len(in.Values) == 0 {
		return "0 = 1", nil, nil
	}
	path, err := JSONPath(in.Field)
	if err != nil {
		return "", nil, err
	}

	var (
		placeholders []string
		params       = []any{path}
		matchNull    bool
	)
	for i, v := range in.Values {
		param, err := ToParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("field %q [%d]: %w", in.Field, i, err)
		}
		if param == nil {
			matchNull = true
			continue
		}
		placeholders = append(placeholders, "?")
		params = append(params, param)
	}

	switch {
	case len(placeholders) == 0:
		return "json_extract(payload, ?) IS NULL", []any{path}, nil
	case matchNull:
		sql := fmt.Sprintf("(json_extract(payload, ?) IN (%s) OR json_extract(payload, ?) IS NULL)",
			strings.Join(placeholders, ", "))
		return sql, append(params, path), nil
	default:
		sql := fmt.Sprintf("json_extract(payload, ?) IN (%s)", strings.Join(placeholders, ", "))
		return sql, params, nil
	}
}

func (c *SQLCompiler) compileRange(r queryir.Range) (string, []any, error) {
	if !r.Op.Valid() {
		return "", nil, fmt.Errorf("invalid range operator %q", r.Op)
	}
	path, err := JSONPath(r.Field)
	if err != nil {
		return "", nil, err
	}
	param, err := ToParam(r.Value)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", r.Field, err)
	}
	if param == nil {
		return "", nil, fmt.Errorf("field %q: range comparison against null", r.Field)
	}
	return fmt.Sprintf("json_extract(payload, ?) %s ?", r.Op), []any{path, param}, nil
}

func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}

	parts := make([]string, 0, len(preds))
	var params []any
	for _, p := range preds {
		sql, ps, err := c.CompilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, ps...)
	}
	return strings.Join(parts, sep), params, nil
}

// JSONPath returns the json_extract path addressing a top-level field.
func JSONPath(field string) (string, error) {
	if field == "" || strings.ContainsAny(field, "\"\\") {
		return "", fmt.Errorf("field %q cannot be addressed", field)
	}
	return `$."` + field + `"`, nil
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ToParam converts a scalar ir.Value to a Go native SQL parameter.
// Arrays and objects are never comparable as SQL parameters.
func ToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case nil, ir.Null:
		return nil, nil
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Float:
		return float64(val), nil
	case ir.Bool:
		return bool(val), nil
	case ir.Array:
		return nil, fmt.Errorf("array cannot be used as SQL parameter")
	case ir.Object:
		return nil, fmt.Errorf("object cannot be used as SQL parameter")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
