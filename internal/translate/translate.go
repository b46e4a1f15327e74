package translate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/queryir"
	"github.com/fwoerister/vdstore/internal/schema"
)

// Request is a search as a caller phrases it.
type Request struct {
	// Query is a free-text value. When set, Filters is ignored.
	Query string `json:"q,omitempty" yaml:"q,omitempty"`
	// Filters maps field ids to literals, lists, prefixed range strings
	// or operator maps.
	Filters map[string]any `json:"filters,omitempty" yaml:"filters,omitempty"`
	// Fields lists the projected field ids. Empty projects every field.
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	// Sort is "field", "field asc" or "field desc", comma separated.
	Sort string `json:"sort,omitempty" yaml:"sort,omitempty"`
	// Distinct returns the distinct values of the single projected field.
	Distinct bool `json:"distinct,omitempty" yaml:"distinct,omitempty"`
}

// Translate compiles req against fields.
func Translate(req Request, fields []schema.FieldDefinition) (queryir.Compiled, error) {
	var (
		pred queryir.Predicate
		err  error
	)
	if req.Query != "" {
		pred = FreeText(req.Query, fields)
	} else {
		pred, err = Filter(req.Filters, fields)
		if err != nil {
			return queryir.Compiled{}, err
		}
	}

	projection, err := Projection(fields, req.Fields)
	if err != nil {
		return queryir.Compiled{}, err
	}

	sort, err := Sort(req.Sort, fields)
	if err != nil {
		return queryir.Compiled{}, err
	}

	compiled := queryir.Compiled{
		Predicate:  pred,
		Projection: projection,
		Sort:       sort,
		Distinct:   req.Distinct,
	}
	if err := compiled.Validate(); err != nil {
		return queryir.Compiled{}, fmt.Errorf("translate: %w", err)
	}
	return compiled, nil
}

// FreeText matches q against every field: an Or of one Eq per field.
// Numeric fields compare against q parsed as a number when it parses.
func FreeText(q string, fields []schema.FieldDefinition) queryir.Predicate {
	preds := make([]queryir.Predicate, 0, len(fields))
	for _, f := range fields {
		preds = append(preds, queryir.Eq{Field: f.ID, Value: coerceText(q, f.Kind())})
	}
	return queryir.Or{Predicates: preds}
}

// Filter compiles a structured filter. Keys are processed in sorted order.
// A nil or empty filter compiles to a nil predicate (match everything).
func Filter(filters map[string]any, fields []schema.FieldDefinition) (queryir.Predicate, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	idx := schema.Index(fields)

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	preds := make([]queryir.Predicate, 0, len(keys))
	for _, key := range keys {
		field, ok := idx[key]
		if !ok {
			return nil, &UnknownFieldError{Field: key, Where: "filter"}
		}
		p, err := filterClause(field, filters[key])
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", key, err)
		}
		preds = append(preds, p)
	}

	if len(preds) == 1 {
		return preds[0], nil
	}
	return queryir.And{Predicates: preds}, nil
}

func filterClause(field schema.FieldDefinition, raw any) (queryir.Predicate, error) {
	kind := field.Kind()

	switch val := raw.(type) {
	case []any:
		values := make([]ir.Value, 0, len(val))
		for i, elem := range val {
			v, err := ir.FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			values = append(values, coerceLiteral(v, kind))
		}
		return queryir.In{Field: field.ID, Values: values}, nil

	case []string:
		values := make([]ir.Value, len(val))
		for i, elem := range val {
			values[i] = coerceLiteral(ir.String(elem), kind)
		}
		return queryir.In{Field: field.ID, Values: values}, nil

	case map[string]any:
		return operatorClause(field, val)

	case string:
		if kind.Numeric() {
			if op, rest, ok := cutRangePrefix(val); ok {
				return queryir.Range{Field: field.ID, Op: op, Value: coerceText(rest, kind)}, nil
			}
		}
		return queryir.Eq{Field: field.ID, Value: coerceText(val, kind)}, nil

	default:
		v, err := ir.FromAny(raw)
		if err != nil {
			return nil, err
		}
		if _, isObj := v.(ir.Object); isObj {
			return nil, fmt.Errorf("object literal is not a valid filter value")
		}
		return queryir.Eq{Field: field.ID, Value: coerceLiteral(v, kind)}, nil
	}
}

// operatorClause compiles {"<=": 10, ">": 2}. Operators are applied in
// sorted order; more than one yields an And.
func operatorClause(field schema.FieldDefinition, ops map[string]any) (queryir.Predicate, error) {
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	preds := make([]queryir.Predicate, 0, len(keys))
	for _, k := range keys {
		op := queryir.Op(k)
		if !op.Valid() {
			return nil, fmt.Errorf("unsupported operator %q", k)
		}
		v, err := ir.FromAny(ops[k])
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", k, err)
		}
		preds = append(preds, queryir.Range{Field: field.ID, Op: op, Value: coerceLiteral(v, field.Kind())})
	}

	switch len(preds) {
	case 0:
		return nil, fmt.Errorf("empty operator map")
	case 1:
		return preds[0], nil
	default:
		return queryir.And{Predicates: preds}, nil
	}
}

// cutRangePrefix splits "<=15" into (OpLTE, "15"). Two-character operators
// are checked first.
func cutRangePrefix(s string) (queryir.Op, string, bool) {
	for _, op := range []queryir.Op{queryir.OpLTE, queryir.OpGTE, queryir.OpLT, queryir.OpGT} {
		if rest, ok := strings.CutPrefix(s, string(op)); ok {
			return op, strings.TrimSpace(rest), true
		}
	}
	return "", "", false
}

func coerceText(s string, kind schema.Kind) ir.Value {
	if kind.Numeric() {
		if f, ok := schema.ParseNumber(s); ok {
			return f
		}
	}
	return ir.String(s)
}

func coerceLiteral(v ir.Value, kind schema.Kind) ir.Value {
	if !kind.Numeric() {
		return v
	}
	switch val := v.(type) {
	case ir.String:
		return coerceText(string(val), kind)
	case ir.Int:
		return ir.Float(val)
	default:
		return v
	}
}

// Projection returns the projected field ids in schema order. An empty
// request projects every field.
func Projection(fields []schema.FieldDefinition, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return schema.IDs(fields), nil
	}

	want := make(map[string]bool, len(requested))
	idx := schema.Index(fields)
	for _, id := range requested {
		id = strings.TrimSpace(id)
		if _, ok := idx[id]; !ok {
			return nil, &UnknownFieldError{Field: id, Where: "fields"}
		}
		want[id] = true
	}

	out := make([]string, 0, len(want))
	for _, f := range fields {
		if want[f.ID] {
			out = append(out, f.ID)
		}
	}
	return out, nil
}

// Sort parses "a, b desc" into sort keys. An empty order returns nil, which
// orders by insertion.
func Sort(order string, fields []schema.FieldDefinition) ([]queryir.SortKey, error) {
	order = strings.TrimSpace(order)
	if order == "" {
		return nil, nil
	}
	idx := schema.Index(fields)

	var keys []queryir.SortKey
	for _, part := range strings.Split(order, ",") {
		words := strings.Fields(part)
		if len(words) == 0 || len(words) > 2 {
			return nil, fmt.Errorf("sort: malformed clause %q", strings.TrimSpace(part))
		}
		if _, ok := idx[words[0]]; !ok {
			return nil, &UnknownFieldError{Field: words[0], Where: "sort"}
		}
		key := queryir.SortKey{Field: words[0]}
		if len(words) == 2 {
			switch strings.ToLower(words[1]) {
			case "asc":
			case "desc":
				key.Desc = true
			default:
				return nil, fmt.Errorf("sort: direction must be asc or desc, got %q", words[1])
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}
