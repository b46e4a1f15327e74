package querysql

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/queryir"
)

// renderCompiled formats SQL and its parameters for golden comparison.
func renderCompiled(sql string, params []any) []byte {
	var buf bytes.Buffer
	buf.WriteString(sql)
	buf.WriteString("\n")
	for i, p := range params {
		fmt.Fprintf(&buf, "$%d %T %v\n", i+1, p, p)
	}
	return buf.Bytes()
}

func assertGolden(t *testing.T, name, sql string, params []any) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, renderCompiled(sql, params))
}

const asOf = int64(1700000000000000000)

func TestCompile_Golden(t *testing.T) {
	compiler := NewSQLCompiler()

	tests := []struct {
		name  string
		sel   Select
		count bool
	}{
		{
			name: "select_all",
			sel:  Select{Table: "records_1", AsOf: asOf},
		},
		{
			name: "select_range_sorted_paginated",
			sel: Select{
				Table: "records_1",
				AsOf:  asOf,
				Query: queryir.Compiled{
					Predicate:  queryir.Range{Field: "amount", Op: queryir.OpGTE, Value: ir.Float(15)},
					Projection: []string{"id", "amount"},
					Sort:       []queryir.SortKey{{Field: "amount", Desc: true}},
				},
				Offset: 10,
				Limit:  100,
			},
		},
		{
			name: "select_free_text",
			sel: Select{
				Table: "records_1",
				AsOf:  asOf,
				Query: queryir.Compiled{
					Predicate: queryir.Or{Predicates: []queryir.Predicate{
						queryir.Eq{Field: "id", Value: ir.String("AT")},
						queryir.Eq{Field: "region", Value: ir.String("AT")},
					}},
				},
			},
		},
		{
			name: "select_distinct",
			sel: Select{
				Table: "records_2",
				AsOf:  asOf,
				Query: queryir.Compiled{
					Predicate:  queryir.In{Field: "region", Values: []ir.Value{ir.String("AT"), ir.Null{}}},
					Projection: []string{"region"},
					Sort:       []queryir.SortKey{{Field: "region"}},
					Distinct:   true,
				},
				Limit: 5,
			},
		},
		{
			name:  "count_filtered",
			count: true,
			sel: Select{
				Table: "records_1",
				AsOf:  asOf,
				Query: queryir.Compiled{
					Predicate: queryir.And{Predicates: []queryir.Predicate{
						queryir.Eq{Field: "active", Value: ir.Bool(true)},
						queryir.Range{Field: "amount", Op: queryir.OpLT, Value: ir.Int(20)},
					}},
				},
				Limit: 100,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				sql    string
				params []any
				err    error
			)
			if tt.count {
				sql, params, err = compiler.CompileCount(tt.sel)
			} else {
				sql, params, err = compiler.Compile(tt.sel)
			}
			require.NoError(t, err)
			assertGolden(t, tt.name, sql, params)
		})
	}
}

func TestCompile_OrderByMandatory(t *testing.T) {
	compiler := NewSQLCompiler()

	queries := []queryir.Compiled{
		{},
		{Predicate: queryir.Eq{Field: "id", Value: ir.Int(1)}},
		{Sort: []queryir.SortKey{{Field: "id"}}},
	}
	for _, q := range queries {
		sql, _, err := compiler.Compile(Select{Table: "t", Query: q, AsOf: asOf})
		require.NoError(t, err)
		assert.Contains(t, sql, "seq ASC")
		assert.Contains(t, sql, "created_at <= ? AND (valid_to IS NULL OR valid_to > ?)")
	}
}

func TestCompile_ValuesNeverInterpolated(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(Select{
		Table: "t",
		AsOf:  asOf,
		Query: queryir.Compiled{
			Predicate: queryir.Eq{Field: "name", Value: ir.String("x' OR 1=1 --")},
		},
	})
	require.NoError(t, err)
	assert.NotContains(t, sql, "OR 1=1")
	assert.Contains(t, params, "x' OR 1=1 --")
	assert.Contains(t, params, `$."name"`)
}

func TestCompilePredicate(t *testing.T) {
	compiler := NewSQLCompiler()

	tests := []struct {
		name       string
		pred       queryir.Predicate
		wantSQL    string
		wantParams []any
	}{
		{
			name:    "nil",
			pred:    nil,
			wantSQL: "1 = 1",
		},
		{
			name:       "eq null",
			pred:       queryir.Eq{Field: "a", Value: ir.Null{}},
			wantSQL:    "json_extract(payload, ?) IS NULL",
			wantParams: []any{`$."a"`},
		},
		{
			name:    "empty in",
			pred:    queryir.In{Field: "a"},
			wantSQL: "0 = 1",
		},
		{
			name:       "in only null",
			pred:       queryir.In{Field: "a", Values: []ir.Value{ir.Null{}}},
			wantSQL:    "json_extract(payload, ?) IS NULL",
			wantParams: []any{`$."a"`},
		},
		{
			name:       "in",
			pred:       queryir.In{Field: "a", Values: []ir.Value{ir.Int(1), ir.Float(2.5)}},
			wantSQL:    "json_extract(payload, ?) IN (?, ?)",
			wantParams: []any{`$."a"`, int64(1), 2.5},
		},
		{
			name:    "empty and",
			pred:    queryir.And{},
			wantSQL: "1 = 1",
		},
		{
			name:    "empty or",
			pred:    queryir.Or{},
			wantSQL: "0 = 1",
		},
		{
			name: "nested",
			pred: queryir.Or{Predicates: []queryir.Predicate{
				queryir.Range{Field: "a", Op: queryir.OpGT, Value: ir.Int(1)},
				queryir.And{Predicates: []queryir.Predicate{
					queryir.Eq{Field: "b", Value: ir.String("x")},
					queryir.Eq{Field: "c", Value: ir.Bool(false)},
				}},
			}},
			wantSQL:    "(json_extract(payload, ?) > ?) OR ((json_extract(payload, ?) = ?) AND (json_extract(payload, ?) = ?))",
			wantParams: []any{`$."a"`, int64(1), `$."b"`, "x", `$."c"`, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := compiler.CompilePredicate(tt.pred)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	compiler := NewSQLCompiler()

	tests := []struct {
		name string
		q    queryir.Compiled
	}{
		{"array literal", queryir.Compiled{Predicate: queryir.Eq{Field: "a", Value: ir.Array{}}}},
		{"range against null", queryir.Compiled{Predicate: queryir.Range{Field: "a", Op: queryir.OpLT, Value: ir.Null{}}}},
		{"quoted field", queryir.Compiled{Predicate: queryir.Eq{Field: `a"b`, Value: ir.Int(1)}}},
		{"distinct without projection", queryir.Compiled{Distinct: true}},
		{"distinct sorted by other field", queryir.Compiled{
			Projection: []string{"a"},
			Sort:       []queryir.SortKey{{Field: "b"}},
			Distinct:   true,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := compiler.Compile(Select{Table: "t", Query: tt.q, AsOf: asOf})
			require.Error(t, err)
		})
	}
}

func TestPaginate(t *testing.T) {
	sql, params := paginate("Q", nil, 0, 0)
	assert.Equal(t, "Q", sql)
	assert.Empty(t, params)

	sql, params = paginate("Q", nil, 5, 0)
	assert.Equal(t, "Q LIMIT -1 OFFSET ?", sql)
	assert.Equal(t, []any{int64(5)}, params)

	sql, params = paginate("Q", nil, 0, 3)
	assert.Equal(t, "Q LIMIT ?", sql)
	assert.Equal(t, []any{int64(3)}, params)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"records_1"`, QuoteIdent("records_1"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}
