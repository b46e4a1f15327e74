package store

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/queryir"
	"github.com/fwoerister/vdstore/internal/schema"
)

// seedSales loads five rows and returns the instant they became visible.
func seedSales(t *testing.T, s *Store) time.Time {
	t.Helper()
	createSalesResource(t, s)
	result, err := s.Upsert(context.Background(), "sales", records(t,
		`{"id": 1, "region": "AT", "amount": 30}`,
		`{"id": 2, "region": "DE", "amount": 10}`,
		`{"id": 3, "region": "AT", "amount": 20}`,
		`{"id": 4, "region": "CH", "amount": 10}`,
		`{"id": 5, "region": "DE", "amount": 50}`,
	), false)
	require.NoError(t, err)
	require.Equal(t, 5, result.Inserted)
	return result.At
}

func ids(t *testing.T, rows []ir.Object) []int64 {
	t.Helper()
	out := make([]int64, len(rows))
	for i, row := range rows {
		id, ok := row["id"].(ir.Int)
		require.True(t, ok, "row %d has no integer id: %v", i, row)
		out[i] = int64(id)
	}
	return out
}

func TestQuery_TemporalReplay(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createSalesResource(t, s)

	first, err := s.Upsert(ctx, "sales", records(t, `{"id": 1, "amount": 10}`), false)
	require.NoError(t, err)
	second, err := s.Upsert(ctx, "sales", records(t, `{"id": 1, "amount": 20}`), false)
	require.NoError(t, err)

	assert.Equal(t, `[{"amount":10,"id":1}]`, queryAt(t, s, "sales", first.At))
	assert.Equal(t, `[{"amount":20,"id":1}]`, queryAt(t, s, "sales", time.Time{}))

	closed, err := s.Delete(ctx, "sales", queryir.Eq{Field: "id", Value: ir.Float(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	assert.Equal(t, `[]`, queryAt(t, s, "sales", time.Time{}))
	assert.Equal(t, `[{"amount":20,"id":1}]`, queryAt(t, s, "sales", second.At))
	assert.Equal(t, `[{"amount":10,"id":1}]`, queryAt(t, s, "sales", first.At), "past reads never change")
	assert.Equal(t, `[]`, queryAt(t, s, "sales", first.At.Add(-time.Nanosecond)))
}

func TestQuery_DefaultOrderIsInsertion(t *testing.T) {
	s := createTestStore(t)
	seedSales(t, s)

	result, err := s.Query(context.Background(), "sales", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(t, result.Rows))
}

func TestQuery_SortBreaksTiesByInsertion(t *testing.T) {
	s := createTestStore(t)
	seedSales(t, s)
	ctx := context.Background()

	result, err := s.Query(ctx, "sales", QueryOptions{
		Sort: []queryir.SortKey{{Field: "amount"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 3, 1, 5}, ids(t, result.Rows))

	result, err = s.Query(ctx, "sales", QueryOptions{
		Sort: []queryir.SortKey{{Field: "region", Desc: true}, {Field: "amount", Desc: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 2, 4, 1, 3}, ids(t, result.Rows))
}

func TestQuery_Pagination(t *testing.T) {
	s := createTestStore(t)
	seedSales(t, s)
	ctx := context.Background()

	result, err := s.Query(ctx, "sales", QueryOptions{Offset: 1, Limit: 2, IncludeTotal: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(t, result.Rows))
	assert.Equal(t, int64(5), result.Total)

	result, err = s.Query(ctx, "sales", QueryOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
	assert.NotNil(t, result.Rows)
}

func TestQuery_LimitClampedToRowsMax(t *testing.T) {
	s := createTestStore(t, WithRowsMax(2))
	seedSales(t, s)

	result, err := s.Query(context.Background(), "sales", QueryOptions{Limit: 10, IncludeTotal: true})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, int64(5), result.Total, "total ignores pagination")
	assert.Equal(t, 2, s.RowsMax())
}

func TestQuery_Filters(t *testing.T) {
	s := createTestStore(t)
	seedSales(t, s)
	ctx := context.Background()

	tests := []struct {
		name string
		pred queryir.Predicate
		want []int64
	}{
		{
			name: "eq string",
			pred: queryir.Eq{Field: "region", Value: ir.String("DE")},
			want: []int64{2, 5},
		},
		{
			name: "eq float matches stored integer",
			pred: queryir.Eq{Field: "id", Value: ir.Float(3)},
			want: []int64{3},
		},
		{
			name: "in",
			pred: queryir.In{Field: "region", Values: []ir.Value{ir.String("CH"), ir.String("AT")}},
			want: []int64{1, 3, 4},
		},
		{
			name: "empty in matches nothing",
			pred: queryir.In{Field: "region"},
			want: []int64{},
		},
		{
			name: "range",
			pred: queryir.Range{Field: "amount", Op: queryir.OpGTE, Value: ir.Float(20)},
			want: []int64{1, 3, 5},
		},
		{
			name: "and of ranges",
			pred: queryir.And{Predicates: []queryir.Predicate{
				queryir.Range{Field: "amount", Op: queryir.OpGT, Value: ir.Float(10)},
				queryir.Range{Field: "amount", Op: queryir.OpLT, Value: ir.Float(50)},
			}},
			want: []int64{1, 3},
		},
		{
			name: "or",
			pred: queryir.Or{Predicates: []queryir.Predicate{
				queryir.Eq{Field: "region", Value: ir.String("CH")},
				queryir.Eq{Field: "amount", Value: ir.Float(50)},
			}},
			want: []int64{4, 5},
		},
		{
			name: "eq null matches missing field",
			pred: queryir.Eq{Field: "notes", Value: ir.Null{}},
			want: []int64{1, 2, 3, 4, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.Query(ctx, "sales", QueryOptions{Predicate: tt.pred})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(t, result.Rows))
		})
	}
}

func TestQuery_ProjectionAndFields(t *testing.T) {
	s := createTestStore(t)
	seedSales(t, s)

	result, err := s.Query(context.Background(), "sales", QueryOptions{
		Projection: []string{"region", "id"},
		Limit:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1,"region":"AT"}]`, rowsJSON(t, result.Rows))

	require.Len(t, result.Fields, 2)
	assert.Equal(t, "region", result.Fields[0].ID)
	assert.Equal(t, "id", result.Fields[1].ID)
	assert.Equal(t, "int", result.Fields[1].Type)
}

func TestQuery_FieldsFollowSchemaAtAsOf(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	at := seedSales(t, s)

	widened := append(slices.Clone(salesFields), schema.FieldDefinition{ID: "notes", Type: "text"})
	require.NoError(t, s.UpdateSchema(ctx, "sales", "id", widened))

	now, err := s.Query(ctx, "sales", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, now.Fields, 4)

	past, err := s.Query(ctx, "sales", QueryOptions{AsOf: at})
	require.NoError(t, err)
	assert.Len(t, past.Fields, 3)
	assert.Equal(t, at, past.AsOf)
}

func TestQuery_Distinct(t *testing.T) {
	s := createTestStore(t)
	seedSales(t, s)
	ctx := context.Background()

	result, err := s.Query(ctx, "sales", QueryOptions{
		Projection:   []string{"region"},
		Distinct:     true,
		IncludeTotal: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"region":"AT"},{"region":"DE"},{"region":"CH"}]`, rowsJSON(t, result.Rows))
	assert.Equal(t, int64(3), result.Total)

	result, err = s.Query(ctx, "sales", QueryOptions{
		Projection: []string{"region"},
		Distinct:   true,
		Sort:       []queryir.SortKey{{Field: "region"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"region":"AT"},{"region":"CH"},{"region":"DE"}]`, rowsJSON(t, result.Rows))
}

func TestQuery_UnknownResource(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Query(context.Background(), "nope", QueryOptions{})
	assert.True(t, IsResourceNotFound(err))
}

func TestScan_MatchesQueryOrder(t *testing.T) {
	s := createTestStore(t, WithRowsMax(2))
	at := seedSales(t, s)
	ctx := context.Background()

	opts := QueryOptions{
		Predicate: queryir.Range{Field: "amount", Op: queryir.OpGT, Value: ir.Float(5)},
		Sort:      []queryir.SortKey{{Field: "amount", Desc: true}},
		AsOf:      at,
	}

	var scanned []ir.Object
	err := s.Scan(ctx, "sales", opts.Compiled(), at, func(row ir.Object) error {
		scanned = append(scanned, row)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1, 3, 2, 4}, ids(t, scanned), "scan is not paginated")

	var paged []ir.Object
	for offset := 0; ; offset += s.RowsMax() {
		opts.Offset = offset
		result, err := s.Query(ctx, "sales", opts)
		require.NoError(t, err)
		if len(result.Rows) == 0 {
			break
		}
		paged = append(paged, result.Rows...)
	}
	assert.Equal(t, rowsJSON(t, scanned), rowsJSON(t, paged))
}

func TestScan_StopsOnCallbackError(t *testing.T) {
	s := createTestStore(t)
	at := seedSales(t, s)
	stop := errors.New("stop")

	seen := 0
	err := s.Scan(context.Background(), "sales", queryir.Compiled{}, at, func(ir.Object) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

func TestHistory_UnknownKeyIsEmpty(t *testing.T) {
	s := createTestStore(t)
	seedSales(t, s)

	history, err := s.History(context.Background(), "sales", 99)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistory_CoercesKeyToFieldType(t *testing.T) {
	s := createTestStore(t)
	seedSales(t, s)

	history, err := s.History(context.Background(), "sales", "2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2", history[0].BusinessKey)
	assert.Equal(t, ir.String("DE"), history[0].Payload["region"])
}
