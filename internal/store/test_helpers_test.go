package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/schema"
	"github.com/fwoerister/vdstore/internal/testutil"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var salesFields = []schema.FieldDefinition{
	{ID: "id", Type: "int"},
	{ID: "region", Type: "text"},
	{ID: "amount", Type: "numeric"},
}

// createTestStore creates a new store in a temp dir with a step clock
// advancing one second per reading.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithClock(testutil.NewStepClock(testEpoch, time.Second))}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createSalesResource creates resource "sales" keyed by id with salesFields.
func createSalesResource(t *testing.T, s *Store) Resource {
	t.Helper()
	ctx := context.Background()
	res, err := s.CreateResource(ctx, "sales", "id")
	require.NoError(t, err)
	require.NoError(t, s.UpdateSchema(ctx, "sales", "id", salesFields))
	return res
}

// records decodes JSON objects into a batch.
func records(t *testing.T, docs ...string) []ir.Object {
	t.Helper()
	out := make([]ir.Object, len(docs))
	for i, doc := range docs {
		obj, err := ir.DecodeObject([]byte(doc))
		require.NoError(t, err)
		out[i] = obj
	}
	return out
}

// rowsJSON renders rows as canonical JSON for comparison.
func rowsJSON(t *testing.T, rows []ir.Object) string {
	t.Helper()
	arr := make(ir.Array, len(rows))
	for i, r := range rows {
		arr[i] = r
	}
	b, err := ir.MarshalCanonical(arr)
	require.NoError(t, err)
	return string(b)
}

// queryAt returns the canonical JSON of every row visible at asOf.
func queryAt(t *testing.T, s *Store, id string, asOf time.Time) string {
	t.Helper()
	res, err := s.Query(context.Background(), id, QueryOptions{AsOf: asOf})
	require.NoError(t, err)
	return rowsJSON(t, res.Rows)
}
