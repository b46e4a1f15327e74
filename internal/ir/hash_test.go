package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHashIgnoresKeyOrder(t *testing.T) {
	a, err := DecodeObject([]byte(`{"id":1,"amount":10,"region":{"code":"AT","name":"Austria"}}`))
	require.NoError(t, err)
	b, err := DecodeObject([]byte(`{"region":{"name":"Austria","code":"AT"},"amount":10,"id":1}`))
	require.NoError(t, err)

	ha, err := RecordHash(a)
	require.NoError(t, err)
	hb, err := RecordHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64, "SHA-256 hex is 64 characters")
}

func TestRecordHashIntegralFloatEqualsInt(t *testing.T) {
	ha, err := RecordHash(Object{"amount": Int(10)})
	require.NoError(t, err)
	hb, err := RecordHash(Object{"amount": Float(10)})
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestRecordHashChangesWithPayload(t *testing.T) {
	ha, err := RecordHash(Object{"id": Int(1), "amount": Int(10)})
	require.NoError(t, err)
	hb, err := RecordHash(Object{"id": Int(1), "amount": Int(20)})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestHashDomainSeparation(t *testing.T) {
	obj := Object{"id": Int(1)}

	record, err := RecordHash(obj)
	require.NoError(t, err)
	query, err := QueryHash(obj)
	require.NoError(t, err)
	fields, err := FieldsHash(obj)
	require.NoError(t, err)

	assert.NotEqual(t, record, query)
	assert.NotEqual(t, record, fields)
	assert.NotEqual(t, query, fields)
}

func TestHashRejectsUnsupported(t *testing.T) {
	_, err := QueryHash(map[string]any{"bad": struct{}{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), DomainQuery)
}

func TestResultSetHashMatchesCanonicalArray(t *testing.T) {
	rows := []Object{
		{"id": Int(1), "amount": Int(10)},
		{"id": Int(2), "amount": Float(2.5)},
	}

	streamed, err := ResultSetHash(rows)
	require.NoError(t, err)

	whole, err := Hash(DomainResultSet, Array{rows[0], rows[1]})
	require.NoError(t, err)

	assert.Equal(t, whole, streamed)
}

func TestResultSetHashEmpty(t *testing.T) {
	streamed, err := ResultSetHash(nil)
	require.NoError(t, err)

	whole, err := Hash(DomainResultSet, Array{})
	require.NoError(t, err)

	assert.Equal(t, whole, streamed)
}

func TestResultSetHashIsOrderSensitive(t *testing.T) {
	r1 := Object{"id": Int(1)}
	r2 := Object{"id": Int(2)}

	h1, err := ResultSetHash([]Object{r1, r2})
	require.NoError(t, err)
	h2, err := ResultSetHash([]Object{r2, r1})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestResultHasherCount(t *testing.T) {
	h := NewResultHasher()
	require.NoError(t, h.Add(Object{"id": Int(1)}))
	require.NoError(t, h.Add(Object{"id": Int(2)}))
	assert.Equal(t, 2, h.Count())
	assert.Len(t, h.Sum(), 64)
}
