package schema

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwoerister/vdstore/internal/ir"
)

var salesFields = []FieldDefinition{
	{ID: "id", Type: "int"},
	{ID: "amount", Type: "text", TypeOverride: "float"},
	{ID: "region", Type: "text"},
	{ID: "paid", Type: "bool"},
}

func TestCoerceCastsByEffectiveType(t *testing.T) {
	record := ir.Object{
		"id":     ir.String("7"),
		"amount": ir.String("10.5"),
		"region": ir.Int(43),
		"paid":   ir.String("true"),
		"extra":  ir.String("kept"),
	}

	out, warnings := Coerce(record, salesFields)
	assert.Empty(t, warnings)
	assert.Equal(t, ir.Object{
		"id":     ir.Int(7),
		"amount": ir.Float(10.5),
		"region": ir.String("43"),
		"paid":   ir.Bool(true),
		"extra":  ir.String("kept"),
	}, out)
}

func TestCoerceBlankNumericBecomesNull(t *testing.T) {
	out, warnings := Coerce(ir.Object{"id": ir.Int(1), "amount": ir.String("   ")}, salesFields)
	assert.Empty(t, warnings)
	assert.Equal(t, ir.Null{}, out["amount"])
}

func TestCoerceFailureKeepsRawValueAndWarns(t *testing.T) {
	record := ir.Object{"id": ir.Int(1), "amount": ir.String("ten")}

	out, warnings := Coerce(record, salesFields)
	require.Len(t, warnings, 1)
	assert.Equal(t, "amount", warnings[0].Field)
	assert.Equal(t, KindFloat, warnings[0].Target)
	assert.Contains(t, warnings[0].String(), `field "amount"`)

	assert.Equal(t, ir.String("ten"), out["amount"])
	assert.Equal(t, ir.Int(1), out["id"])
}

func TestCoerceDoesNotMutateInput(t *testing.T) {
	record := ir.Object{"id": ir.String("1")}
	_, _ = Coerce(record, salesFields)
	assert.Equal(t, ir.String("1"), record["id"])
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name    string
		in      ir.Value
		kind    Kind
		want    ir.Value
		wantErr bool
	}{
		{"null stays null", ir.Null{}, KindInt, ir.Null{}, false},
		{"float truncates to int", ir.Float(2.9), KindInt, ir.Int(2), false},
		{"int to float", ir.Int(3), KindFloat, ir.Float(3), false},
		{"bool to string", ir.Bool(false), KindString, ir.String("false"), false},
		{"int to bool", ir.Int(0), KindBool, ir.Bool(false), false},
		{"array to int fails", ir.Array{ir.Int(1)}, KindInt, nil, true},
		{"bad int string", ir.String("1.5"), KindInt, nil, true},
		{"bad bool", ir.String("maybe"), KindBool, nil, true},
		{"any passes through", ir.Array{ir.Int(1)}, KindAny, ir.Array{ir.Int(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(tt.in, tt.kind)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceValueIntRange(t *testing.T) {
	_, err := CoerceValue(ir.Float(math.Ldexp(1, 63)), KindInt)
	assert.Error(t, err, "2^63 does not fit int64")

	got, err := CoerceValue(ir.Float(math.Ldexp(-1, 63)), KindInt)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(math.MinInt64), got)

	got, err = CoerceValue(ir.Float(9007199254740992), KindInt)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1<<53), got)
}

func TestParseNumber(t *testing.T) {
	f, ok := ParseNumber(" 15 ")
	assert.True(t, ok)
	assert.Equal(t, ir.Float(15), f)

	_, ok = ParseNumber("abc")
	assert.False(t, ok)

	_, ok = ParseNumber("NaN")
	assert.False(t, ok)
}
