package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fwoerister/vdstore/internal/ir"
)

// ConversionWarning reports a field whose value could not be cast to the
// field's type. The value was kept as given.
type ConversionWarning struct {
	Index  int      // Position of the record in its batch
	Field  string   // Field id
	Value  ir.Value // Value that failed to cast
	Target Kind     // Kind the value should have had
	Err    error
}

func (w ConversionWarning) String() string {
	return fmt.Sprintf("record %d: field %q: cannot convert %s to %s: %v",
		w.Index, w.Field, ir.Text(w.Value), w.Target, w.Err)
}

// Coerce casts every value of record according to fields and returns a new
// object. Fields unknown to the schema pass through unchanged.
func Coerce(record ir.Object, fields []FieldDefinition) (ir.Object, []ConversionWarning) {
	kinds := make(map[string]Kind, len(fields))
	for _, f := range fields {
		kinds[f.ID] = f.Kind()
	}

	out := make(ir.Object, len(record))
	var warnings []ConversionWarning
	for _, key := range record.SortedKeys() {
		val := record[key]
		kind, ok := kinds[key]
		if !ok {
			out[key] = val
			continue
		}
		cast, err := CoerceValue(val, kind)
		if err != nil {
			warnings = append(warnings, ConversionWarning{Field: key, Value: val, Target: kind, Err: err})
			out[key] = val
			continue
		}
		out[key] = cast
	}
	return out, warnings
}

// CoerceValue casts a single value to kind. Null stays null, and blank
// strings become null for numeric kinds.
func CoerceValue(v ir.Value, kind Kind) (ir.Value, error) {
	if _, isNull := v.(ir.Null); isNull || v == nil {
		return ir.Null{}, nil
	}

	switch kind {
	case KindString:
		return toString(v)
	case KindInt:
		return toInt(v)
	case KindFloat:
		return toFloat(v)
	case KindBool:
		return toBool(v)
	default:
		return v, nil
	}
}

// ParseNumber parses user input as a float. It is the numeric coercion used
// by query translation.
func ParseNumber(s string) (ir.Float, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return ir.Float(f), true
}

func toString(v ir.Value) (ir.Value, error) {
	switch val := v.(type) {
	case ir.String:
		return val, nil
	case ir.Int, ir.Float, ir.Bool:
		return ir.String(ir.Text(val)), nil
	default:
		return nil, fmt.Errorf("not a scalar")
	}
}

func toInt(v ir.Value) (ir.Value, error) {
	switch val := v.(type) {
	case ir.Int:
		return val, nil
	case ir.Float:
		f := math.Trunc(float64(val))
		if f >= math.MaxInt64 || f < math.MinInt64 { // float64(MaxInt64) is 2^63
			return nil, fmt.Errorf("out of int64 range")
		}
		return ir.Int(int64(f)), nil
	case ir.String:
		s := strings.TrimSpace(string(val))
		if s == "" {
			return ir.Null{}, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return ir.Int(n), nil
	default:
		return nil, fmt.Errorf("not a number")
	}
}

func toFloat(v ir.Value) (ir.Value, error) {
	switch val := v.(type) {
	case ir.Float:
		return val, nil
	case ir.Int:
		return ir.Float(float64(val)), nil
	case ir.String:
		s := strings.TrimSpace(string(val))
		if s == "" {
			return ir.Null{}, nil
		}
		f, ok := ParseNumber(s)
		if !ok {
			return nil, fmt.Errorf("invalid number %q", s)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("not a number")
	}
}

func toBool(v ir.Value) (ir.Value, error) {
	switch val := v.(type) {
	case ir.Bool:
		return val, nil
	case ir.String:
		b, err := strconv.ParseBool(strings.TrimSpace(string(val)))
		if err != nil {
			return nil, err
		}
		return ir.Bool(b), nil
	case ir.Int:
		return ir.Bool(val != 0), nil
	default:
		return nil, fmt.Errorf("not a boolean")
	}
}
