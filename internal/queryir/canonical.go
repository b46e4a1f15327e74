package queryir

import (
	"fmt"

	"github.com/fwoerister/vdstore/internal/ir"
)

var opTags = map[Op]string{
	OpLT:  "lt",
	OpLTE: "lte",
	OpGT:  "gt",
	OpGTE: "gte",
}

var tagOps = map[string]Op{
	"lt":  OpLT,
	"lte": OpLTE,
	"gt":  OpGT,
	"gte": OpGTE,
}

// ToValue converts a predicate to its canonical value form.
//
//	Eq    → {"op":"eq","field":f,"value":v}
//	In    → {"op":"in","field":f,"values":[...]}
//	Range → {"op":"lt|lte|gt|gte","field":f,"value":v}
//	And   → {"op":"and","args":[...]}
//	Or    → {"op":"or","args":[...]}
//	nil   → null
func ToValue(p Predicate) (ir.Value, error) {
	switch pred := p.(type) {
	case nil:
		return ir.Null{}, nil
	case Eq:
		return ir.Object{
			"op":    ir.String("eq"),
			"field": ir.String(pred.Field),
			"value": literal(pred.Value),
		}, nil
	case In:
		values := make(ir.Array, len(pred.Values))
		for i, v := range pred.Values {
			values[i] = literal(v)
		}
		return ir.Object{
			"op":     ir.String("in"),
			"field":  ir.String(pred.Field),
			"values": values,
		}, nil
	case Range:
		tag, ok := opTags[pred.Op]
		if !ok {
			return nil, fmt.Errorf("invalid range operator %q", pred.Op)
		}
		return ir.Object{
			"op":    ir.String(tag),
			"field": ir.String(pred.Field),
			"value": literal(pred.Value),
		}, nil
	case And:
		args, err := toValues(pred.Predicates)
		if err != nil {
			return nil, fmt.Errorf("and: %w", err)
		}
		return ir.Object{"op": ir.String("and"), "args": args}, nil
	case Or:
		args, err := toValues(pred.Predicates)
		if err != nil {
			return nil, fmt.Errorf("or: %w", err)
		}
		return ir.Object{"op": ir.String("or"), "args": args}, nil
	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func literal(v ir.Value) ir.Value {
	if v == nil {
		return ir.Null{}
	}
	return v
}

func toValues(preds []Predicate) (ir.Array, error) {
	out := make(ir.Array, len(preds))
	for i, sub := range preds {
		v, err := ToValue(sub)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// FromValue parses the canonical value form produced by ToValue.
func FromValue(v ir.Value) (Predicate, error) {
	if _, isNull := v.(ir.Null); isNull || v == nil {
		return nil, nil
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("predicate must be an object, got %T", v)
	}
	op, ok := obj["op"].(ir.String)
	if !ok {
		return nil, fmt.Errorf("predicate is missing \"op\"")
	}

	switch tag := string(op); tag {
	case "eq":
		field, err := stringField(obj, "field")
		if err != nil {
			return nil, err
		}
		return Eq{Field: field, Value: literal(obj["value"])}, nil
	case "in":
		field, err := stringField(obj, "field")
		if err != nil {
			return nil, err
		}
		values, ok := obj["values"].(ir.Array)
		if !ok {
			return nil, fmt.Errorf("in: \"values\" must be an array")
		}
		return In{Field: field, Values: []ir.Value(values)}, nil
	case "lt", "lte", "gt", "gte":
		field, err := stringField(obj, "field")
		if err != nil {
			return nil, err
		}
		return Range{Field: field, Op: tagOps[tag], Value: literal(obj["value"])}, nil
	case "and", "or":
		args, ok := obj["args"].(ir.Array)
		if !ok {
			return nil, fmt.Errorf("%s: \"args\" must be an array", tag)
		}
		preds := make([]Predicate, len(args))
		for i, a := range args {
			p, err := FromValue(a)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", tag, i, err)
			}
			preds[i] = p
		}
		if tag == "and" {
			return And{Predicates: preds}, nil
		}
		return Or{Predicates: preds}, nil
	default:
		return nil, fmt.Errorf("unknown predicate op %q", tag)
	}
}

func stringField(obj ir.Object, key string) (string, error) {
	s, ok := obj[key].(ir.String)
	if !ok {
		return "", fmt.Errorf("predicate %q must be a string", key)
	}
	return string(s), nil
}

// Canonical returns the canonical value form of the compiled query.
//
//	{"distinct":bool,"filter":<predicate>,"projection":[...],"sort":[{"desc":bool,"field":f}]}
func (c Compiled) Canonical() (ir.Object, error) {
	filter, err := ToValue(c.Predicate)
	if err != nil {
		return nil, err
	}
	projection := make(ir.Array, len(c.Projection))
	for i, f := range c.Projection {
		projection[i] = ir.String(f)
	}
	sort := make(ir.Array, len(c.Sort))
	for i, k := range c.Sort {
		sort[i] = ir.Object{"field": ir.String(k.Field), "desc": ir.Bool(k.Desc)}
	}
	return ir.Object{
		"distinct":   ir.Bool(c.Distinct),
		"filter":     filter,
		"projection": projection,
		"sort":       sort,
	}, nil
}

// MarshalJSON renders the canonical JSON form.
func (c Compiled) MarshalJSON() ([]byte, error) {
	obj, err := c.Canonical()
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(obj)
}

// UnmarshalJSON parses the canonical JSON form.
func (c *Compiled) UnmarshalJSON(data []byte) error {
	obj, err := ir.DecodeObject(data)
	if err != nil {
		return fmt.Errorf("decode compiled query: %w", err)
	}
	parsed, err := FromCanonical(obj)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// FromCanonical parses the value produced by Compiled.Canonical.
func FromCanonical(obj ir.Object) (Compiled, error) {
	var c Compiled

	pred, err := FromValue(obj["filter"])
	if err != nil {
		return Compiled{}, fmt.Errorf("filter: %w", err)
	}
	c.Predicate = pred

	if proj, ok := obj["projection"].(ir.Array); ok {
		for i, p := range proj {
			s, ok := p.(ir.String)
			if !ok {
				return Compiled{}, fmt.Errorf("projection[%d] must be a string", i)
			}
			c.Projection = append(c.Projection, string(s))
		}
	}

	if sort, ok := obj["sort"].(ir.Array); ok {
		for i, s := range sort {
			key, ok := s.(ir.Object)
			if !ok {
				return Compiled{}, fmt.Errorf("sort[%d] must be an object", i)
			}
			field, err := stringField(key, "field")
			if err != nil {
				return Compiled{}, fmt.Errorf("sort[%d]: %w", i, err)
			}
			desc, _ := key["desc"].(ir.Bool)
			c.Sort = append(c.Sort, SortKey{Field: field, Desc: bool(desc)})
		}
	}

	if distinct, ok := obj["distinct"].(ir.Bool); ok {
		c.Distinct = bool(distinct)
	}
	return c, nil
}
