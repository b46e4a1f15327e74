package queryir

import (
	"fmt"

	"github.com/fwoerister/vdstore/internal/ir"
)

// Predicate represents a filter condition over record payload fields.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Eq matches rows whose field equals Value.
type Eq struct {
	Field string
	Value ir.Value
}

func (Eq) predicateNode() {}

// In matches rows whose field equals any of Values.
// An empty Values list matches nothing.
type In struct {
	Field  string
	Values []ir.Value
}

func (In) predicateNode() {}

// Op is a range comparison operator.
type Op string

const (
	OpLT  Op = "<"
	OpLTE Op = "<="
	OpGT  Op = ">"
	OpGTE Op = ">="
)

// Valid reports whether op is one of the four range operators.
func (op Op) Valid() bool {
	switch op {
	case OpLT, OpLTE, OpGT, OpGTE:
		return true
	default:
		return false
	}
}

// Range matches rows whose field compares to Value under Op.
type Range struct {
	Field string
	Op    Op
	Value ir.Value
}

func (Range) predicateNode() {}

// And matches rows satisfying all Predicates.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or matches rows satisfying any of Predicates.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// SortKey orders rows by one payload field.
type SortKey struct {
	Field string
	Desc  bool
}

// Compiled is a complete storage-level query: filter, projection and sort.
// The as-of instant is deliberately not part of it; the registry stores it
// alongside.
type Compiled struct {
	// Predicate filters rows. nil matches every row.
	Predicate Predicate
	// Projection lists the field ids returned, in output order.
	// Empty means every field of the payload.
	Projection []string
	// Sort orders rows. Insertion order always breaks ties; an empty Sort
	// means insertion order only.
	Sort []SortKey
	// Distinct returns distinct values of the single projected field.
	Distinct bool
}

// Fields returns the field ids referenced by p, in first-seen order.
func Fields(p Predicate) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch pred := p.(type) {
		case Eq:
			add(&out, seen, pred.Field)
		case In:
			add(&out, seen, pred.Field)
		case Range:
			add(&out, seen, pred.Field)
		case And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case Or:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		}
	}
	walk(p)
	return out
}

func add(out *[]string, seen map[string]bool, field string) {
	if !seen[field] {
		seen[field] = true
		*out = append(*out, field)
	}
}

// Validate checks that every node is well formed.
func Validate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Eq:
		return validateField(pred.Field)
	case In:
		return validateField(pred.Field)
	case Range:
		if !pred.Op.Valid() {
			return fmt.Errorf("invalid range operator %q", pred.Op)
		}
		return validateField(pred.Field)
	case And:
		return validateAll(pred.Predicates)
	case Or:
		return validateAll(pred.Predicates)
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func validateAll(preds []Predicate) error {
	for i, sub := range preds {
		if sub == nil {
			return fmt.Errorf("[%d]: nil predicate", i)
		}
		if err := Validate(sub); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return nil
}

func validateField(field string) error {
	if field == "" {
		return fmt.Errorf("predicate field must not be empty")
	}
	return nil
}

// Validate checks the predicate and sort/projection consistency.
func (c Compiled) Validate() error {
	if err := Validate(c.Predicate); err != nil {
		return fmt.Errorf("predicate: %w", err)
	}
	for i, k := range c.Sort {
		if k.Field == "" {
			return fmt.Errorf("sort[%d]: field must not be empty", i)
		}
	}
	if c.Distinct && len(c.Projection) != 1 {
		return fmt.Errorf("distinct requires exactly one projected field, got %d", len(c.Projection))
	}
	return nil
}
