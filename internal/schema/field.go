package schema

import (
	"fmt"
	"strings"
)

// Kind is the storage-level type a declared field type maps to.
type Kind int

const (
	// KindAny passes values through unchanged.
	KindAny Kind = iota
	// KindString casts scalars to their textual form.
	KindString
	// KindInt casts to 64-bit integers.
	KindInt
	// KindFloat casts to 64-bit floats.
	KindFloat
	// KindBool casts to booleans.
	KindBool
)

var kindNames = map[Kind]string{
	KindAny:    "any",
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Numeric reports whether values of this kind compare as numbers.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// KindOf maps a declared type name to its Kind. Unknown names map to KindAny.
func KindOf(typeName string) Kind {
	switch strings.ToLower(strings.TrimSpace(typeName)) {
	case "text", "string", "str", "char", "varchar":
		return KindString
	case "int", "integer", "int4", "int8", "bigint":
		return KindInt
	case "float", "number", "numeric", "double", "float8", "real":
		return KindFloat
	case "bool", "boolean":
		return KindBool
	default:
		return KindAny
	}
}

// FieldDefinition describes one field of a resource.
type FieldDefinition struct {
	ID           string `json:"id" yaml:"id"`
	Type         string `json:"type" yaml:"type"`
	TypeOverride string `json:"type_override,omitempty" yaml:"type_override,omitempty"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
	Notes        string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// EffectiveType returns the type override if set, else the declared type.
func (f FieldDefinition) EffectiveType() string {
	if f.TypeOverride != "" {
		return f.TypeOverride
	}
	return f.Type
}

// Kind returns the Kind of the effective type.
func (f FieldDefinition) Kind() Kind {
	return KindOf(f.EffectiveType())
}

// Description joins label and notes as "label - notes".
func (f FieldDefinition) Description() string {
	switch {
	case f.Label != "" && f.Notes != "":
		return f.Label + " - " + f.Notes
	case f.Label != "":
		return f.Label
	default:
		return f.Notes
	}
}

// IsReserved reports whether id names an internal bookkeeping field.
// Reserved fields are never projected and never accepted in a schema.
func IsReserved(id string) bool {
	return strings.HasPrefix(id, "_")
}

// ValidateFieldID checks that id can be used as a field name.
// Double quotes are rejected because field ids are embedded in quoted
// JSON paths.
func ValidateFieldID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("field id must not be empty")
	case IsReserved(id):
		return fmt.Errorf("field id %q is reserved", id)
	case strings.ContainsAny(id, "\"\\"):
		return fmt.Errorf("field id %q must not contain quotes or backslashes", id)
	}
	return nil
}

// Validate checks a complete field list: valid, unique ids.
func Validate(fields []FieldDefinition) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if err := ValidateFieldID(f.ID); err != nil {
			return fmt.Errorf("fields[%d]: %w", i, err)
		}
		if seen[f.ID] {
			return fmt.Errorf("fields[%d]: duplicate field id %q", i, f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// Index maps field ids to their definitions.
func Index(fields []FieldDefinition) map[string]FieldDefinition {
	idx := make(map[string]FieldDefinition, len(fields))
	for _, f := range fields {
		idx[f.ID] = f
	}
	return idx
}

// IDs returns the field ids in schema order.
func IDs(fields []FieldDefinition) []string {
	ids := make([]string, len(fields))
	for i, f := range fields {
		ids[i] = f.ID
	}
	return ids
}
