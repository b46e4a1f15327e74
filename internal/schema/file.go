package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// File is the on-disk description of a resource schema.
//
// Example (YAML):
//
//	primary_key: id
//	fields:
//	  - id: id
//	    type: int
//	  - id: amount
//	    type: text
//	    type_override: float
type File struct {
	PrimaryKey string            `json:"primary_key" yaml:"primary_key"`
	Fields     []FieldDefinition `json:"fields" yaml:"fields"`
}

// Format identifies a schema file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported schema file extension %q", filepath.Ext(path))
	}
}

// LoadFile reads and validates a schema file. The format is chosen by
// extension: .json, .yaml/.yml or .cue.
func LoadFile(path string) (*File, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	f, err := Parse(data, format, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates schema data in the given format.
// name is used in CUE error positions only.
func Parse(data []byte, format Format, name string) (*File, error) {
	var f File
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatCUE:
		if err := decodeCUE(data, name, &f); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported schema format %q", format)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the primary key and field list.
func (f *File) Validate() error {
	if f.PrimaryKey == "" {
		return fmt.Errorf("primary_key is required")
	}
	if err := ValidateFieldID(f.PrimaryKey); err != nil {
		return fmt.Errorf("primary_key: %w", err)
	}
	return Validate(f.Fields)
}

// decodeCUE evaluates a CUE document and decodes its concrete value.
// CUE constraints in the document (e.g. `type: "int" | "text"`) are checked
// before decoding.
func decodeCUE(data []byte, name string, f *File) error {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return fmt.Errorf("compile cue: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate cue: %w", err)
	}
	if err := v.Decode(f); err != nil {
		return fmt.Errorf("decode cue: %w", err)
	}
	return nil
}
