package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/schema"
)

// loadRecords reads a record batch from path, or from stdin when path is
// "-". The batch is a JSON or YAML list of objects, a single object, or an
// object holding the list under "records". Files ending in .yaml or .yml
// are YAML, everything else JSON.
func loadRecords(path string, stdin io.Reader) ([]ir.Object, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	var doc ir.Value
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		doc, err = decodeYAML(data)
	default:
		doc, err = ir.Decode(data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode records %s: %w", path, err)
	}
	return recordsOf(doc)
}

func decodeYAML(data []byte) (ir.Value, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return ir.FromAny(raw)
}

func recordsOf(doc ir.Value) ([]ir.Object, error) {
	switch v := doc.(type) {
	case ir.Array:
		records := make([]ir.Object, len(v))
		for i, elem := range v {
			obj, ok := elem.(ir.Object)
			if !ok {
				return nil, fmt.Errorf("record %d: expected object, got %T", i, elem)
			}
			records[i] = obj
		}
		return records, nil
	case ir.Object:
		if list, ok := v["records"].(ir.Array); ok && len(v) == 1 {
			return recordsOf(list)
		}
		return []ir.Object{v}, nil
	default:
		return nil, fmt.Errorf("expected a list of records, got %T", doc)
	}
}

// loadSchema reads a schema file. key, when set, overrides the file's
// primary key; without a file, key alone declares a resource with no
// fields.
func loadSchema(path, key string) (*schema.File, error) {
	if path == "" {
		if key == "" {
			return nil, fmt.Errorf("either --key or --schema is required")
		}
		return &schema.File{PrimaryKey: key}, nil
	}
	f, err := schema.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if key != "" {
		f.PrimaryKey = key
	}
	return f, nil
}

// parseFilter decodes a --filter flag. Numbers keep their literal form so
// integers stay integers.
func parseFilter(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var filters map[string]any
	if err := dec.Decode(&filters); err != nil {
		return nil, fmt.Errorf("invalid --filter JSON: %w", err)
	}
	return filters, nil
}

// parseAsOf decodes an --as-of flag: RFC 3339, with or without fractional
// seconds.
func parseAsOf(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --as-of %q: %w", s, err)
	}
	return &t, nil
}
