package remoteconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Sections are applied in this order.
var Sections = []string{"messaging", "timing", "power", "sensor"}

// Document is a two-level configuration document: section -> key -> value.
type Document map[string]map[string]any

var ErrMalformed = errors.New("remoteconfig: malformed document")

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "messaging": {"type": "object"},
    "timing":    {"type": "object"},
    "power":     {"type": "object"},
    "sensor":    {"type": "object"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("document.json", bytes.NewReader([]byte(documentSchema))); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("document.json")
	})
	return schema, schemaErr
}

// ParseDocument decodes raw JSON and checks its shape. Numbers are kept
// as json.Number so integer fields round-trip exactly.
func ParseDocument(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformed)
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	root := v.(map[string]any)
	doc := Document{}
	for name, sec := range root {
		fields, ok := sec.(map[string]any)
		if !ok {
			// unknown top-level keys that are not sections
			continue
		}
		doc[name] = fields
	}
	return doc, nil
}

func (d Document) Marshal() ([]byte, error) { return json.Marshal(d) }

// Empty reports whether the document carries no field in any known section.
func (d Document) Empty() bool {
	for _, s := range Sections {
		if len(d[s]) > 0 {
			return false
		}
	}
	return true
}

// Merge overlays overrides on defaults field by field. Neither input is
// modified.
func Merge(defaults, overrides Document) Document {
	out := Document{}
	for _, src := range []Document{defaults, overrides} {
		for section, fields := range src {
			if out[section] == nil {
				out[section] = map[string]any{}
			}
			for k, v := range fields {
				out[section][k] = v
			}
		}
	}
	return out
}
