// Package docschema validates JSON documents at the storage and API
// boundary against JSON Schemas.
package docschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema names a JSON Schema definition.
type Schema struct {
	Name       string
	Definition map[string]any
}

// ErrInvalidDocument is returned when a document is not valid JSON or does
// not satisfy its schema.
type ErrInvalidDocument struct {
	Schema string
	Err    error
}

func (e *ErrInvalidDocument) Error() string {
	return fmt.Sprintf("invalid %s document: %v", e.Schema, e.Err)
}

func (e *ErrInvalidDocument) Unwrap() error { return e.Err }

// schemaCache caches compiled JSON schemas by name.
var schemaCache sync.Map // map[string]*jsonschema.Schema

// Validate checks raw against schema. Returns *ErrInvalidDocument on
// failure.
func Validate(schema *Schema, raw json.RawMessage) error {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &ErrInvalidDocument{Schema: schema.Name, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	return ValidateValue(schema, parsed)
}

// ValidateValue checks an already decoded JSON value against schema.
func ValidateValue(schema *Schema, parsed any) error {
	compiled, err := compiledSchema(schema)
	if err != nil {
		return &ErrInvalidDocument{Schema: schema.Name, Err: fmt.Errorf("compile schema: %w", err)}
	}
	if err := compiled.Validate(parsed); err != nil {
		return &ErrInvalidDocument{Schema: schema.Name, Err: err}
	}
	return nil
}

func compiledSchema(schema *Schema) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(schema.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}

	// The compiler wants a decoded JSON value, not Go maps with typed slices.
	defBytes, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal schema definition: %w", err)
	}
	var defParsed any
	if err := json.Unmarshal(defBytes, &defParsed); err != nil {
		return nil, fmt.Errorf("parse schema definition: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	url := fmt.Sprintf("schema://%s.json", schema.Name)
	if err := c.AddResource(url, defParsed); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	schemaCache.Store(schema.Name, compiled)
	return compiled, nil
}
