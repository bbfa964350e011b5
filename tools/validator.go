package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator validates tool arguments against their input schemas.
// Compiled schemas are cached by name.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		cache: make(map[string]*gojsonschema.Schema),
	}
}

// ValidateArgs validates tool arguments against the descriptor's input schema.
func (sv *SchemaValidator) ValidateArgs(descriptor *ToolDescriptor, args json.RawMessage) error {
	schema, err := sv.getSchema(descriptor)
	if err != nil {
		return fmt.Errorf("invalid input schema for tool %s: %w", descriptor.Name, err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		// The document itself could not be loaded, e.g. malformed JSON.
		return &ValidationError{Tool: descriptor.Name, Detail: err.Error()}
	}

	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			msgs[i] = desc.String()
		}
		return &ValidationError{
			Tool:   descriptor.Name,
			Detail: strings.Join(msgs, "; "),
		}
	}
	return nil
}

func (sv *SchemaValidator) getSchema(descriptor *ToolDescriptor) (*gojsonschema.Schema, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if schema, ok := sv.cache[descriptor.Name]; ok {
		return schema, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(descriptor.InputSchema))
	if err != nil {
		return nil, err
	}
	sv.cache[descriptor.Name] = schema
	return schema, nil
}
