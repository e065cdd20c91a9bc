package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amber7117/server-api/domain/record"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchema is a compiled JSON Schema document used as an additional
// input check for an operation.
type JSONSchema struct {
	schema *jsonschema.Schema
}

// CompileJSONSchema compiles a JSON Schema document.
func CompileJSONSchema(name, document string) (*JSONSchema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	url := name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(document)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &JSONSchema{schema: schema}, nil
}

// Validate checks data against the schema.
func (j *JSONSchema) Validate(data record.Record) error {
	if j == nil {
		return nil
	}

	// Round-trip through JSON so Go-typed values match JSON Schema types
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal input: %w", err)
	}

	err = j.schema.Validate(doc)
	if err == nil {
		return nil
	}

	result := Result{Valid: true}
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		collectSchemaErrors(ve, &result)
	} else {
		result.AddError("", "schema", err.Error())
	}
	if result.Valid {
		result.AddError("", "schema", err.Error())
	}
	return result.Err()
}

func collectSchemaErrors(ve *jsonschema.ValidationError, result *Result) {
	if len(ve.Causes) == 0 {
		field := strings.ReplaceAll(strings.TrimPrefix(ve.InstanceLocation, "/"), "/", ".")
		result.AddError(field, "schema", ve.Message)
		return
	}
	for _, cause := range ve.Causes {
		collectSchemaErrors(cause, result)
	}
}
