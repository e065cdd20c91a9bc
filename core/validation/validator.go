// Package validation validates operation input against field-rule schemas.
// Validation is enforced by the pipeline before any hook or storage call.
package validation

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
)

// Type is the expected type of a field.
type Type string

// Field types.
const (
	Any     Type = "any"
	String  Type = "string"
	Number  Type = "number"
	Boolean Type = "boolean"
	Array   Type = "array"
	Object  Type = "object"
)

// Rule constrains a single field.
type Rule struct {
	Type Type

	// Required rejects input that omits the field.
	Required bool

	// AllowEmpty accepts null and, for strings, the empty string.
	AllowEmpty bool

	// Valid restricts the value to an enumeration (compared as strings).
	Valid []string

	// Items is the element type of an array field.
	Items Type
}

// Schema maps field names to rules. An empty schema skips validation.
type Schema map[string]Rule

// Defaults are the per-operation schemas contributed by a record store.
type Defaults struct {
	Create Schema
	Find   Schema
	Get    Schema
	Update Schema
	Remove Schema
}

// Options configures a validation run.
type Options struct {
	// AllowUnknown accepts fields that are not in the schema.
	AllowUnknown bool
}

// FieldError describes one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Result holds all validation errors for an input.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// AddError adds a validation error.
func (r *Result) AddError(field, rule, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, FieldError{Field: field, Rule: rule, Message: message})
}

// Err converts an invalid result into a 400 error.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return apierr.Validation(r.Errors[0].Message, r.Errors)
}

// Merge combines schemas; later schemas win per field.
func Merge(schemas ...Schema) Schema {
	out := make(Schema)
	for _, s := range schemas {
		maps.Copy(out, s)
	}
	return out
}

// Validate checks data against s and returns a copy with string inputs
// converted to the declared types. An empty schema returns data unchanged.
func Validate(data record.Record, s Schema, opts Options) (record.Record, error) {
	if len(s) == 0 {
		return data, nil
	}

	result := Result{Valid: true}
	out := make(record.Record, len(data))

	// Sorted for deterministic error ordering
	names := slices.Sorted(maps.Keys(data))
	for _, name := range names {
		if _, known := s[name]; !known {
			if !opts.AllowUnknown {
				result.AddError(name, "unknown", fmt.Sprintf("%q is not allowed", name))
			}
			out[name] = data[name]
		}
	}

	for _, name := range slices.Sorted(maps.Keys(s)) {
		rule := s[name]
		value, ok := data[name]
		if !ok {
			if rule.Required {
				result.AddError(name, "required", fmt.Sprintf("%q is required", name))
			}
			continue
		}

		converted, err := rule.check(name, value)
		if err != nil {
			result.AddError(name, err.rule, err.message)
			continue
		}
		out[name] = converted
	}

	if err := result.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type ruleError struct {
	rule    string
	message string
}

// check validates and converts a single value.
func (r Rule) check(name string, value any) (any, *ruleError) {
	if value == nil {
		if r.AllowEmpty || r.Type == Any {
			return nil, nil
		}
		return nil, &ruleError{"type", fmt.Sprintf("%q must not be null", name)}
	}

	converted, ok := convert(r.Type, value)
	if !ok {
		return nil, &ruleError{"type", fmt.Sprintf("%q must be a %s", name, r.Type)}
	}

	if s, isString := converted.(string); isString && s == "" && r.Type == String && !r.AllowEmpty {
		return nil, &ruleError{"empty", fmt.Sprintf("%q is not allowed to be empty", name)}
	}

	if r.Type == Array && r.Items != "" && r.Items != Any {
		items := converted.([]any)
		for i, item := range items {
			c, ok := convert(r.Items, item)
			if !ok {
				return nil, &ruleError{"items", fmt.Sprintf("\"%s[%d]\" must be a %s", name, i, r.Items)}
			}
			items[i] = c
		}
	}

	if len(r.Valid) > 0 {
		str := fmt.Sprint(converted)
		if !slices.Contains(r.Valid, str) {
			return nil, &ruleError{"valid", fmt.Sprintf("%q must be one of [%s]", name, strings.Join(r.Valid, ", "))}
		}
	}

	return converted, nil
}

// convert coerces value to t. String inputs convert to numbers and booleans
// so query parameters validate the same as JSON bodies.
func convert(t Type, value any) (any, bool) {
	switch t {
	case Any, "":
		return value, true

	case String:
		s, ok := value.(string)
		return s, ok

	case Number:
		switch v := value.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int32:
			return float64(v), true
		case int64:
			return float64(v), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, false
			}
			return f, true
		}
		return nil, false

	case Boolean:
		switch v := value.(type) {
		case bool:
			return v, true
		case string:
			switch strings.ToLower(v) {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
		return nil, false

	case Array:
		switch v := value.(type) {
		case []any:
			return slices.Clone(v), true
		case []string:
			out := make([]any, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out, true
		}
		return nil, false

	case Object:
		switch v := value.(type) {
		case map[string]any:
			return v, true
		}
		return nil, false
	}

	return nil, false
}
