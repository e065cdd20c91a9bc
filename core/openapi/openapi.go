// Package openapi generates an OpenAPI 3.0 document from the registry's
// route table and the validation schemas of each operation.
package openapi

import (
	"maps"
	"slices"

	"github.com/amber7117/server-api/core/registry"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/security"
	"github.com/amber7117/server-api/core/validation"
)

// Spec represents an OpenAPI 3.0 specification.
type Spec struct {
	OpenAPI    string              `json:"openapi"`
	Info       Info                `json:"info"`
	Paths      map[string]PathItem `json:"paths"`
	Components Components          `json:"components"`
	Tags       []Tag               `json:"tags,omitempty"`
}

// Info provides API metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// PathItem contains operations for a path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Put    *Operation `json:"put,omitempty"`
	Patch  *Operation `json:"patch,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
}

// Operation represents an API operation.
type Operation struct {
	Tags        []string              `json:"tags,omitempty"`
	Summary     string                `json:"summary,omitempty"`
	OperationID string                `json:"operationId,omitempty"`
	Parameters  []Parameter           `json:"parameters,omitempty"`
	RequestBody *RequestBody          `json:"requestBody,omitempty"`
	Responses   map[string]Response   `json:"responses"`
	Security    []SecurityRequirement `json:"security,omitempty"`
}

// Parameter represents an API parameter.
type Parameter struct {
	Name        string  `json:"name"`
	In          string  `json:"in"` // path, query
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// RequestBody represents a request body.
type RequestBody struct {
	Required bool                 `json:"required,omitempty"`
	Content  map[string]MediaType `json:"content"`
}

// Response represents an API response.
type Response struct {
	Description string               `json:"description"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// MediaType represents a media type.
type MediaType struct {
	Schema *Schema `json:"schema,omitempty"`
}

// Schema represents a JSON Schema.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	Nullable             bool               `json:"nullable,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
	Ref                  string             `json:"$ref,omitempty"`
}

// Components contains reusable schemas.
type Components struct {
	Schemas         map[string]*Schema        `json:"schemas,omitempty"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes,omitempty"`
}

// SecurityScheme defines an authentication method.
type SecurityScheme struct {
	Type         string `json:"type"`
	Scheme       string `json:"scheme,omitempty"`
	BearerFormat string `json:"bearerFormat,omitempty"`
}

// SecurityRequirement specifies required security schemes.
type SecurityRequirement map[string][]string

// Tag groups the operations of one resource.
type Tag struct {
	Name string `json:"name"`
}

const errorRef = "#/components/schemas/Error"

// Generate builds the document for every route of reg.
func Generate(reg *registry.Registry, info Info) *Spec {
	spec := &Spec{
		OpenAPI: "3.0.3",
		Info:    info,
		Paths:   make(map[string]PathItem),
		Components: Components{
			Schemas: map[string]*Schema{
				"Error": {
					Type: "object",
					Properties: map[string]*Schema{
						"status":  {Type: "integer"},
						"message": {Type: "string"},
						"details": {Description: "field errors or per-id batch failures"},
					},
					Required: []string{"status", "message"},
				},
				"FindResult": {
					Type: "object",
					Properties: map[string]*Schema{
						"total": {Type: "integer"},
						"data":  {Type: "array", Items: &Schema{Type: "object"}},
					},
				},
			},
			SecuritySchemes: map[string]SecurityScheme{
				"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
			},
		},
	}

	for _, key := range reg.Keys() {
		spec.Tags = append(spec.Tags, Tag{Name: key})
	}

	for _, rt := range reg.Routes() {
		def, _ := reg.Definition(rt.Resource)
		op := operation(rt, def)

		item := spec.Paths[rt.Path]
		switch rt.Method {
		case "GET":
			item.Get = op
		case "POST":
			item.Post = op
		case "PUT":
			item.Put = op
		case "PATCH":
			item.Patch = op
		case "DELETE":
			item.Delete = op
		}
		spec.Paths[rt.Path] = item
	}
	return spec
}

func operation(rt registry.Route, def *resource.Definition) *Operation {
	op := &Operation{
		Tags:        []string{rt.Resource},
		OperationID: rt.Resource + "_" + rt.Operation,
		Responses:   errorResponses(rt),
	}
	if !rt.Policy.IsPublic() {
		op.Security = []SecurityRequirement{{"bearerAuth": {}}}
	}

	var declared *resource.Operation
	if def != nil {
		declared = def.Operation(rt.Operation)
	}
	var schema validation.Schema
	if declared != nil {
		schema = declared.ValidateSchema
	}

	switch rt.Operation {
	case security.OpFind:
		op.Summary = "Find " + rt.Resource
		find := validation.FindCommon()
		if def != nil && def.Indexed() {
			find = validation.Merge(find, validation.SearchParams())
		}
		op.Parameters = queryParams(validation.Merge(find, schema))
		op.Responses["200"] = jsonResponse("Search result", &Schema{Ref: "#/components/schemas/FindResult"})
	case security.OpCreate:
		op.Summary = "Create a " + rt.Resource + " record"
		op.RequestBody = body(schema)
		op.Responses["200"] = jsonResponse("Created record", &Schema{Type: "object"})
	case security.OpGet:
		op.Summary = "Get " + rt.Resource + " records by id"
		op.Parameters = []Parameter{idParam()}
		op.Responses["200"] = jsonResponse("Record, or an id-keyed map for several ids", &Schema{Type: "object"})
	case security.OpUpdate:
		op.Summary = "Update a " + rt.Resource + " record"
		op.Parameters = []Parameter{idParam()}
		op.RequestBody = body(optional(schema))
		op.Responses["200"] = jsonResponse("Updated record", &Schema{Type: "object"})
	case security.OpRemove:
		op.Summary = "Remove " + rt.Resource + " records by id"
		op.Parameters = []Parameter{idParam()}
		op.Responses["200"] = jsonResponse("Removed record, or an id-keyed map for several ids", &Schema{Type: "object"})
	default:
		op.Summary = rt.Method + " " + rt.Resource + "/" + rt.Operation
		if rt.Method != "GET" {
			op.RequestBody = body(nil)
		}
		op.Responses["200"] = jsonResponse("Result of "+rt.Operation, nil)
	}
	return op
}

func errorResponses(rt registry.Route) map[string]Response {
	out := map[string]Response{
		"400": jsonResponse("Invalid input", &Schema{Ref: errorRef}),
		"500": jsonResponse("Internal error", &Schema{Ref: errorRef}),
	}
	if !rt.Policy.IsPublic() {
		out["401"] = jsonResponse("No valid auth token", &Schema{Ref: errorRef})
		out["403"] = jsonResponse("Access denied", &Schema{Ref: errorRef})
	}
	switch rt.Operation {
	case security.OpGet, security.OpUpdate, security.OpRemove:
		out["404"] = jsonResponse("Record not found", &Schema{Ref: errorRef})
	case security.OpCreate:
		out["409"] = jsonResponse("Record already exists", &Schema{Ref: errorRef})
	}
	return out
}

func jsonResponse(description string, s *Schema) Response {
	r := Response{Description: description}
	if s != nil {
		r.Content = map[string]MediaType{"application/json": {Schema: s}}
	}
	return r
}

func idParam() Parameter {
	return Parameter{
		Name:        "id",
		In:          "path",
		Description: "record id; several ids are comma-separated",
		Required:    true,
		Schema:      &Schema{Type: "string"},
	}
}

func queryParams(s validation.Schema) []Parameter {
	names := slices.Sorted(maps.Keys(s))
	params := make([]Parameter, 0, len(names))
	for _, name := range names {
		params = append(params, Parameter{
			Name:     name,
			In:       "query",
			Required: s[name].Required,
			Schema:   fieldSchema(s[name]),
		})
	}
	return params
}

func body(s validation.Schema) *RequestBody {
	return &RequestBody{
		Required: true,
		Content:  map[string]MediaType{"application/json": {Schema: objectSchema(s)}},
	}
}

// optional drops required flags; update bodies are partial.
func optional(s validation.Schema) validation.Schema {
	out := make(validation.Schema, len(s))
	for name, rule := range s {
		rule.Required = false
		out[name] = rule
	}
	return out
}

func objectSchema(s validation.Schema) *Schema {
	if len(s) == 0 {
		return &Schema{Type: "object"}
	}
	closed := false
	out := &Schema{
		Type:                 "object",
		Properties:           make(map[string]*Schema, len(s)),
		AdditionalProperties: &closed,
	}
	for _, name := range slices.Sorted(maps.Keys(s)) {
		rule := s[name]
		out.Properties[name] = fieldSchema(rule)
		if rule.Required {
			out.Required = append(out.Required, name)
		}
	}
	return out
}

func fieldSchema(r validation.Rule) *Schema {
	s := &Schema{Type: jsonType(r.Type), Enum: r.Valid, Nullable: r.AllowEmpty}
	if r.Type == validation.Array {
		s.Items = &Schema{Type: jsonType(r.Items)}
	}
	return s
}

func jsonType(t validation.Type) string {
	switch t {
	case validation.Any, "":
		return ""
	default:
		return string(t)
	}
}
