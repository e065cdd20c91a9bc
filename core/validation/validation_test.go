package validation

import (
	"errors"
	"testing"

	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
	"github.com/amber7117/server-api/pkg/apierr"
)

func productSchema() Schema {
	return Schema{
		"name":  {Type: String, Required: true},
		"price": {Type: Number},
		"tags":  {Type: Array, Items: String},
		"state": {Type: String, Valid: []string{"draft", "live"}},
		"stock": {Type: Boolean},
		"notes": {Type: String, AllowEmpty: true},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    record.Record
		opts    Options
		wantErr bool
		field   string
	}{
		{"valid", record.Record{"name": "pen", "price": 2.5}, Options{}, false, ""},
		{"missing required", record.Record{"price": 1.0}, Options{}, true, "name"},
		{"wrong type", record.Record{"name": 12.0}, Options{}, true, "name"},
		{"empty string", record.Record{"name": ""}, Options{}, true, "name"},
		{"empty allowed", record.Record{"name": "pen", "notes": ""}, Options{}, false, ""},
		{"null not allowed", record.Record{"name": nil}, Options{}, true, "name"},
		{"unknown field", record.Record{"name": "pen", "color": "red"}, Options{}, true, "color"},
		{"unknown allowed", record.Record{"name": "pen", "color": "red"}, Options{AllowUnknown: true}, false, ""},
		{"enum", record.Record{"name": "pen", "state": "gone"}, Options{}, true, "state"},
		{"array items", record.Record{"name": "pen", "tags": []any{"a", 1.0}}, Options{}, true, "tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.data, productSchema(), tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}

			var apiErr *apierr.Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("error type = %T, want *apierr.Error", err)
			}
			if apiErr.Status != 400 {
				t.Errorf("Status = %d, want 400", apiErr.Status)
			}
			details, ok := apiErr.Details.([]FieldError)
			if !ok || len(details) == 0 {
				t.Fatalf("Details = %#v", apiErr.Details)
			}
			if details[0].Field != tt.field {
				t.Errorf("first field = %q, want %q", details[0].Field, tt.field)
			}
		})
	}
}

func TestValidate_Coercion(t *testing.T) {
	out, err := Validate(record.Record{"name": "pen", "price": "3.5", "stock": "TRUE"}, productSchema(), Options{})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if out["price"] != 3.5 {
		t.Errorf("price = %#v, want 3.5", out["price"])
	}
	if out["stock"] != true {
		t.Errorf("stock = %#v, want true", out["stock"])
	}

	if _, err := Validate(record.Record{"name": "pen", "price": "cheap"}, productSchema(), Options{}); err == nil {
		t.Error("expected error for non-numeric string")
	}
}

func TestValidate_EmptySchemaSkips(t *testing.T) {
	data := record.Record{"anything": 1}
	out, err := Validate(data, nil, Options{})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if out["anything"] != 1 {
		t.Errorf("out = %v", out)
	}
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	data := record.Record{"name": "pen", "price": "4"}
	if _, err := Validate(data, productSchema(), Options{}); err != nil {
		t.Fatal(err)
	}
	if data["price"] != "4" {
		t.Errorf("input mutated: %v", data)
	}
}

func TestMerge(t *testing.T) {
	merged := Merge(
		Schema{"a": {Type: String}, "b": {Type: String}},
		Schema{"b": {Type: Number, Required: true}},
	)
	if len(merged) != 2 {
		t.Fatalf("len = %d, want 2", len(merged))
	}
	if merged["b"].Type != Number || !merged["b"].Required {
		t.Errorf("b = %+v, later schema should win", merged["b"])
	}
}

func TestProject(t *testing.T) {
	s := Schema{"key": {Type: String}, "name": {Type: String}}

	got, err := Project(record.Record{"key": "k", "name": "n", "secret": "x"}, s)
	if err != nil {
		t.Fatal(err)
	}
	r := got.(record.Record)
	if _, ok := r["secret"]; ok {
		t.Error("secret field should be stripped")
	}
	if r["name"] != "n" {
		t.Errorf("name = %v", r["name"])
	}

	got, err = Project(search.Result{Total: 4, Data: []record.Record{{"key": "a", "secret": 1}}}, s)
	if err != nil {
		t.Fatal(err)
	}
	page := got.(search.Result)
	if page.Total != 4 || len(page.Data) != 1 {
		t.Fatalf("page = %+v", page)
	}
	if _, ok := page.Data[0]["secret"]; ok {
		t.Error("secret field should be stripped from page data")
	}

	if _, err := Project(record.Record{"name": 5.0}, s); err == nil {
		t.Error("expected type error from projection")
	}

	if got, _ := Project("plain", s); got != "plain" {
		t.Errorf("non-record output = %v", got)
	}
}

func TestJSONSchema(t *testing.T) {
	js, err := CompileJSONSchema("product", `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string", "minLength": 2},
			"price": {"type": "number", "minimum": 0}
		}
	}`)
	if err != nil {
		t.Fatalf("CompileJSONSchema() error = %v", err)
	}

	if err := js.Validate(record.Record{"name": "pen", "price": 3}); err != nil {
		t.Errorf("valid input error = %v", err)
	}

	err = js.Validate(record.Record{"name": "p", "price": -1})
	if apierr.StatusOf(err) != 400 {
		t.Fatalf("StatusOf() = %d, want 400 (err = %v)", apierr.StatusOf(err), err)
	}

	var nilSchema *JSONSchema
	if err := nilSchema.Validate(record.Record{}); err != nil {
		t.Errorf("nil schema should accept everything, got %v", err)
	}
}

func TestCompileJSONSchema_Invalid(t *testing.T) {
	if _, err := CompileJSONSchema("broken", `{"type": 12}`); err == nil {
		t.Error("expected compile error")
	}
}
