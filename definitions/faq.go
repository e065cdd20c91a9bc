package definitions

import (
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/domain/search"
)

// FAQ is readable by anyone and writable by admins.
func FAQ() *resource.Definition {
	return &resource.Definition{
		Key:      "faq",
		Security: access.Role(access.AdminRole),
		Create: &resource.Operation{
			ValidateSchema: validation.Schema{
				"key":      {Type: validation.String, Required: true},
				"question": {Type: validation.String, Required: true},
				"answer":   {Type: validation.String, AllowEmpty: true},
				"category": {Type: validation.String, AllowEmpty: true},
			},
		},
		Find: &resource.Operation{Security: access.Public()},
		Get:  &resource.Operation{Security: access.Public()},
		Indexing: &resource.IndexingConfig{
			IndexConfig: search.IndexConfig{
				Ref:          "key",
				Fields:       []string{"key", "question", "answer"},
				SaveDocument: true,
			},
		},
		Order: 1,
	}
}
