package definitions

import (
	"context"
	"strings"

	"github.com/amber7117/server-api/core/hooks"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/domain/natsort"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
)

// Products carries PRODUCTS_<ACTION> permissions and is searchable by
// make and model.
func Products() *resource.Definition {
	return &resource.Definition{
		Key:      "products",
		Security: &access.Policy{DefaultPermissions: true},
		Create: &resource.Operation{
			ValidateSchema: validation.Schema{
				"key":   {Type: validation.String, Required: true},
				"make":  {Type: validation.String, Required: true},
				"model": {Type: validation.String, Required: true},
				"price": {Type: validation.Number},
				"tags":  {Type: validation.Array, Items: validation.String},
			},
			OnBefore: hooks.RejectDuplicateKey("products", "product"),
		},
		Update: &resource.Operation{
			ValidateSchema: validation.Schema{
				"make":  {Type: validation.String},
				"model": {Type: validation.String},
				"price": {Type: validation.Number},
				"tags":  {Type: validation.Array, Items: validation.String},
			},
		},
		Indexing: &resource.IndexingConfig{
			IndexConfig: search.IndexConfig{
				Ref:          "key",
				Fields:       []string{"key", "make", "model", "title"},
				SaveDocument: true,
			},
			Populate: populateProduct,
		},
		AdditionalPaths: map[string]resource.AdditionalPath{
			"makes": {Callback: countByMake},
		},
		Order: 2,
	}
}

// populateProduct adds the display title used by search.
func populateProduct(_ context.Context, _ *resource.Exec, rec record.Record, _ string) (record.Record, error) {
	doc := record.Clone(rec)
	doc["title"] = strings.TrimSpace(natsort.String(rec["make"]) + " " + natsort.String(rec["model"]))
	return doc, nil
}

// countByMake reports how many stored products each make has.
func countByMake(ctx context.Context, x *resource.Exec, _ *resource.Call) (any, error) {
	recs, err := x.Store.Find(ctx, x.Key, record.FindParams{All: true})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, rec := range recs {
		counts[strings.ToLower(natsort.String(rec["make"]))]++
	}
	return map[string]any{"total": len(recs), "makes": counts}, nil
}
