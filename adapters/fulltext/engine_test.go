package fulltext_test

import (
	"context"
	"errors"
	"testing"

	"github.com/amber7117/server-api/adapters/fulltext"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/rs/zerolog"
)

func newEngine(t *testing.T, cfg search.IndexConfig, docs ...record.Record) *fulltext.Engine {
	t.Helper()
	ctx := context.Background()
	e := fulltext.NewEngine(zerolog.Nop())
	if err := e.CreateIndex(ctx, "products", cfg); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	if err := e.BuildIndex(ctx, "products", docs); err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	return e
}

func products() []record.Record {
	return []record.Record{
		{"key": "p1", "name": "item10", "category": "Tools", "price": 30},
		{"key": "p2", "name": "item2", "category": "Garden hoses", "price": 10},
		{"key": "p3", "name": "item1", "category": "tools", "price": 20},
		{"key": "p4", "name": "running shoes", "category": "Sport", "price": 50},
	}
}

var fullConfig = search.IndexConfig{Fields: []string{"name", "category"}, SaveDocument: true}

func keys(docs []record.Record) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["key"].(string)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEngine_Search(t *testing.T) {
	e := newEngine(t, fullConfig, products()...)
	ctx := context.Background()

	tests := []struct {
		name      string
		text      string
		q         search.Query
		wantKeys  []string
		wantTotal int
	}{
		{
			name:      "empty text returns everything in insertion order",
			q:         search.Query{},
			wantKeys:  []string{"p1", "p2", "p3", "p4"},
			wantTotal: 4,
		},
		{
			name:      "natural sort ascending",
			q:         search.Query{Sort: "name", SortType: search.SortAsc},
			wantKeys:  []string{"p3", "p2", "p1", "p4"},
			wantTotal: 4,
		},
		{
			name:      "natural sort descending",
			q:         search.Query{Sort: "name", SortType: search.SortDesc},
			wantKeys:  []string{"p4", "p1", "p2", "p3"},
			wantTotal: 4,
		},
		{
			name:      "stemmed match",
			text:      "run",
			wantKeys:  []string{"p4"},
			wantTotal: 1,
		},
		{
			name:      "case insensitive match across fields",
			text:      "TOOLS",
			q:         search.Query{Sort: "price"},
			wantKeys:  []string{"p3", "p1"},
			wantTotal: 2,
		},
		{
			name:      "prefix expansion on search field",
			text:      "ho",
			q:         search.Query{SearchField: "category"},
			wantKeys:  []string{"p2"},
			wantTotal: 1,
		},
		{
			name:      "no prefix expansion without search field",
			text:      "ho",
			wantKeys:  []string{},
			wantTotal: 0,
		},
		{
			name:      "equals operator",
			text:      "tools",
			q:         search.Query{Operator: search.OperatorEquals, SearchField: "category"},
			wantKeys:  []string{"p1", "p3"},
			wantTotal: 2,
		},
		{
			name:      "equals operator is exact",
			text:      "garden",
			q:         search.Query{Operator: search.OperatorEquals, SearchField: "category"},
			wantKeys:  []string{},
			wantTotal: 0,
		},
		{
			name: "prefilter",
			q: search.Query{PreFilter: func(d record.Record) bool {
				return d["price"].(int) >= 30
			}},
			wantKeys:  []string{"p1", "p4"},
			wantTotal: 2,
		},
		{
			name:      "pagination keeps total",
			q:         search.Query{Sort: "price", From: 1, Size: 2},
			wantKeys:  []string{"p3", "p1"},
			wantTotal: 4,
		},
		{
			name:      "from past the end",
			q:         search.Query{From: 10, Size: 2},
			wantKeys:  []string{},
			wantTotal: 4,
		},
		{
			name:      "all ignores pagination",
			q:         search.Query{All: true, From: 3, Size: 1},
			wantKeys:  []string{"p1", "p2", "p3", "p4"},
			wantTotal: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Search(ctx, "products", tt.text, tt.q)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if res.Data == nil {
				t.Fatal("Data should never be nil")
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if got := keys(res.Data); !equal(got, tt.wantKeys) {
				t.Errorf("keys = %v, want %v", got, tt.wantKeys)
			}
		})
	}
}

func TestEngine_DefaultPageSize(t *testing.T) {
	var docs []record.Record
	for i := 0; i < 15; i++ {
		docs = append(docs, record.Record{"key": string(rune('a' + i)), "name": "widget"})
	}
	e := newEngine(t, fullConfig, docs...)

	res, err := e.Search(context.Background(), "products", "widget", search.Query{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Total != 15 || len(res.Data) != search.DefaultSize {
		t.Errorf("Total = %d, len = %d; want 15, %d", res.Total, len(res.Data), search.DefaultSize)
	}
}

func TestEngine_UpdateMerges(t *testing.T) {
	e := newEngine(t, fullConfig, products()...)
	ctx := context.Background()

	if err := e.Update(ctx, "products", record.Record{"key": "p4", "name": "trail boots"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	doc, err := e.Get(ctx, "products", "p4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc["name"] != "trail boots" || doc["category"] != "Sport" {
		t.Errorf("doc = %v, want merged fields", doc)
	}

	res, _ := e.Search(ctx, "products", "running", search.Query{})
	if res.Total != 0 {
		t.Errorf("old tokens still match: %v", keys(res.Data))
	}
	res, _ = e.Search(ctx, "products", "boots", search.Query{})
	if got := keys(res.Data); !equal(got, []string{"p4"}) {
		t.Errorf("new tokens keys = %v, want [p4]", got)
	}
}

func TestEngine_PutReplacesAndKeepsOrder(t *testing.T) {
	e := newEngine(t, fullConfig, products()...)
	ctx := context.Background()

	if err := e.Put(ctx, "products", record.Record{"key": "p1", "name": "hammer"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	doc, _ := e.Get(ctx, "products", "p1")
	if _, ok := doc["category"]; ok {
		t.Errorf("Put should replace the document, got %v", doc)
	}

	res, _ := e.Search(ctx, "products", "", search.Query{})
	if got := keys(res.Data); !equal(got, []string{"p1", "p2", "p3", "p4"}) {
		t.Errorf("keys = %v, want insertion order preserved", got)
	}
}

func TestEngine_RemoveAndTotalCount(t *testing.T) {
	e := newEngine(t, fullConfig, products()...)
	ctx := context.Background()

	if err := e.Remove(ctx, "products", "p2"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := e.Remove(ctx, "products", "missing"); err != nil {
		t.Fatalf("Remove(missing) error = %v", err)
	}

	n, err := e.TotalCount(ctx, "products")
	if err != nil {
		t.Fatalf("TotalCount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("TotalCount() = %d, want 3", n)
	}

	res, _ := e.Search(ctx, "products", "garden", search.Query{})
	if res.Total != 0 {
		t.Errorf("removed doc still matches")
	}
	if doc, _ := e.Get(ctx, "products", "p2"); doc != nil {
		t.Errorf("Get(removed) = %v, want nil", doc)
	}
}

func TestEngine_WithoutSavedDocuments(t *testing.T) {
	e := newEngine(t, search.IndexConfig{Fields: []string{"name", "category"}}, products()...)
	ctx := context.Background()

	res, err := e.Search(ctx, "products", "tools", search.Query{Operator: search.OperatorEquals, SearchField: "category"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("Total = %d, want 2", res.Total)
	}
	for _, doc := range res.Data {
		if len(doc) != 1 || doc["key"] == nil {
			t.Errorf("doc = %v, want reference only", doc)
		}
	}
}

func TestEngine_WithoutSavedDocuments_FilterAndSort(t *testing.T) {
	e := newEngine(t, search.IndexConfig{Fields: []string{"name"}},
		record.Record{"key": "a", "name": "cheap", "price": 5},
		record.Record{"key": "b", "name": "pricey", "price": 50},
		record.Record{"key": "c", "name": "middle", "price": 20},
	)

	res, err := e.Search(context.Background(), "products", "", search.Query{
		PreFilter: func(doc record.Record) bool {
			p, _ := doc["price"].(int)
			return p > 10
		},
		Sort:     "price",
		SortType: "desc",
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("Total = %d, want 2", res.Total)
	}
	if got := keys(res.Data); !equal(got, []string{"b", "c"}) {
		t.Errorf("keys = %v, want [b c]", got)
	}
	for _, doc := range res.Data {
		if len(doc) != 1 {
			t.Errorf("doc = %v, want reference only", doc)
		}
	}
}

func TestEngine_ResultsAreCopies(t *testing.T) {
	e := newEngine(t, fullConfig, products()...)
	ctx := context.Background()

	res, _ := e.Search(ctx, "products", "", search.Query{})
	res.Data[0]["name"] = "changed"

	doc, _ := e.Get(ctx, "products", "p1")
	if doc["name"] != "item10" {
		t.Errorf("stored doc mutated through search result: %v", doc)
	}
}

func TestEngine_Errors(t *testing.T) {
	e := fulltext.NewEngine(zerolog.Nop())
	ctx := context.Background()

	if _, err := e.Search(ctx, "nope", "", search.Query{}); !errors.Is(err, fulltext.ErrNoIndex) {
		t.Errorf("Search() error = %v, want ErrNoIndex", err)
	}
	if err := e.Put(ctx, "nope", record.Record{"key": "a"}); !errors.Is(err, fulltext.ErrNoIndex) {
		t.Errorf("Put() error = %v, want ErrNoIndex", err)
	}

	_ = e.CreateIndex(ctx, "products", fullConfig)
	if err := e.Put(ctx, "products", record.Record{"name": "no ref"}); err == nil {
		t.Error("Put() without ref should fail")
	}

	ctxCancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := e.BuildIndex(ctxCancelled, "products", products()); !errors.Is(err, context.Canceled) {
		t.Errorf("BuildIndex() error = %v, want context.Canceled", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		wantNil bool
		wantErr bool
	}{
		{"memory", false, false},
		{"none", true, false},
		{"", true, false},
		{"elastic", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := fulltext.New(tt.name, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (idx == nil) != tt.wantNil {
				t.Errorf("New() = %v, wantNil %v", idx, tt.wantNil)
			}
			var unknown *apierr.UnknownAdapterError
			if tt.wantErr && !errors.As(err, &unknown) {
				t.Errorf("error = %T, want *UnknownAdapterError", err)
			}
		})
	}
}
