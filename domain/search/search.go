// Package search defines the index configuration, query and result types
// shared by search index adapters.
package search

import (
	"slices"
	"strings"

	"github.com/amber7117/server-api/domain/record"
)

// Operator values.
const (
	// OperatorEquals replaces fuzzy matching with an exact, case-insensitive
	// comparison on the search field.
	OperatorEquals = "equals"
)

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// DefaultSize is the page size when a query does not specify one.
const DefaultSize = 10

// IndexConfig describes how documents are indexed.
type IndexConfig struct {
	// Ref is the document field holding its identity.
	Ref string `yaml:"ref"`

	// Fields are the searchable fields.
	Fields []string `yaml:"fields"`

	// SaveDocument keeps full documents in the index document store.
	SaveDocument bool `yaml:"save_document"`
}

// Merge returns base overridden by the non-empty fields of override.
func Merge(base, override IndexConfig) IndexConfig {
	out := base
	out.Fields = slices.Clone(base.Fields)
	if override.Ref != "" {
		out.Ref = override.Ref
	}
	if len(override.Fields) > 0 {
		out.Fields = slices.Clone(override.Fields)
	}
	if override.SaveDocument {
		out.SaveDocument = true
	}
	if out.Ref == "" {
		out.Ref = record.KeyField
	}
	return out
}

// Query configures a search.
type Query struct {
	// SearchField restricts text matching to one field.
	SearchField string

	// Operator selects the matching mode; "" for fuzzy.
	Operator string

	// From and Size paginate the result unless All is set.
	From int
	Size int
	All  bool

	// Sort names the field to sort by; SortType is asc or desc.
	Sort     string
	SortType string

	// PreFilter excludes documents for which it returns false.
	PreFilter func(record.Record) bool
}

// Descending reports whether the query sorts in descending order.
func (q Query) Descending() bool {
	return strings.EqualFold(q.SortType, SortDesc)
}

// Result is a page of search results.
type Result struct {
	// Total is the match count before pagination.
	Total int `json:"total"`

	// Data is the requested page.
	Data []record.Record `json:"data"`
}
