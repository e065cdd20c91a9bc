// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// RecordStore is the primary record store. Records live under /{bucket}/{id}.
type RecordStore interface {
	// Create stores data. The record key is data's "key" field when present,
	// otherwise one generated by the store. Returns the stored record with
	// its key.
	Create(ctx context.Context, bucket string, data record.Record) (record.Record, error)

	// Get returns the record with its key, or nil when it does not exist.
	Get(ctx context.Context, bucket, id string) (record.Record, error)

	// Update merges data into the record field by field. A missing record
	// fails with a 404 unless opts.OverrideIfNotExist is set.
	Update(ctx context.Context, bucket, id string, data record.Record, opts record.UpdateOptions) (record.Record, error)

	// Remove deletes the record and returns it, or nil when it did not exist.
	Remove(ctx context.Context, bucket, id string) (record.Record, error)

	// Find returns records ordered and paginated by params.
	Find(ctx context.Context, bucket string, params record.FindParams) ([]record.Record, error)

	// DefaultSchema returns the per-operation input schemas the store
	// understands. They are merged under each definition's own schema.
	DefaultSchema() validation.Defaults

	// Name returns the adapter name.
	Name() string

	// Close releases resources.
	Close() error
}

// -----------------------------------------------------------------------------
// Search Ports
// -----------------------------------------------------------------------------

// SearchIndex is a secondary full-text index kept in sync with a store.
type SearchIndex interface {
	// CreateIndex creates (or resets) a named index.
	CreateIndex(ctx context.Context, index string, cfg search.IndexConfig) error

	// RemoveIndex drops a named index.
	RemoveIndex(ctx context.Context, index string) error

	// Put adds or replaces a document.
	Put(ctx context.Context, index string, doc record.Record) error

	// Update merges doc into the stored document, adding it when missing.
	Update(ctx context.Context, index string, doc record.Record) error

	// Get returns a stored document, or nil.
	Get(ctx context.Context, index, ref string) (record.Record, error)

	// Remove deletes a document by reference.
	Remove(ctx context.Context, index, ref string) error

	// Search matches text against the index. Empty text returns every
	// document before filtering, sorting and pagination.
	Search(ctx context.Context, index, text string, q search.Query) (search.Result, error)

	// BuildIndex replaces the index content with docs.
	BuildIndex(ctx context.Context, index string, docs []record.Record) error

	// TotalCount returns the number of documents in the index.
	TotalCount(ctx context.Context, index string) (int, error)

	// Name returns the adapter name.
	Name() string
}

// -----------------------------------------------------------------------------
// Identity Ports
// -----------------------------------------------------------------------------

// Authenticator verifies a bearer token and returns the caller.
// Identity failures are returned as *apierr.AuthError.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*access.Actor, error)
}

// PermissionSource resolves the permissions granted to a role.
type PermissionSource interface {
	Permissions(ctx context.Context, role string) ([]string, error)
}
