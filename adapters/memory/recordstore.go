// Package memory provides an in-memory record store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/amber7117/server-api/ports"
)

// RecordStore is an in-memory implementation of ports.RecordStore.
// Records are kept by path (/{bucket}/{id}).
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]map[string]record.Record // bucket -> id -> fields
	ids     ports.IDGenerator
}

// NewRecordStore creates an empty store. ids generates keys for records
// created without a key field.
func NewRecordStore(ids ports.IDGenerator) *RecordStore {
	return &RecordStore{
		records: make(map[string]map[string]record.Record),
		ids:     ids,
	}
}

// Name returns the adapter name.
func (s *RecordStore) Name() string { return "memory" }

// Close is a no-op.
func (s *RecordStore) Close() error { return nil }

// DefaultSchema returns the pagination schema for find.
func (s *RecordStore) DefaultSchema() validation.Defaults {
	return validation.PageDefaults()
}

// Create stores a new record.
func (s *RecordStore) Create(ctx context.Context, bucket string, data record.Record) (record.Record, error) {
	id := record.Key(data)
	if id == "" {
		id = s.ids.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(bucket)
	if _, exists := b[id]; exists {
		return nil, apierr.Conflict(fmt.Sprintf("Record %s already exists", record.Path(bucket, id)))
	}

	stored := record.Clone(data)
	if stored == nil {
		stored = record.Record{}
	}
	delete(stored, record.KeyField)
	b[id] = stored
	return record.WithKey(stored, id), nil
}

// Get retrieves a record. Returns nil when missing.
func (s *RecordStore) Get(ctx context.Context, bucket, id string) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[bucket][id]
	if !ok {
		return nil, nil
	}
	return record.WithKey(r, id), nil
}

// Update merges data into an existing record.
func (s *RecordStore) Update(ctx context.Context, bucket, id string, data record.Record, opts record.UpdateOptions) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(bucket)
	existing, ok := b[id]
	if !ok && !opts.OverrideIfNotExist {
		return nil, apierr.NotFound("")
	}

	merged := record.Merge(existing, data)
	delete(merged, record.KeyField)
	b[id] = merged
	return record.WithKey(merged, id), nil
}

// Remove deletes a record and returns it. Returns nil when missing.
func (s *RecordStore) Remove(ctx context.Context, bucket, id string) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[bucket][id]
	if !ok {
		return nil, nil
	}
	delete(s.records[bucket], id)
	return record.WithKey(r, id), nil
}

// Find returns a page of records.
func (s *RecordStore) Find(ctx context.Context, bucket string, params record.FindParams) ([]record.Record, error) {
	s.mu.RLock()
	all := make([]record.Record, 0, len(s.records[bucket]))
	for id, r := range s.records[bucket] {
		all = append(all, record.WithKey(r, id))
	}
	s.mu.RUnlock()

	return record.Paginate(all, params), nil
}

// bucket returns the bucket map, creating it. Caller holds the write lock.
func (s *RecordStore) bucket(name string) map[string]record.Record {
	b, ok := s.records[name]
	if !ok {
		b = make(map[string]record.Record)
		s.records[name] = b
	}
	return b
}

// Ensure interface compliance.
var _ ports.RecordStore = (*RecordStore)(nil)
