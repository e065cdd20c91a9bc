package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/amber7117/server-api/ports"
	"github.com/mattn/go-sqlite3"
)

// RecordStore implements ports.RecordStore using SQLite. Every record is a
// JSON document in the records table keyed by (bucket, id).
type RecordStore struct {
	db  *DB
	ids ports.IDGenerator
}

// NewRecordStore creates a new record store. ids generates keys for
// records created without a key field.
func NewRecordStore(db *DB, ids ports.IDGenerator) *RecordStore {
	return &RecordStore{db: db, ids: ids}
}

// Name returns the adapter name.
func (s *RecordStore) Name() string { return "sqlite" }

// Close closes the underlying database.
func (s *RecordStore) Close() error { return s.db.Close() }

// DefaultSchema returns the pagination schema for find.
func (s *RecordStore) DefaultSchema() validation.Defaults {
	return validation.PageDefaults()
}

// Create inserts a new record.
func (s *RecordStore) Create(ctx context.Context, bucket string, data record.Record) (record.Record, error) {
	id := record.Key(data)
	if id == "" {
		id = s.ids.New()
	}

	stored := record.Clone(data)
	if stored == nil {
		stored = record.Record{}
	}
	delete(stored, record.KeyField)

	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, apierr.Wrap(http.StatusBadRequest, fmt.Errorf("encode record: %w", err))
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (bucket, id, data) VALUES (?, ?, ?)`,
		bucket, id, string(raw),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.Conflict(fmt.Sprintf("Record %s already exists", record.Path(bucket, id)))
		}
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return record.WithKey(stored, id), nil
}

// Get retrieves a record. Returns nil when missing.
func (s *RecordStore) Get(ctx context.Context, bucket, id string) (record.Record, error) {
	r, err := s.load(ctx, s.db.DB, bucket, id)
	if err != nil || r == nil {
		return nil, err
	}
	return record.WithKey(r, id), nil
}

// Update merges data into an existing record inside a transaction.
func (s *RecordStore) Update(ctx context.Context, bucket, id string, data record.Record, opts record.UpdateOptions) (record.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.load(ctx, tx, bucket, id)
	if err != nil {
		return nil, err
	}
	if existing == nil && !opts.OverrideIfNotExist {
		return nil, apierr.NotFound("")
	}

	merged := record.Merge(existing, data)
	delete(merged, record.KeyField)
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, apierr.Wrap(http.StatusBadRequest, fmt.Errorf("encode record: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (bucket, id, data) VALUES (?, ?, ?)
		ON CONFLICT (bucket, id) DO UPDATE SET
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP
	`, bucket, id, string(raw))
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return record.WithKey(merged, id), nil
}

// Remove deletes a record and returns it. Returns nil when missing.
func (s *RecordStore) Remove(ctx context.Context, bucket, id string) (record.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.load(ctx, tx, bucket, id)
	if err != nil || existing == nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE bucket = ? AND id = ?`, bucket, id); err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return record.WithKey(existing, id), nil
}

// Find returns a page of records.
func (s *RecordStore) Find(ctx context.Context, bucket string, params record.FindParams) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM records WHERE bucket = ? ORDER BY seq`,
		bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var all []record.Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r, err := decode(raw)
		if err != nil {
			return nil, err
		}
		all = append(all, record.WithKey(r, id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return record.Paginate(all, params), nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *RecordStore) load(ctx context.Context, q querier, bucket, id string) (record.Record, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM records WHERE bucket = ? AND id = ?`,
		bucket, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return decode(raw)
}

func decode(raw string) (record.Record, error) {
	var r record.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if r == nil {
		r = record.Record{}
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Ensure interface compliance.
var _ ports.RecordStore = (*RecordStore)(nil)
