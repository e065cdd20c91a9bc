// Package record defines the opaque document type stored by record stores
// and the pagination rules shared by store implementations.
package record

import (
	"maps"
	"slices"
	"sort"
	"strconv"

	"github.com/amber7117/server-api/domain/natsort"
)

// Record is an opaque document identified by a string key.
type Record = map[string]any

// System fields stamped by the pipeline.
const (
	KeyField       = "key"
	CreatedAtField = "createdAt"
	CreatedByField = "createdBy"
	UpdatedAtField = "updatedAt"
	UpdatedByField = "updatedBy"
)

// DefaultCount is the page size when a find request does not specify one.
const DefaultCount = 10

// Path returns the hierarchical location of a record.
func Path(bucket, id string) string {
	return "/" + bucket + "/" + id
}

// Key returns the record's key field, or "".
func Key(r Record) string {
	if r == nil {
		return ""
	}
	k, _ := r[KeyField].(string)
	return k
}

// Clone returns a shallow copy of r.
func Clone(r Record) Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// WithKey returns a copy of r annotated with key.
func WithKey(r Record, key string) Record {
	out := make(Record, len(r)+1)
	maps.Copy(out, r)
	out[KeyField] = key
	return out
}

// Merge applies patch over base field by field and returns a new record.
func Merge(base, patch Record) Record {
	out := make(Record, len(base)+len(patch))
	maps.Copy(out, base)
	maps.Copy(out, patch)
	return out
}

// UpdateOptions configures a store update.
type UpdateOptions struct {
	// OverrideIfNotExist creates the record when it is missing.
	OverrideIfNotExist bool
}

// FindParams are the storage-level pagination parameters.
type FindParams struct {
	// All bypasses pagination and returns every record.
	All bool

	// Count is the page size.
	Count int

	// OrderBy is the field to order by; the key when empty.
	OrderBy string

	// EqualTo keeps only records whose order field equals the value.
	EqualTo string

	// StartAt and EndAt bound the order field (inclusive).
	StartAt string
	EndAt   string

	// StartAtKey and EndAtKey narrow the bounds by key among records whose
	// order field equals StartAt or EndAt.
	StartAtKey string
	EndAtKey   string

	// NextPageToken is the key of the last record of the previous page.
	NextPageToken string
}

// ParamsFromQuery extracts FindParams from a validated find query.
func ParamsFromQuery(q Record) FindParams {
	p := FindParams{
		All:           asBool(q["all"]),
		Count:         asInt(q["count"]),
		OrderBy:       asString(q["orderBy"]),
		EqualTo:       asString(q["equalTo"]),
		StartAt:       asString(q["startAt"]),
		EndAt:         asString(q["endAt"]),
		StartAtKey:    asString(q["startAtKey"]),
		EndAtKey:      asString(q["endAtKey"]),
		NextPageToken: asString(q["nextPageToken"]),
	}
	return p
}

// Paginate orders records and applies the find parameters. Each record
// must already carry its key field.
func Paginate(records []Record, p FindParams) []Record {
	orderBy := p.OrderBy
	if orderBy == "" {
		orderBy = KeyField
	}

	c := natsort.New()
	sorted := make([]Record, 0, len(records))
	for _, r := range records {
		v := natsort.String(r[orderBy])
		if p.EqualTo != "" && v != p.EqualTo {
			continue
		}
		if p.StartAt != "" {
			cmp := c.Compare(v, p.StartAt)
			if cmp < 0 || (cmp == 0 && p.StartAtKey != "" && Key(r) < p.StartAtKey) {
				continue
			}
		}
		if p.EndAt != "" {
			cmp := c.Compare(v, p.EndAt)
			if cmp > 0 || (cmp == 0 && p.EndAtKey != "" && Key(r) > p.EndAtKey) {
				continue
			}
		}
		sorted = append(sorted, r)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if cmp := c.Compare(sorted[i][orderBy], sorted[j][orderBy]); cmp != 0 {
			return cmp < 0
		}
		return Key(sorted[i]) < Key(sorted[j])
	})

	if p.All {
		return sorted
	}

	// An unknown token yields an empty page rather than restarting.
	if p.NextPageToken != "" {
		i := slices.IndexFunc(sorted, func(r Record) bool { return Key(r) == p.NextPageToken })
		if i < 0 {
			return []Record{}
		}
		sorted = sorted[i+1:]
	}

	count := p.Count
	if count <= 0 {
		count = DefaultCount
	}
	if len(sorted) > count {
		sorted = sorted[:count]
	}
	return sorted
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return natsort.String(val)
	}
}

func asInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		n, _ := strconv.Atoi(val)
		return n
	}
	return 0
}

func asBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	}
	return false
}
