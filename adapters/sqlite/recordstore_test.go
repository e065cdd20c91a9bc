package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/amber7117/server-api/adapters/idgen"
	"github.com/amber7117/server-api/adapters/sqlite"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
)

func setupTestStore(t *testing.T) *sqlite.RecordStore {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	store := sqlite.NewRecordStore(db, idgen.NewSequential("rec_"))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordStore_CreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "products", record.Record{"key": "p1", "make": "audi", "price": 10})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.Key(created) != "p1" {
		t.Errorf("key = %q, want p1", record.Key(created))
	}

	got, err := store.Get(ctx, "products", "p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["make"] != "audi" || got["price"] != float64(10) || record.Key(got) != "p1" {
		t.Errorf("Get() = %v", got)
	}

	generated, err := store.Create(ctx, "products", record.Record{"make": "bmw"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.Key(generated) != "rec_1" {
		t.Errorf("generated key = %q, want rec_1", record.Key(generated))
	}

	missing, err := store.Get(ctx, "products", "nope")
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestRecordStore_CreateDuplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "faq", record.Record{"key": "q1"}); err != nil {
		t.Fatal(err)
	}
	_, err := store.Create(ctx, "faq", record.Record{"key": "q1"})
	if apierr.StatusOf(err) != 409 {
		t.Errorf("duplicate status = %d, want 409 (err %v)", apierr.StatusOf(err), err)
	}
	if _, err := store.Create(ctx, "other", record.Record{"key": "q1"}); err != nil {
		t.Errorf("same key in another bucket: %v", err)
	}
}

func TestRecordStore_Update(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	store.Create(ctx, "products", record.Record{"key": "p1", "make": "audi", "model": "a4"})

	updated, err := store.Update(ctx, "products", "p1", record.Record{"model": "a6"}, record.UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated["make"] != "audi" || updated["model"] != "a6" {
		t.Errorf("Update() = %v", updated)
	}

	got, _ := store.Get(ctx, "products", "p1")
	if got["model"] != "a6" {
		t.Errorf("stored model = %v, want a6", got["model"])
	}

	_, err = store.Update(ctx, "products", "p9", record.Record{"model": "x"}, record.UpdateOptions{})
	if !apierr.IsNotFound(err) {
		t.Errorf("Update(missing) error = %v, want 404", err)
	}

	created, err := store.Update(ctx, "products", "p9", record.Record{"model": "x"}, record.UpdateOptions{OverrideIfNotExist: true})
	if err != nil || created["model"] != "x" || record.Key(created) != "p9" {
		t.Errorf("Update(override) = %v, %v", created, err)
	}
}

func TestRecordStore_Remove(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	store.Create(ctx, "faq", record.Record{"key": "q1", "title": "How"})

	removed, err := store.Remove(ctx, "faq", "q1")
	if err != nil || removed["title"] != "How" {
		t.Fatalf("Remove() = %v, %v", removed, err)
	}
	again, err := store.Remove(ctx, "faq", "q1")
	if err != nil || again != nil {
		t.Errorf("second Remove() = %v, %v; want nil, nil", again, err)
	}
}

func TestRecordStore_Find(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	for _, r := range []record.Record{
		{"key": "c", "name": "item10"},
		{"key": "a", "name": "item2"},
		{"key": "b", "name": "item1"},
	} {
		if _, err := store.Create(ctx, "products", r); err != nil {
			t.Fatal(err)
		}
	}
	store.Create(ctx, "faq", record.Record{"key": "q1"})

	tests := []struct {
		name   string
		params record.FindParams
		want   []string
	}{
		{"all by key", record.FindParams{All: true}, []string{"a", "b", "c"}},
		{"natural order", record.FindParams{All: true, OrderBy: "name"}, []string{"b", "a", "c"}},
		{"page", record.FindParams{Count: 1, NextPageToken: "a"}, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := store.Find(ctx, "products", tt.params)
			if err != nil {
				t.Fatalf("Find failed: %v", err)
			}
			var got []string
			for _, r := range recs {
				got = append(got, record.Key(r))
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Find() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Find() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}
}
