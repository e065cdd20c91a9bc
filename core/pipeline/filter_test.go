package pipeline

import (
	"fmt"
	"testing"

	"github.com/amber7117/server-api/domain/record"
)

func TestFilterCache_Bounded(t *testing.T) {
	f := newFilterCache(8)

	for i := range 100 {
		if _, err := f.predicate(fmt.Sprintf("price > %d", i)); err != nil {
			t.Fatalf("predicate() error = %v", err)
		}
	}
	if got := f.size(); got != 8 {
		t.Errorf("cached programs = %d, want 8", got)
	}

	// Evicted sources compile again.
	match, err := f.predicate("price > 0")
	if err != nil {
		t.Fatalf("predicate() error = %v", err)
	}
	if !match(record.Record{"price": 5}) || match(record.Record{"price": 0}) {
		t.Error("recompiled filter evaluates incorrectly")
	}
}

func TestFilterCache_Invalid(t *testing.T) {
	f := newFilterCache(8)
	if _, err := f.predicate("price >"); err == nil {
		t.Error("expected error for invalid filter")
	}
	if f.size() != 0 {
		t.Errorf("invalid filter cached")
	}
}
