package state

import (
	"errors"
	"sync"
	"testing"

	"github.com/amber7117/server-api/config"
)

func TestConfigSnapshot(t *testing.T) {
	first := &config.Config{}
	first.Search.Size = 10
	s := New(first)

	if s.Config() != first {
		t.Fatal("Config() did not return the initial snapshot")
	}

	second := &config.Config{}
	second.Search.Size = 20
	s.SetConfig(second)
	if s.Config().Search.Size != 20 {
		t.Errorf("Search.Size = %d, want 20", s.Config().Search.Size)
	}
}

func TestIndexLifecycle(t *testing.T) {
	s := New(&config.Config{})

	if !s.Ready() {
		t.Error("empty state should be ready")
	}

	s.Track("products")
	s.Track("faq")
	if s.Ready() {
		t.Error("Ready() with pending indexes")
	}

	s.MarkBuilt("products", 3)
	s.MarkFailed("faq", errors.New("no store"))

	if !s.Ready() {
		t.Error("Ready() should be true once no index is pending")
	}

	info, ok := s.Index("products")
	if !ok || info.Status != IndexBuilt || info.Documents != 3 {
		t.Errorf("products = %+v", info)
	}
	info, _ = s.Index("faq")
	if info.Status != IndexFailed || info.Error != "no store" {
		t.Errorf("faq = %+v", info)
	}

	all := s.Indexes()
	delete(all, "faq")
	if _, ok := s.Index("faq"); !ok {
		t.Error("Indexes() must return a copy")
	}
}

func TestConcurrentMarks(t *testing.T) {
	s := New(&config.Config{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.MarkCreated("idx")
		}()
		go func() {
			defer wg.Done()
			_ = s.Ready()
		}()
	}
	wg.Wait()
	if info, _ := s.Index("idx"); info.Status != IndexCreated {
		t.Errorf("status = %s", info.Status)
	}
}
