// Package state holds the process-scoped server state shared by every
// resource execution context.
//
// Initialization order: bootstrap creates the State, stores the loaded
// configuration with SetConfig, registers every indexed resource with
// Track, and only then starts serving requests. Index status moves from
// pending to created or built (or failed) in the background.
package state

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amber7117/server-api/config"
)

// IndexStatus is the bootstrap status of one search index.
type IndexStatus string

// Index statuses.
const (
	IndexPending IndexStatus = "pending"
	IndexCreated IndexStatus = "created"
	IndexBuilt   IndexStatus = "built"
	IndexFailed  IndexStatus = "failed"
)

// IndexInfo describes one index.
type IndexInfo struct {
	Name      string      `json:"name"`
	Status    IndexStatus `json:"status"`
	Documents int         `json:"documents"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// State is safe for concurrent use.
type State struct {
	cfg atomic.Pointer[config.Config]

	mu      sync.RWMutex
	indexes map[string]IndexInfo
	now     func() time.Time
}

// New creates an empty state.
func New(cfg *config.Config) *State {
	s := &State{
		indexes: make(map[string]IndexInfo),
		now:     time.Now,
	}
	s.cfg.Store(cfg)
	return s
}

// Config returns the current configuration snapshot.
func (s *State) Config() *config.Config {
	return s.cfg.Load()
}

// SetConfig replaces the configuration snapshot, e.g. after a hot reload.
func (s *State) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// Track registers an index as pending.
func (s *State) Track(index string) {
	s.set(index, IndexPending, 0, nil)
}

// MarkCreated records that the index exists (possibly still empty).
func (s *State) MarkCreated(index string) {
	s.set(index, IndexCreated, 0, nil)
}

// MarkBuilt records that the index was populated with n documents.
func (s *State) MarkBuilt(index string, n int) {
	s.set(index, IndexBuilt, n, nil)
}

// MarkFailed records a bootstrap failure.
func (s *State) MarkFailed(index string, err error) {
	s.set(index, IndexFailed, 0, err)
}

// Index returns the info for one index.
func (s *State) Index(index string) (IndexInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.indexes[index]
	return info, ok
}

// Indexes returns a copy of every index info.
func (s *State) Indexes() map[string]IndexInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.indexes)
}

// Ready reports whether every tracked index has left the pending state.
func (s *State) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, info := range s.indexes {
		if info.Status == IndexPending {
			return false
		}
	}
	return true
}

func (s *State) set(index string, status IndexStatus, docs int, err error) {
	info := IndexInfo{Name: index, Status: status, Documents: docs, UpdatedAt: s.now()}
	if err != nil {
		info.Error = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[index] = info
}
