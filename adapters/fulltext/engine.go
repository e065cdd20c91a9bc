// Package fulltext provides the in-memory search index: one document store
// plus per-field inverted index per logical index name.
package fulltext

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/amber7117/server-api/domain/natsort"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
	"github.com/amber7117/server-api/ports"
	"github.com/rs/zerolog"
)

// ErrNoIndex is returned for operations on an index that was never created.
var ErrNoIndex = errors.New("no such index")

// Engine is an in-memory implementation of ports.SearchIndex.
type Engine struct {
	mu      sync.RWMutex
	indexes map[string]*index
	logger  zerolog.Logger
}

// NewEngine creates an engine with no indexes.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		indexes: make(map[string]*index),
		logger:  logger,
	}
}

// Name returns the adapter name.
func (e *Engine) Name() string { return "memory" }

// CreateIndex creates a named index, replacing any existing one.
func (e *Engine) CreateIndex(ctx context.Context, name string, cfg search.IndexConfig) error {
	cfg = search.Merge(search.IndexConfig{}, cfg)

	e.mu.Lock()
	e.indexes[name] = newIndex(cfg)
	e.mu.Unlock()

	e.logger.Debug().
		Str("index", name).
		Str("ref", cfg.Ref).
		Strs("fields", cfg.Fields).
		Msg("index created")
	return nil
}

// RemoveIndex drops a named index.
func (e *Engine) RemoveIndex(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.indexes, name)
	return nil
}

// Put adds or replaces a document.
func (e *Engine) Put(ctx context.Context, name string, doc record.Record) error {
	idx, err := e.index(name)
	if err != nil {
		return err
	}
	return idx.put(doc)
}

// Update merges doc into the stored document with the same reference.
func (e *Engine) Update(ctx context.Context, name string, doc record.Record) error {
	idx, err := e.index(name)
	if err != nil {
		return err
	}
	return idx.update(doc)
}

// Get returns a copy of a stored document, or nil.
func (e *Engine) Get(ctx context.Context, name, ref string) (record.Record, error) {
	idx, err := e.index(name)
	if err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return record.Clone(idx.docs[ref]), nil
}

// Remove deletes a document.
func (e *Engine) Remove(ctx context.Context, name, ref string) error {
	idx, err := e.index(name)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.remove(ref)
	return nil
}

// BuildIndex adds every document to the index.
func (e *Engine) BuildIndex(ctx context.Context, name string, docs []record.Record) error {
	idx, err := e.index(name)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := idx.put(doc); err != nil {
			return err
		}
	}
	return nil
}

// TotalCount returns the number of documents in the index.
func (e *Engine) TotalCount(ctx context.Context, name string) (int, error) {
	idx, err := e.index(name)
	if err != nil {
		return 0, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs), nil
}

// Search runs a query. See ports.SearchIndex.
func (e *Engine) Search(ctx context.Context, name, text string, q search.Query) (search.Result, error) {
	idx, err := e.index(name)
	if err != nil {
		return search.Result{}, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var refs []string
	switch {
	case q.Operator == search.OperatorEquals:
		refs = idx.equals(q.SearchField, text)
	case strings.TrimSpace(text) == "":
		refs = idx.all()
	default:
		refs = idx.match(text, q.SearchField)
	}

	// Filter and sort on the full documents; reads may only hold refs.
	if q.PreFilter != nil {
		kept := refs[:0]
		for _, ref := range refs {
			if q.PreFilter(idx.src[ref]) {
				kept = append(kept, ref)
			}
		}
		refs = kept
	}

	if q.Sort != "" {
		c := natsort.New()
		desc := q.Descending()
		sort.SliceStable(refs, func(i, j int) bool {
			cmp := c.Compare(idx.src[refs[i]][q.Sort], idx.src[refs[j]][q.Sort])
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	total := len(refs)
	if !q.All {
		refs = page(refs, q.From, q.Size)
	}
	results := idx.collect(refs)
	return search.Result{Total: total, Data: results}, nil
}

func (e *Engine) index(name string) (*index, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.indexes[name]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", name, ErrNoIndex)
	}
	return idx, nil
}

func page(refs []string, from, size int) []string {
	if from < 0 {
		from = 0
	}
	if size <= 0 {
		size = search.DefaultSize
	}
	if from >= len(refs) {
		return nil
	}
	end := min(from+size, len(refs))
	return refs[from:end]
}

// -----------------------------------------------------------------------------
// index
// -----------------------------------------------------------------------------

type index struct {
	mu  sync.RWMutex
	cfg search.IndexConfig

	// docs are the documents returned by reads: full copies when the index
	// saves documents, otherwise only the reference field.
	docs map[string]record.Record
	// src are the full documents, used for equality checks and merges.
	src map[string]record.Record

	seq  map[string]uint64 // insertion order
	next uint64

	// postings[field][token][ref] = term frequency
	postings map[string]map[string]map[string]int
	// lengths[field][ref] = token count
	lengths map[string]map[string]int
	// terms[ref][field] = distinct tokens, for removal
	terms map[string]map[string][]string
}

func newIndex(cfg search.IndexConfig) *index {
	idx := &index{
		cfg:      cfg,
		docs:     make(map[string]record.Record),
		src:      make(map[string]record.Record),
		seq:      make(map[string]uint64),
		postings: make(map[string]map[string]map[string]int),
		lengths:  make(map[string]map[string]int),
		terms:    make(map[string]map[string][]string),
	}
	for _, f := range cfg.Fields {
		idx.postings[f] = make(map[string]map[string]int)
		idx.lengths[f] = make(map[string]int)
	}
	return idx
}

func (idx *index) refOf(doc record.Record) (string, error) {
	ref := natsort.String(doc[idx.cfg.Ref])
	if ref == "" {
		return "", fmt.Errorf("document has no %q field", idx.cfg.Ref)
	}
	return ref, nil
}

func (idx *index) put(doc record.Record) error {
	ref, err := idx.refOf(doc)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.add(ref, doc)
	return nil
}

func (idx *index) update(doc record.Record) error {
	ref, err := idx.refOf(doc)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.add(ref, record.Merge(idx.src[ref], doc))
	return nil
}

// add indexes doc under ref, replacing a previous version. Caller holds the
// write lock.
func (idx *index) add(ref string, doc record.Record) {
	seq, existed := idx.seq[ref]
	idx.remove(ref)
	if !existed {
		idx.next++
		seq = idx.next
	}
	idx.seq[ref] = seq

	full := record.Clone(doc)
	idx.src[ref] = full
	if idx.cfg.SaveDocument {
		idx.docs[ref] = full
	} else {
		idx.docs[ref] = record.Record{idx.cfg.Ref: doc[idx.cfg.Ref]}
	}

	fieldTerms := make(map[string][]string)
	for _, field := range idx.cfg.Fields {
		tokens := tokenize(doc[field])
		if len(tokens) == 0 {
			continue
		}
		idx.lengths[field][ref] = len(tokens)
		for _, tok := range tokens {
			refs, ok := idx.postings[field][tok]
			if !ok {
				refs = make(map[string]int)
				idx.postings[field][tok] = refs
			}
			if refs[ref] == 0 {
				fieldTerms[field] = append(fieldTerms[field], tok)
			}
			refs[ref]++
		}
	}
	idx.terms[ref] = fieldTerms
}

// remove deletes ref. Caller holds the write lock.
func (idx *index) remove(ref string) {
	if _, ok := idx.docs[ref]; !ok {
		return
	}
	for field, tokens := range idx.terms[ref] {
		for _, tok := range tokens {
			refs := idx.postings[field][tok]
			delete(refs, ref)
			if len(refs) == 0 {
				delete(idx.postings[field], tok)
			}
		}
		delete(idx.lengths[field], ref)
	}
	delete(idx.terms, ref)
	delete(idx.docs, ref)
	delete(idx.src, ref)
	delete(idx.seq, ref)
}

// all returns every document ref in insertion order.
func (idx *index) all() []string {
	refs := make([]string, 0, len(idx.docs))
	for ref := range idx.docs {
		refs = append(refs, ref)
	}
	idx.byInsertion(refs)
	return refs
}

// equals returns refs of documents whose field equals text, ignoring case. Without
// a field any indexed field may match.
func (idx *index) equals(field, text string) []string {
	fields := idx.cfg.Fields
	if field != "" {
		fields = []string{field}
	}

	var refs []string
	for ref, src := range idx.src {
		for _, f := range fields {
			if strings.EqualFold(natsort.String(src[f]), text) {
				refs = append(refs, ref)
				break
			}
		}
	}
	idx.byInsertion(refs)
	return refs
}

// match scores documents against the query tokens. With a search field,
// matching is restricted to it and query tokens also match indexed tokens
// they are a prefix of.
func (idx *index) match(text, field string) []string {
	fields := idx.cfg.Fields
	expand := false
	if field != "" {
		fields = []string{field}
		expand = true
	}

	n := float64(len(idx.docs))
	scores := make(map[string]float64)
	score := func(f string, refs map[string]int, weight float64) {
		idf := 1 + math.Log(n/float64(len(refs)+1))
		for ref, tf := range refs {
			norm := 1 / math.Sqrt(float64(idx.lengths[f][ref]))
			scores[ref] += weight * math.Sqrt(float64(tf)) * idf * idf * norm
		}
	}

	queryTokens := tokenize(text)
	for _, f := range fields {
		tokens, ok := idx.postings[f]
		if !ok {
			continue
		}
		for _, qt := range queryTokens {
			if !expand {
				if refs, ok := tokens[qt]; ok {
					score(f, refs, 1)
				}
				continue
			}
			for term, refs := range tokens {
				if strings.HasPrefix(term, qt) {
					score(f, refs, float64(len(qt))/float64(len(term)))
				}
			}
		}
	}

	refs := make([]string, 0, len(scores))
	for ref := range scores {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if scores[refs[i]] != scores[refs[j]] {
			return scores[refs[i]] > scores[refs[j]]
		}
		return idx.seq[refs[i]] < idx.seq[refs[j]]
	})
	return refs
}

func (idx *index) byInsertion(refs []string) {
	sort.Slice(refs, func(i, j int) bool {
		return idx.seq[refs[i]] < idx.seq[refs[j]]
	})
}

func (idx *index) collect(refs []string) []record.Record {
	out := make([]record.Record, 0, len(refs))
	for _, ref := range refs {
		out = append(out, record.Clone(idx.docs[ref]))
	}
	return out
}

// Ensure interface compliance.
var _ ports.SearchIndex = (*Engine)(nil)
