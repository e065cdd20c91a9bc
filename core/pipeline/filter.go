package pipeline

import (
	"fmt"

	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// FilterCacheSize bounds the compiled filter programs kept per resource.
// Filters come from clients, so the least recently used are evicted.
const FilterCacheSize = 256

// filterCache compiles find filter expressions once per source text.
type filterCache struct {
	cache *lru.Cache[string, *vm.Program]
}

func newFilterCache(size int) *filterCache {
	cache, err := lru.New[string, *vm.Program](size)
	if err != nil {
		panic(fmt.Sprintf("filter cache: %v", err))
	}
	return &filterCache{cache: cache}
}

// predicate compiles source into a document predicate. Fields missing from
// a document evaluate to nil.
func (f *filterCache) predicate(source string) (func(record.Record) bool, error) {
	program, err := f.getOrCompile(source)
	if err != nil {
		return nil, apierr.Validation(fmt.Sprintf("invalid filter: %v", err), map[string]any{"filter": source})
	}
	return func(doc record.Record) bool {
		out, err := expr.Run(program, map[string]any(doc))
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		return ok
	}, nil
}

func (f *filterCache) getOrCompile(source string) (*vm.Program, error) {
	if program, ok := f.cache.Get(source); ok {
		return program, nil
	}

	program, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	f.cache.Add(source, program)
	return program, nil
}

func (f *filterCache) size() int { return f.cache.Len() }
