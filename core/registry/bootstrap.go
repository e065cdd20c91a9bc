package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
	"golang.org/x/sync/errgroup"
)

// StartIndexBootstrap creates every search index, then fills them in the
// background and returns. Index creation is not ordered and completes
// before this returns, so writes never meet a missing index; requests
// served before an index is filled see a partial or empty index.
// state.Ready reports when all indexes are built. The returned channel
// yields the joined errors once.
func (r *Registry) StartIndexBootstrap(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	ready, createErr := r.createIndexes(ctx)
	go func() {
		defer close(done)
		done <- errors.Join(createErr, r.fillIndexes(context.WithoutCancel(ctx), ready))
	}()
	return done
}

// BuildIndexes creates and fills the index of every indexed resource.
// All indexes are created first. They are then filled in ascending Order;
// resources sharing an Order are filled concurrently. A failing resource
// does not stop the others.
func (r *Registry) BuildIndexes(ctx context.Context) error {
	ready, err := r.createIndexes(ctx)
	return errors.Join(err, r.fillIndexes(ctx, ready))
}

// created is an index ready to be filled.
type created struct {
	*entry
	cfg *resource.IndexingConfig
}

// createIndexes creates every index concurrently and returns those that
// succeeded, in Order.
func (r *Registry) createIndexes(ctx context.Context) ([]created, error) {
	if r.opts.Index == nil {
		return nil, nil
	}

	entries := r.indexed()
	out := make([]*created, len(entries))
	errs := make([]error, len(entries))

	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			cfg, err := r.createIndex(ctx, e)
			if err != nil {
				r.markFailed(e, err)
				errs[i] = fmt.Errorf("index %s: %w", e.exec.IndexName, err)
				return nil
			}
			out[i] = &created{entry: e, cfg: cfg}
			return nil
		})
	}
	_ = g.Wait()

	ready := make([]created, 0, len(out))
	for _, c := range out {
		if c != nil {
			ready = append(ready, *c)
		}
	}
	return ready, errors.Join(errs...)
}

func (r *Registry) createIndex(ctx context.Context, e *entry) (*resource.IndexingConfig, error) {
	x := e.exec
	cfg, err := e.def.ResolveIndexing(ctx, x, nil)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("indexing config resolved to nil")
	}

	var defaults search.IndexConfig
	if x.State != nil && x.State.Config() != nil {
		defaults = x.State.Config().Search.IndexDefaults()
	}
	if err := x.Index.CreateIndex(ctx, x.IndexName, search.Merge(defaults, cfg.IndexConfig)); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	if x.State != nil {
		x.State.MarkCreated(x.IndexName)
	}
	x.Logger.Info().Str("index", x.IndexName).Msg("index created")
	return cfg, nil
}

// fillIndexes loads documents into created indexes level by level.
func (r *Registry) fillIndexes(ctx context.Context, ready []created) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	for start := 0; start < len(ready); {
		end := start
		for end < len(ready) && ready[end].def.Order == ready[start].def.Order {
			end++
		}

		var g errgroup.Group
		for _, c := range ready[start:end] {
			g.Go(func() error {
				if err := r.buildIndex(ctx, c); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		start = end
	}
	return errors.Join(errs...)
}

func (r *Registry) markFailed(e *entry, err error) {
	x := e.exec
	if x.State != nil {
		x.State.MarkFailed(x.IndexName, err)
	}
	x.Logger.Error().Err(err).Str("index", x.IndexName).Msg("index bootstrap failed")
}

func (r *Registry) buildIndex(ctx context.Context, c created) error {
	start := time.Now()
	x := c.exec

	n, err := fillIndex(ctx, x, c.cfg)
	if err != nil {
		r.markFailed(c.entry, err)
		return fmt.Errorf("index %s: %w", x.IndexName, err)
	}

	if x.State != nil {
		x.State.MarkBuilt(x.IndexName, n)
	}
	if x.Events != nil {
		x.Events.Publish(ctx, events.Event{
			Name:     events.Name(c.def.Key, events.ActionIndexBuilt),
			Resource: c.def.Key,
			Action:   events.ActionIndexBuilt,
			Data:     record.Record{"index": x.IndexName, "documents": n},
		})
	}
	x.Logger.Info().
		Str("index", x.IndexName).
		Int("documents", n).
		Dur("duration", time.Since(start)).
		Msg("index built")
	return nil
}

func fillIndex(ctx context.Context, x *resource.Exec, cfg *resource.IndexingConfig) (int, error) {
	docs, err := initialDocuments(ctx, x, cfg)
	if err != nil {
		return 0, fmt.Errorf("load documents: %w", err)
	}
	if cfg.DataFormatter != nil {
		if docs, err = cfg.DataFormatter(ctx, x, docs); err != nil {
			return 0, fmt.Errorf("format documents: %w", err)
		}
	}
	if err := x.Index.BuildIndex(ctx, x.IndexName, docs); err != nil {
		return 0, fmt.Errorf("build: %w", err)
	}
	return x.Index.TotalCount(ctx, x.IndexName)
}

// initialDocuments returns the documents an index starts with: the
// resource's own PopulateIndex, or every stored record passed through
// Populate.
func initialDocuments(ctx context.Context, x *resource.Exec, cfg *resource.IndexingConfig) ([]record.Record, error) {
	if cfg.PopulateIndex != nil {
		return cfg.PopulateIndex(ctx, x)
	}

	recs, err := x.Store.Find(ctx, x.Key, record.FindParams{All: true})
	if err != nil {
		return nil, err
	}
	if cfg.Populate == nil {
		return recs, nil
	}

	docs := make([]record.Record, 0, len(recs))
	for _, rec := range recs {
		doc, err := cfg.Populate(ctx, x, rec, "bootstrap")
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}
