package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/natsort"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
	"golang.org/x/sync/errgroup"
)

// Get reads the records named by the comma-separated input["id"]. One id
// yields the record or a 404; several ids yield the records that exist in
// request order, each annotated with its key.
func (p *Pipeline) Get(ctx context.Context, input record.Record, req resource.Request, res resource.Response) (any, error) {
	c := &resource.Call{Resource: p.def.Key, Op: OpGet, Req: req, Res: res}
	return p.run(ctx, c, func(ctx context.Context, c *resource.Call) (Outcome, error) {
		op := p.operation(OpGet)
		if err := p.prepareBatch(c, input, validation.Merge(p.defaults.Get, op.ValidateSchema), op); err != nil {
			return Fail, err
		}
		if out, err := p.hook(ctx, op.OnBefore, c); out != Continue {
			return out, err
		}

		results := p.fanOut(ctx, c, op, func(ctx context.Context, id string) (record.Record, error) {
			if op.EachMethod != nil {
				return op.EachMethod(ctx, p.x, c, id)
			}
			return p.x.Store.Get(ctx, p.def.Key, id)
		})
		if c.Responded() {
			return ShortCircuit, nil
		}

		if err := p.singleFailure(c, results); err != nil {
			return Fail, err
		}

		found := make([]record.Record, 0, len(c.IDs))
		for _, id := range c.IDs {
			if rec, ok := results[id].(record.Record); ok {
				found = append(found, record.WithKey(rec, id))
			}
		}
		if len(c.IDs) == 1 {
			c.Result = found[0]
		} else {
			c.Result = found
		}

		return p.hook(ctx, op.OnAfter, c)
	})
}

// Remove deletes the records named by the comma-separated input["id"] from
// the store and the search index. The result maps every id to the removed
// record or its failure.
func (p *Pipeline) Remove(ctx context.Context, input record.Record, req resource.Request, res resource.Response) (any, error) {
	c := &resource.Call{Resource: p.def.Key, Op: OpRemove, Req: req, Res: res}
	return p.run(ctx, c, func(ctx context.Context, c *resource.Call) (Outcome, error) {
		op := p.operation(OpRemove)
		if err := p.prepareBatch(c, input, validation.Merge(p.defaults.Remove, op.ValidateSchema), op); err != nil {
			return Fail, err
		}
		if out, err := p.hook(ctx, op.OnBefore, c); out != Continue {
			return out, err
		}

		results := p.fanOut(ctx, c, op, func(ctx context.Context, id string) (record.Record, error) {
			var (
				rec record.Record
				err error
			)
			if op.EachMethod != nil {
				rec, err = op.EachMethod(ctx, p.x, c, id)
			} else {
				rec, err = p.x.Store.Remove(ctx, p.def.Key, id)
			}
			if err != nil || rec == nil {
				return rec, err
			}
			if err := p.unindex(ctx, c, id); err != nil {
				return nil, err
			}
			p.publish(ctx, events.ActionRemoved, id, rec)
			return rec, nil
		})
		if c.Responded() {
			return ShortCircuit, nil
		}

		if err := p.singleFailure(c, results); err != nil {
			return Fail, err
		}
		c.Result = results

		return p.hook(ctx, op.OnAfter, c)
	})
}

// prepareBatch validates the batch input and splits its ids.
func (p *Pipeline) prepareBatch(c *resource.Call, input record.Record, schema validation.Schema, op *resource.Operation) error {
	data := record.Clone(input)
	if data == nil {
		data = record.Record{}
	}
	if len(schema) > 0 {
		var err error
		if data, err = validation.Validate(data, validation.Merge(validation.IDParam(), schema), validation.Options{}); err != nil {
			return err
		}
	}
	if err := op.JSONSchema.Validate(data); err != nil {
		return err
	}

	c.Input = data
	c.IDs = splitIDs(natsort.String(data["id"]))
	if len(c.IDs) == 0 {
		return apierr.Validation(`"id" is required`, []validation.FieldError{
			{Field: "id", Rule: "required", Message: `"id" is required`},
		})
	}
	return nil
}

// fanOut runs each id concurrently through its before hook, fn and after
// hook. A failing id stores an *apierr.ItemError at its slot; fn returning
// a nil record fails the id with a 404.
func (p *Pipeline) fanOut(ctx context.Context, c *resource.Call, op *resource.Operation, fn func(ctx context.Context, id string) (record.Record, error)) map[string]any {
	var (
		mu      sync.Mutex
		results = make(map[string]any, len(c.IDs))
	)

	var g errgroup.Group
	g.SetLimit(p.batchConcurrency())
	for _, id := range c.IDs {
		g.Go(func() error {
			rec, err := p.each(ctx, c, op, id, fn)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.observer.BatchItemFailed(p.def.Key, c.Op)
				results[id] = apierr.Item(err)
				return nil
			}
			results[id] = rec
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) each(ctx context.Context, c *resource.Call, op *resource.Operation, id string, fn func(ctx context.Context, id string) (record.Record, error)) (record.Record, error) {
	if op.OnBeforeEach != nil {
		if err := op.OnBeforeEach(ctx, p.x, c, id, nil); err != nil {
			return nil, err
		}
	}

	rec, err := fn(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierr.NotFound("")
	}

	if op.OnAfterEach != nil {
		if err := op.OnAfterEach(ctx, p.x, c, id, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// singleFailure escalates the failure of a single-id batch.
func (p *Pipeline) singleFailure(c *resource.Call, results map[string]any) error {
	if len(c.IDs) != 1 {
		return nil
	}
	item, ok := results[c.IDs[0]].(*apierr.ItemError)
	if !ok {
		return nil
	}
	return &apierr.BatchError{
		Resource:  p.def.Key,
		Operation: c.Op,
		Details:   map[string]*apierr.ItemError{c.IDs[0]: item},
	}
}

func splitIDs(s string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, id := range strings.Split(s, ",") {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
