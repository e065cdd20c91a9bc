package pipeline

import (
	"context"

	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/record"
)

// Create validates and stores a new record.
func (p *Pipeline) Create(ctx context.Context, input record.Record, req resource.Request, res resource.Response, opts resource.CreateOptions) (any, error) {
	c := &resource.Call{Resource: p.def.Key, Op: OpCreate, Req: req, Res: res}
	return p.run(ctx, c, func(ctx context.Context, c *resource.Call) (Outcome, error) {
		op := p.operation(OpCreate)

		data := record.Clone(input)
		if data == nil {
			data = record.Record{}
		}
		if !opts.SkipValidation {
			var err error
			schema := validation.Merge(p.defaults.Create, op.ValidateSchema)
			if data, err = validation.Validate(data, schema, validation.Options{}); err != nil {
				return Fail, err
			}
			if err := op.JSONSchema.Validate(data); err != nil {
				return Fail, err
			}
		}

		p.stamp(c, data, record.CreatedAtField, record.CreatedByField)
		c.Input = data

		if out, err := p.hook(ctx, op.OnBefore, c); out != Continue {
			return out, err
		}

		if op.Method != nil {
			result, err := op.Method(ctx, p.x, c)
			if err != nil {
				return Fail, err
			}
			c.Result = result
		} else {
			rec, err := p.x.Store.Create(ctx, p.def.Key, c.Input)
			if err != nil {
				return Fail, err
			}
			c.Result = rec
		}

		if rec, ok := c.Result.(record.Record); ok {
			if err := p.syncIndex(ctx, c, rec, events.ActionCreated); err != nil {
				return Fail, err
			}
			p.publish(ctx, events.ActionCreated, record.Key(rec), rec)
		}

		return p.hook(ctx, op.OnAfter, c)
	})
}
