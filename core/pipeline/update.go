package pipeline

import (
	"context"

	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/natsort"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
)

// Update merges input["data"] into the record identified by input["id"].
func (p *Pipeline) Update(ctx context.Context, input record.Record, req resource.Request, res resource.Response) (any, error) {
	c := &resource.Call{Resource: p.def.Key, Op: OpUpdate, Req: req, Res: res}
	return p.run(ctx, c, func(ctx context.Context, c *resource.Call) (Outcome, error) {
		op := p.operation(OpUpdate)

		id := natsort.String(input["id"])
		if id == "" {
			return Fail, apierr.Validation(`"id" is required`, []validation.FieldError{
				{Field: "id", Rule: "required", Message: `"id" is required`},
			})
		}

		data, _ := input["data"].(record.Record)
		data = record.Clone(data)
		if data == nil {
			data = record.Record{}
		}
		schema := validation.Merge(p.defaults.Update, op.ValidateSchema)
		data, err := validation.Validate(data, schema, validation.Options{})
		if err != nil {
			return Fail, err
		}
		if err := op.JSONSchema.Validate(data); err != nil {
			return Fail, err
		}

		p.stamp(c, data, record.UpdatedAtField, record.UpdatedByField)
		c.ID = id
		c.Data = data
		c.Input = record.Record{"id": id, "data": data}

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
			opts := record.UpdateOptions{OverrideIfNotExist: op.OverrideIfNotExist}
			rec, err := p.x.Store.Update(ctx, p.def.Key, c.ID, c.Data, opts)
			if err != nil {
				return Fail, err
			}
			c.Result = rec
		}

		if rec, ok := c.Result.(record.Record); ok {
			if err := p.syncIndex(ctx, c, rec, events.ActionUpdated); err != nil {
				return Fail, err
			}
			p.publish(ctx, events.ActionUpdated, c.ID, rec)
		}

		return p.hook(ctx, op.OnAfter, c)
	})
}
