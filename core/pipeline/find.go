package pipeline

import (
	"context"

	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/natsort"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
)

// Find lists records. Indexed resources are searched through the index;
// others page through the store. all=true always reads every stored record.
// The result is a search.Result unless a method override returns something
// else.
func (p *Pipeline) Find(ctx context.Context, input record.Record, req resource.Request, res resource.Response) (any, error) {
	c := &resource.Call{Resource: p.def.Key, Op: OpFind, Req: req, Res: res}
	return p.run(ctx, c, func(ctx context.Context, c *resource.Call) (Outcome, error) {
		op := p.operation(OpFind)

		idxCfg, err := p.indexing(ctx, c)
		if err != nil {
			return Fail, err
		}

		var (
			schema validation.Schema
			opts   validation.Options
		)
		if idxCfg != nil {
			schema = validation.Merge(validation.FindCommon(), validation.SearchParams(), op.ValidateSchema)
			opts.AllowUnknown = true
		} else {
			schema = validation.Merge(validation.FindCommon(), p.defaults.Find, op.ValidateSchema)
		}

		data := record.Clone(input)
		if data == nil {
			data = record.Record{}
		}
		if data, err = validation.Validate(data, schema, opts); err != nil {
			return Fail, err
		}
		if err := op.JSONSchema.Validate(data); err != nil {
			return Fail, err
		}
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
			return p.hook(ctx, op.OnAfter, c)
		}

		var filter func(record.Record) bool
		if src := natsort.String(data["filter"]); src != "" {
			if filter, err = p.filters.predicate(src); err != nil {
				return Fail, err
			}
		}

		var result search.Result
		switch all, _ := data["all"].(bool); {
		case all:
			result, err = p.findAll(ctx, c, filter)
		case idxCfg != nil:
			result, err = p.search(ctx, c, idxCfg, filter)
		default:
			result, err = p.findStored(ctx, c, filter)
		}
		if err != nil {
			return Fail, err
		}
		c.Result = result

		return p.hook(ctx, op.OnAfter, c)
	})
}

// findAll reads every stored record, transformed by the indexing populate
// function when one is declared.
func (p *Pipeline) findAll(ctx context.Context, c *resource.Call, filter func(record.Record) bool) (search.Result, error) {
	recs, err := p.x.Store.Find(ctx, p.def.Key, record.FindParams{All: true})
	if err != nil {
		return search.Result{}, err
	}

	var cfg *resource.IndexingConfig
	if p.def.Indexed() {
		if cfg, err = p.def.ResolveIndexing(ctx, p.x, c); err != nil {
			return search.Result{}, err
		}
	}
	if cfg != nil && cfg.Populate != nil {
		for i, rec := range recs {
			if recs[i], err = cfg.Populate(ctx, p.x, rec, OpFind); err != nil {
				return search.Result{}, err
			}
		}
	}

	return storedResult(recs, filter), nil
}

func (p *Pipeline) findStored(ctx context.Context, c *resource.Call, filter func(record.Record) bool) (search.Result, error) {
	if p.def.Indexed() {
		p.x.Logger.Warn().
			Str("resource", p.def.Key).
			Msg("no search index attached, paging through the store")
	}

	params := record.ParamsFromQuery(c.Input)
	params.All = false
	recs, err := p.x.Store.Find(ctx, p.def.Key, params)
	if err != nil {
		return search.Result{}, err
	}
	return storedResult(recs, filter), nil
}

func (p *Pipeline) search(ctx context.Context, c *resource.Call, cfg *resource.IndexingConfig, filter func(record.Record) bool) (search.Result, error) {
	q := p.query(c.Input)

	switch {
	case cfg.PreFilter != nil && filter != nil:
		q.PreFilter = func(doc record.Record) bool {
			return cfg.PreFilter(c, doc) && filter(doc)
		}
	case cfg.PreFilter != nil:
		q.PreFilter = func(doc record.Record) bool { return cfg.PreFilter(c, doc) }
	case filter != nil:
		q.PreFilter = filter
	}

	text := natsort.String(c.Input["search"])
	res, err := p.x.Index.Search(ctx, p.x.IndexName, text, q)
	if err != nil {
		return search.Result{}, err
	}
	if cfg.ResponseFilter != nil {
		res = cfg.ResponseFilter(c, res)
	}
	return res, nil
}

// query builds the search request from the find input and the configured
// defaults. from=-1 disables pagination.
func (p *Pipeline) query(in record.Record) search.Query {
	q := search.Query{Size: search.DefaultSize}
	if p.x.State != nil {
		if cfg := p.x.State.Config(); cfg != nil {
			if cfg.Search.Size > 0 {
				q.Size = cfg.Search.Size
			}
			q.Sort = cfg.Search.Sort
			q.SortType = cfg.Search.SortType
		}
	}

	q.SearchField = natsort.String(in["searchField"])
	q.Operator = natsort.String(in["operator"])
	if v, ok := in["sort"]; ok {
		q.Sort = natsort.String(v)
	}
	if v, ok := in["sortType"]; ok {
		q.SortType = natsort.String(v)
	}
	if v, ok := in["size"]; ok {
		q.Size = intParam(v)
	}
	if v, ok := in["from"]; ok {
		q.From = intParam(v)
		if q.From == -1 {
			q.All = true
			q.From = 0
		}
	}
	return q
}

func storedResult(recs []record.Record, filter func(record.Record) bool) search.Result {
	data := make([]record.Record, 0, len(recs))
	for _, rec := range recs {
		if filter == nil || filter(rec) {
			data = append(data, rec)
		}
	}
	return search.Result{Total: len(data), Data: data}
}

func intParam(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
