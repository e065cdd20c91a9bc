// Package pipeline executes the standard resource operations. Every
// operation runs the same sequence of stages: validate, stamp, before hook,
// store call or method override, index sync, after hook, response
// projection and send. Any stage that finds the response already written
// stops the sequence without an error.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/security"
	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
)

// Operation names.
const (
	OpCreate = security.OpCreate
	OpFind   = security.OpFind
	OpGet    = security.OpGet
	OpUpdate = security.OpUpdate
	OpRemove = security.OpRemove
)

// Outcome is the result of a pipeline stage.
type Outcome int

const (
	// Continue runs the next stage.
	Continue Outcome = iota
	// ShortCircuit stops the pipeline because a response was already sent.
	ShortCircuit
	// Fail stops the pipeline with an error.
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case ShortCircuit:
		return "short-circuit"
	case Fail:
		return "fail"
	}
	return "unknown"
}

// Observer receives pipeline measurements.
type Observer interface {
	// OperationDone is called once per operation with the response status.
	OperationDone(resource, op string, status int, d time.Duration)

	// BatchItemFailed is called for every failed id of a get or remove.
	BatchItemFailed(resource, op string)

	// IndexSynced is called after every index write.
	IndexSynced(resource, action string, err error)
}

type nopObserver struct{}

func (nopObserver) OperationDone(string, string, int, time.Duration) {}
func (nopObserver) BatchItemFailed(string, string)                   {}
func (nopObserver) IndexSynced(string, string, error)                {}

// Pipeline runs the operations of one resource.
type Pipeline struct {
	def      *resource.Definition
	x        *resource.Exec
	defaults validation.Defaults
	observer Observer
	filters  *filterCache
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver sets the measurement observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// New creates the pipeline of def bound to the execution context x.
func New(def *resource.Definition, x *resource.Exec, opts ...Option) *Pipeline {
	p := &Pipeline{
		def:      def,
		x:        x,
		observer: nopObserver{},
		filters:  newFilterCache(FilterCacheSize),
	}
	if x.Store != nil {
		p.defaults = x.Store.DefaultSchema()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// operation returns the declared operation or an empty one.
func (p *Pipeline) operation(op string) *resource.Operation {
	if o := p.def.Operation(op); o != nil {
		return o
	}
	return &resource.Operation{}
}

// stage classifies the state after a stage ran.
func stage(c *resource.Call, err error) (Outcome, error) {
	if err != nil {
		return Fail, err
	}
	if c.Responded() {
		return ShortCircuit, nil
	}
	return Continue, nil
}

// hook runs an optional hook as a stage.
func (p *Pipeline) hook(ctx context.Context, h resource.Hook, c *resource.Call) (Outcome, error) {
	if h == nil {
		return Continue, nil
	}
	return stage(c, h(ctx, p.x, c))
}

// run executes body and finishes the call: errors are normalized, passed to
// the error hook and forwarded to the response; results are projected and
// sent.
func (p *Pipeline) run(ctx context.Context, c *resource.Call, body func(ctx context.Context, c *resource.Call) (Outcome, error)) (any, error) {
	start := time.Now()
	op := p.operation(c.Op)

	outcome, err := body(ctx, c)
	if outcome == Continue && err == nil && len(op.ResponseSchema) > 0 {
		c.Result, err = validation.Project(c.Result, op.ResponseSchema)
	}
	if err != nil {
		return nil, p.fail(ctx, c, op, err, start)
	}

	status := http.StatusOK
	p.observer.OperationDone(p.def.Key, c.Op, status, time.Since(start))
	p.x.Logger.Debug().
		Str("resource", p.def.Key).
		Str("operation", c.Op).
		Stringer("outcome", outcome).
		Dur("duration", time.Since(start)).
		Msg("operation completed")

	if outcome == ShortCircuit || c.Responded() {
		return c.Result, nil
	}
	if c.Res != nil {
		if err := c.Res.Send(status, c.Result); err != nil {
			p.x.Logger.Warn().Err(err).Str("resource", p.def.Key).Msg("send response")
		}
	}
	return c.Result, nil
}

func (p *Pipeline) fail(ctx context.Context, c *resource.Call, op *resource.Operation, err error, start time.Time) *apierr.Error {
	e := apierr.Normalize(err)
	p.observer.OperationDone(p.def.Key, c.Op, e.Status, time.Since(start))

	ev := p.x.Logger.Warn()
	if e.Status >= http.StatusInternalServerError {
		ev = p.x.Logger.Error()
	}
	ev.Err(err).
		Str("resource", p.def.Key).
		Str("operation", c.Op).
		Int("status", e.Status).
		Msg("operation failed")

	if op.OnError != nil {
		op.OnError(ctx, p.x, c, e)
	}
	if c.Res != nil && !c.Res.Completed() {
		if sendErr := c.Res.SendError(e); sendErr != nil {
			p.x.Logger.Warn().Err(sendErr).Str("resource", p.def.Key).Msg("send error response")
		}
	}
	return e
}

// stamp sets the time and actor fields of a write. Caller-supplied values
// are overwritten; the actor field is removed when there is no actor.
func (p *Pipeline) stamp(c *resource.Call, data record.Record, atField, byField string) {
	data[atField] = p.x.Clock.Now().UnixMilli()
	if a := c.Actor(); a != nil && a.ID != "" {
		data[byField] = a.ID
		return
	}
	delete(data, byField)
}

// indexing returns the effective indexing config when an index is attached.
func (p *Pipeline) indexing(ctx context.Context, c *resource.Call) (*resource.IndexingConfig, error) {
	if p.x.Index == nil || !p.def.Indexed() {
		return nil, nil
	}
	return p.def.ResolveIndexing(ctx, p.x, c)
}

// populate returns the document to index for rec.
func (p *Pipeline) populate(ctx context.Context, cfg *resource.IndexingConfig, rec record.Record, op string) (record.Record, error) {
	if cfg.Populate == nil {
		return rec, nil
	}
	return cfg.Populate(ctx, p.x, rec, op)
}

// syncIndex writes rec to the search index with the given action.
func (p *Pipeline) syncIndex(ctx context.Context, c *resource.Call, rec record.Record, action string) error {
	cfg, err := p.indexing(ctx, c)
	if err != nil || cfg == nil || rec == nil {
		return err
	}

	doc, err := p.populate(ctx, cfg, rec, c.Op)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	switch action {
	case events.ActionCreated:
		err = p.x.Index.Put(ctx, p.x.IndexName, doc)
	case events.ActionUpdated:
		err = p.x.Index.Update(ctx, p.x.IndexName, doc)
	}
	p.observer.IndexSynced(p.def.Key, action, err)
	return err
}

// unindex removes id from the search index.
func (p *Pipeline) unindex(ctx context.Context, c *resource.Call, id string) error {
	cfg, err := p.indexing(ctx, c)
	if err != nil || cfg == nil {
		return err
	}
	err = p.x.Index.Remove(ctx, p.x.IndexName, id)
	p.observer.IndexSynced(p.def.Key, events.ActionRemoved, err)
	return err
}

func (p *Pipeline) publish(ctx context.Context, action, key string, data record.Record) {
	if p.x.Events == nil {
		return
	}
	p.x.Events.Publish(ctx, events.Event{
		Name:     events.Name(p.def.Key, action),
		Resource: p.def.Key,
		Action:   action,
		Key:      key,
		Data:     data,
	})
}

func (p *Pipeline) batchConcurrency() int {
	if p.x.State != nil {
		if cfg := p.x.State.Config(); cfg != nil && cfg.Pipeline.BatchConcurrency > 0 {
			return cfg.Pipeline.BatchConcurrency
		}
	}
	return 8
}
