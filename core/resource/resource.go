// Package resource defines resource definitions, the per-resource execution
// context and the bound operation set produced by the registry.
package resource

import (
	"context"
	"fmt"

	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/state"
	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/amber7117/server-api/ports"
	"github.com/rs/zerolog"
)

// -----------------------------------------------------------------------------
// Transport capabilities
// -----------------------------------------------------------------------------

// Request is the inbound transport object. Only the caller is required.
type Request interface {
	Actor() *access.Actor
}

// Response is the outbound transport channel.
type Response interface {
	// Completed reports whether a response was already written.
	Completed() bool

	// Send writes a success response.
	Send(status int, body any) error

	// SendError writes an error response.
	SendError(err *apierr.Error) error
}

// ActorRequest is a Request for programmatic calls made on behalf of an actor.
type ActorRequest struct {
	User *access.Actor
}

// Actor returns the wrapped actor.
func (r ActorRequest) Actor() *access.Actor {
	return r.User
}

// -----------------------------------------------------------------------------
// Calls and hooks
// -----------------------------------------------------------------------------

// Call carries the arguments of one operation invocation through every
// stage. Per-id hooks of a batch run concurrently and must treat it as
// read-only.
type Call struct {
	Resource string
	Op       string

	// Input is the validated operation input: the record for create, the
	// query for find, {id} for get and remove, {id, data} for update.
	Input record.Record

	// ID is the target id of an update; IDs are the split ids of a batch.
	ID  string
	IDs []string

	// Data is the stamped update payload.
	Data record.Record

	// Result is the operation output; OnAfter may replace it.
	Result any

	Req Request
	Res Response
}

// Actor returns the authenticated caller, or nil.
func (c *Call) Actor() *access.Actor {
	if c == nil || c.Req == nil {
		return nil
	}
	return c.Req.Actor()
}

// Responded reports whether the response channel is already completed.
func (c *Call) Responded() bool {
	return c != nil && c.Res != nil && c.Res.Completed()
}

// Hook runs at a fixed pipeline point.
type Hook func(ctx context.Context, x *Exec, c *Call) error

// EachHook runs around one id of a batch. rec is nil before the id runs.
type EachHook func(ctx context.Context, x *Exec, c *Call, id string, rec record.Record) error

// ErrorHook observes a failed call with its normalized error.
type ErrorHook func(ctx context.Context, x *Exec, c *Call, err *apierr.Error)

// Method replaces the default store call of create, find or update.
type Method func(ctx context.Context, x *Exec, c *Call) (any, error)

// EachMethod replaces the default store call for one id of get or remove.
// Returning a nil record reports the id as missing.
type EachMethod func(ctx context.Context, x *Exec, c *Call, id string) (record.Record, error)

// -----------------------------------------------------------------------------
// Definitions
// -----------------------------------------------------------------------------

// Operation configures one standard operation. A nil *Operation in a
// Definition means the operation was not declared.
type Operation struct {
	ValidateSchema validation.Schema
	JSONSchema     *validation.JSONSchema
	ResponseSchema validation.Schema

	OnBefore     Hook
	OnAfter      Hook
	OnBeforeEach EachHook
	OnAfterEach  EachHook
	OnError      ErrorHook

	// Method fully replaces the store call of create, find and update.
	Method Method

	// EachMethod fully replaces the per-id store call of get and remove.
	EachMethod EachMethod

	// Security overrides the resource-level policy when set.
	Security *access.Policy

	// OverrideIfNotExist lets update create a missing record.
	OverrideIfNotExist bool
}

// IndexingConfig describes how a resource is kept in the search index.
type IndexingConfig struct {
	search.IndexConfig

	// Populate transforms a stored record into the indexed document.
	Populate func(ctx context.Context, x *Exec, rec record.Record, op string) (record.Record, error)

	// PopulateIndex supplies the initial index content instead of reading
	// every record from the store.
	PopulateIndex func(ctx context.Context, x *Exec) ([]record.Record, error)

	// DataFormatter rewrites the initial content before it is indexed.
	DataFormatter func(ctx context.Context, x *Exec, docs []record.Record) ([]record.Record, error)

	// PreFilter excludes documents from every search.
	PreFilter func(c *Call, doc record.Record) bool

	// ResponseFilter post-processes search results.
	ResponseFilter func(c *Call, res search.Result) search.Result
}

// PathCallback implements a custom named operation.
type PathCallback func(ctx context.Context, x *Exec, c *Call) (any, error)

// AdditionalPath is a custom named operation mounted at /{key}/{path}.
type AdditionalPath struct {
	Method   string // default: GET
	Callback PathCallback
	Security *access.Policy
}

// Definition is the declarative descriptor of a resource.
type Definition struct {
	Key string

	Create *Operation
	Find   *Operation
	Get    *Operation
	Update *Operation
	Remove *Operation

	Security *access.Policy

	// Indexing enables the search index. IndexingFunc resolves it per call
	// instead; it receives a nil Call at bootstrap.
	Indexing     *IndexingConfig
	IndexingFunc func(ctx context.Context, x *Exec, c *Call) (*IndexingConfig, error)

	AdditionalPaths map[string]AdditionalPath

	// DisableNotDefinedMethods omits the standard operations left nil.
	DisableNotDefinedMethods bool

	// Order sequences initial index builds (ascending).
	Order int
}

// Operation returns the declared operation by name, or nil.
func (d *Definition) Operation(op string) *Operation {
	switch op {
	case "create":
		return d.Create
	case "find":
		return d.Find
	case "get":
		return d.Get
	case "update":
		return d.Update
	case "remove":
		return d.Remove
	}
	return nil
}

// Indexed reports whether the definition declares indexing.
func (d *Definition) Indexed() bool {
	return d.Indexing != nil || d.IndexingFunc != nil
}

// ResolveIndexing returns the effective indexing config for a call.
func (d *Definition) ResolveIndexing(ctx context.Context, x *Exec, c *Call) (*IndexingConfig, error) {
	if d.IndexingFunc != nil {
		cfg, err := d.IndexingFunc(ctx, x, c)
		if err != nil {
			return nil, fmt.Errorf("resolve indexing config for %s: %w", d.Key, err)
		}
		return cfg, nil
	}
	return d.Indexing, nil
}

// -----------------------------------------------------------------------------
// Execution context
// -----------------------------------------------------------------------------

// Locator resolves another resource's bound operations by key.
type Locator interface {
	Service(key string) (*Service, error)
}

// Exec is the execution context bound to every hook and method of one
// resource. It is built once at registration.
type Exec struct {
	Key       string
	IndexName string

	State  *state.State
	Store  ports.RecordStore
	Index  ports.SearchIndex // nil when no index adapter is attached
	Clock  ports.Clock
	Events *events.Bus
	Logger zerolog.Logger

	Services Locator
	Helpers  map[string]any
}

// Service resolves another resource's operations.
func (x *Exec) Service(key string) (*Service, error) {
	if x.Services == nil {
		return nil, fmt.Errorf("%s service does not exist", key)
	}
	return x.Services.Service(key)
}

// Helper resolves a named helper.
func (x *Exec) Helper(name string) (any, error) {
	h, ok := x.Helpers[name]
	if !ok {
		return nil, fmt.Errorf("%s helper does not exist", name)
	}
	return h, nil
}

// -----------------------------------------------------------------------------
// Bound operations
// -----------------------------------------------------------------------------

// CreateOptions tunes a single create call.
type CreateOptions struct {
	// SkipValidation bypasses input validation.
	SkipValidation bool
}

// Op is a bound standard operation. req and res may be nil for
// programmatic calls.
type Op func(ctx context.Context, input record.Record, req Request, res Response) (any, error)

// CreateOp is the bound create operation.
type CreateOp func(ctx context.Context, input record.Record, req Request, res Response, opts CreateOptions) (any, error)

// Service is the operation set bound for one resource. Absent operations
// are nil.
type Service struct {
	Key    string
	Create CreateOp
	Find   Op
	Get    Op
	Update Op
	Remove Op
	Paths  map[string]Op
}

// Has reports whether the named operation or path is bound.
func (s *Service) Has(op string) bool {
	switch op {
	case "create":
		return s.Create != nil
	case "find":
		return s.Find != nil
	case "get":
		return s.Get != nil
	case "update":
		return s.Update != nil
	case "remove":
		return s.Remove != nil
	}
	_, ok := s.Paths[op]
	return ok
}
