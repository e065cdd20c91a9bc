// Package registry compiles resource definitions into bound operation
// sets, the route table and the resolved security policies, and runs the
// initial search index bootstrap.
package registry

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/pipeline"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/security"
	"github.com/amber7117/server-api/core/state"
	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/amber7117/server-api/ports"
	"github.com/rs/zerolog"
)

var standardOps = []string{
	security.OpFind,
	security.OpCreate,
	security.OpGet,
	security.OpUpdate,
	security.OpRemove,
}

// Route is one entry of the route table.
type Route struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Resource  string `json:"resource"`
	Operation string `json:"operation"`

	Policy *access.Policy `json:"-"`
}

// Match is the result of a route lookup.
type Match struct {
	Resource  string
	Operation string
	ID        string
}

// Options are the collaborators shared by every execution context.
type Options struct {
	Prefix   string // URL prefix, without slashes
	State    *state.State
	Store    ports.RecordStore
	Index    ports.SearchIndex // nil disables indexing
	Clock    ports.Clock
	Events   *events.Bus
	Logger   zerolog.Logger
	Observer pipeline.Observer
	Helpers  map[string]any
}

type entry struct {
	def      *resource.Definition
	exec     *resource.Exec
	service  *resource.Service
	policies map[string]*access.Policy
}

// Registry holds the compiled resources. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	opts    Options
	entries map[string]*entry
	routes  []Route
}

// New creates an empty registry.
func New(opts Options) *Registry {
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Registry{
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// Register compiles a definition. A standard operation is bound when the
// definition declares it or does not disable undeclared operations.
func (r *Registry) Register(def *resource.Definition) error {
	if def == nil || def.Key == "" {
		return fmt.Errorf("resource definition without a key")
	}
	if strings.ContainsAny(def.Key, "/,") {
		return fmt.Errorf("resource key %q must not contain '/' or ','", def.Key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Key]; exists {
		return fmt.Errorf("resource %q already registered", def.Key)
	}

	x := &resource.Exec{
		Key:      def.Key,
		State:    r.opts.State,
		Store:    r.opts.Store,
		Index:    r.opts.Index,
		Clock:    r.opts.Clock,
		Events:   r.opts.Events,
		Logger:   r.opts.Logger.With().Str("resource", def.Key).Logger(),
		Services: r,
		Helpers:  r.opts.Helpers,
	}
	x.IndexName = r.indexPrefix() + def.Key

	p := pipeline.New(def, x, pipeline.WithObserver(r.opts.Observer))
	svc := &resource.Service{Key: def.Key, Paths: make(map[string]resource.Op)}
	e := &entry{def: def, exec: x, service: svc, policies: make(map[string]*access.Policy)}

	var routes []Route
	for _, op := range standardOps {
		declared := def.Operation(op)
		if declared == nil && def.DisableNotDefinedMethods {
			continue
		}
		switch op {
		case security.OpCreate:
			svc.Create = p.Create
		case security.OpFind:
			svc.Find = p.Find
		case security.OpGet:
			svc.Get = p.Get
		case security.OpUpdate:
			svc.Update = p.Update
		case security.OpRemove:
			svc.Remove = p.Remove
		}

		var opLevel *access.Policy
		if declared != nil {
			opLevel = declared.Security
		}
		e.policies[op] = security.Resolve(def.Key, op, def.Security, opLevel)
		routes = append(routes, r.standardRoute(def.Key, op, e.policies[op]))
	}

	// Custom paths are routed ahead of /{key}/{id}.
	names := make([]string, 0, len(def.AdditionalPaths))
	for name := range def.AdditionalPaths {
		names = append(names, name)
	}
	slices.Sort(names)
	var pathRoutes []Route
	for _, name := range names {
		ap := def.AdditionalPaths[name]
		if ap.Callback == nil {
			return fmt.Errorf("resource %q: path %q has no callback", def.Key, name)
		}
		if _, clash := e.policies[name]; clash {
			return fmt.Errorf("resource %q: path %q shadows a standard operation", def.Key, name)
		}
		svc.Paths[name] = bindPath(def.Key, name, x, ap)
		e.policies[name] = security.Resolve(def.Key, name, def.Security, ap.Security)
		pathRoutes = append(pathRoutes, Route{
			Method:    pathMethod(ap),
			Path:      r.base(def.Key) + "/" + name,
			Resource:  def.Key,
			Operation: name,
			Policy:    e.policies[name],
		})
	}

	split := slices.IndexFunc(routes, func(rt Route) bool { return strings.HasSuffix(rt.Path, "/{id}") })
	if split < 0 {
		split = len(routes)
	}
	routes = slices.Concat(routes[:split], pathRoutes, routes[split:])

	if def.Indexed() && r.opts.Index != nil && r.opts.State != nil {
		r.opts.State.Track(x.IndexName)
	}

	r.entries[def.Key] = e
	r.routes = append(r.routes, routes...)
	r.opts.Logger.Debug().
		Str("resource", def.Key).
		Int("routes", len(routes)).
		Bool("indexed", def.Indexed()).
		Msg("resource registered")
	return nil
}

// RegisterAll registers definitions in order.
func (r *Registry) RegisterAll(defs ...*resource.Definition) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Service returns the bound operations of a resource.
func (r *Registry) Service(key string) (*resource.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%s service does not exist", key)
	}
	return e.service, nil
}

// Definition returns the registered definition of a resource.
func (r *Registry) Definition(key string) (*resource.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	return e.def, true
}

// Exec returns the execution context of a resource.
func (r *Registry) Exec(key string) (*resource.Exec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	return e.exec, true
}

// Keys returns the registered resource keys sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Routes returns the route table in registration order.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.routes)
}

// Policy returns the resolved policy of an operation. Nil is public.
func (r *Registry) Policy(key, op string) *access.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[key]; ok {
		return e.policies[op]
	}
	return nil
}

// Authorize checks actor against the resolved policy of an operation.
func (r *Registry) Authorize(key, op string, actor *access.Actor) error {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return apierr.NotFound(fmt.Sprintf("%s service does not exist", key))
	}

	policy, bound := e.policies[op]
	if !bound {
		return apierr.Newf(http.StatusMethodNotAllowed, "%s does not support %s", key, op)
	}
	return security.Authorize(key, policy, actor)
}

// Lookup resolves a request method and path to a resource operation.
// GET /{key} is find, POST /{key} create, GET /{key}/{id} get, PATCH update
// and DELETE remove, unless the second segment names a custom path bound
// to that method.
func (r *Registry) Lookup(method, path string) (Match, bool) {
	rest := strings.Trim(path, "/")
	if r.opts.Prefix != "" {
		var ok bool
		if rest, ok = strings.CutPrefix(rest, r.opts.Prefix); !ok {
			return Match{}, false
		}
		rest = strings.TrimPrefix(rest, "/")
	}

	key, sub, nested := strings.Cut(rest, "/")
	if key == "" || strings.Contains(sub, "/") {
		return Match{}, false
	}

	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return Match{}, false
	}

	var op string
	switch {
	case !nested && method == http.MethodGet:
		op = security.OpFind
	case !nested && method == http.MethodPost:
		op = security.OpCreate
	case nested && sub == "":
		return Match{}, false
	case nested:
		if ap, ok := e.def.AdditionalPaths[sub]; ok && pathMethod(ap) == method {
			return Match{Resource: key, Operation: sub}, true
		}
		switch method {
		case http.MethodGet:
			op = security.OpGet
		case http.MethodPatch:
			op = security.OpUpdate
		case http.MethodDelete:
			op = security.OpRemove
		}
	}

	if op == "" || !e.service.Has(op) {
		return Match{}, false
	}
	m := Match{Resource: key, Operation: op}
	if nested {
		m.ID = sub
	}
	return m, true
}

func (r *Registry) standardRoute(key, op string, policy *access.Policy) Route {
	rt := Route{Resource: key, Operation: op, Policy: policy, Path: r.base(key)}
	switch op {
	case security.OpFind:
		rt.Method = http.MethodGet
	case security.OpCreate:
		rt.Method = http.MethodPost
	case security.OpGet:
		rt.Method, rt.Path = http.MethodGet, rt.Path+"/{id}"
	case security.OpUpdate:
		rt.Method, rt.Path = http.MethodPatch, rt.Path+"/{id}"
	case security.OpRemove:
		rt.Method, rt.Path = http.MethodDelete, rt.Path+"/{id}"
	}
	return rt
}

func (r *Registry) base(key string) string {
	if r.opts.Prefix == "" {
		return "/" + key
	}
	return "/" + r.opts.Prefix + "/" + key
}

func (r *Registry) indexPrefix() string {
	if r.opts.State == nil {
		return ""
	}
	if cfg := r.opts.State.Config(); cfg != nil {
		return cfg.Search.IndexPrefix
	}
	return ""
}

// indexed returns the indexed entries ordered by Order, then key.
func (r *Registry) indexed() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entry
	for _, e := range r.entries {
		if e.def.Indexed() {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *entry) int {
		if c := cmp.Compare(a.def.Order, b.def.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.def.Key, b.def.Key)
	})
	return out
}

func pathMethod(ap resource.AdditionalPath) string {
	if ap.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(ap.Method)
}

// bindPath wraps a custom path callback so its errors are normalized and
// its result is sent like a standard operation's.
func bindPath(key, name string, x *resource.Exec, ap resource.AdditionalPath) resource.Op {
	return func(ctx context.Context, input record.Record, req resource.Request, res resource.Response) (any, error) {
		c := &resource.Call{Resource: key, Op: name, Input: input, Req: req, Res: res}

		out, err := ap.Callback(ctx, x, c)
		if err != nil {
			e := apierr.Normalize(err)
			x.Logger.Warn().Err(err).Str("path", name).Int("status", e.Status).Msg("path failed")
			if res != nil && !res.Completed() {
				if sendErr := res.SendError(e); sendErr != nil {
					x.Logger.Warn().Err(sendErr).Msg("send error response")
				}
			}
			return nil, e
		}

		if res != nil && !res.Completed() {
			if sendErr := res.Send(http.StatusOK, out); sendErr != nil {
				x.Logger.Warn().Err(sendErr).Msg("send response")
			}
		}
		return out, nil
	}
}

// Ensure interface compliance.
var _ resource.Locator = (*Registry)(nil)
