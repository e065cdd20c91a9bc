package registry

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amber7117/server-api/adapters/clock"
	"github.com/amber7117/server-api/adapters/fulltext"
	"github.com/amber7117/server-api/adapters/idgen"
	"github.com/amber7117/server-api/adapters/memory"
	"github.com/amber7117/server-api/config"
	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/state"
	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/rs/zerolog"
)

type fixture struct {
	reg   *Registry
	store *memory.RecordStore
	index *fulltext.Engine
	state *state.State
	bus   *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Search.IndexPrefix = "t_"
	cfg.Search.DefaultIndex.Ref = "key"
	cfg.Search.DefaultIndex.Fields = []string{"name"}
	cfg.Pipeline.BatchConcurrency = 2

	f := &fixture{
		store: memory.NewRecordStore(idgen.NewSequential("id")),
		index: fulltext.NewEngine(zerolog.Nop()),
		state: state.New(cfg),
		bus:   events.NewBus(zerolog.Nop()),
	}
	f.reg = New(Options{
		Prefix: "/api/",
		State:  f.state,
		Store:  f.store,
		Index:  f.index,
		Clock:  clock.NewFake(time.UnixMilli(1700000000000)),
		Events: f.bus,
		Logger: zerolog.Nop(),
	})
	return f
}

func TestNew(t *testing.T) {
	r := New(Options{Prefix: "/v1/"})
	if r == nil {
		t.Fatal("New() returned nil")
	}
	if r.entries == nil {
		t.Error("entries map not initialized")
	}
	if r.opts.Prefix != "v1" {
		t.Errorf("prefix = %q, want v1", r.opts.Prefix)
	}
}

func TestRegister_BindsOperations(t *testing.T) {
	tests := []struct {
		name string
		def  *resource.Definition
		want []string
	}{
		{
			name: "all standard operations by default",
			def:  &resource.Definition{Key: "notes"},
			want: []string{"create", "find", "get", "update", "remove"},
		},
		{
			name: "only declared operations",
			def: &resource.Definition{
				Key:                      "notes",
				Get:                      &resource.Operation{},
				Find:                     &resource.Operation{},
				DisableNotDefinedMethods: true,
			},
			want: []string{"find", "get"},
		},
		{
			name: "declared operations are kept when undeclared ones are enabled",
			def: &resource.Definition{
				Key:    "notes",
				Remove: &resource.Operation{},
			},
			want: []string{"create", "find", "get", "update", "remove"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.reg.Register(tt.def); err != nil {
				t.Fatalf("Register() error = %v", err)
			}

			svc, err := f.reg.Service("notes")
			if err != nil {
				t.Fatalf("Service() error = %v", err)
			}
			for _, op := range []string{"create", "find", "get", "update", "remove"} {
				if got, want := svc.Has(op), slices.Contains(tt.want, op); got != want {
					t.Errorf("Has(%s) = %v, want %v", op, got, want)
				}
			}
			if len(f.reg.Routes()) != len(tt.want) {
				t.Errorf("routes = %v, want %d", f.reg.Routes(), len(tt.want))
			}
		})
	}
}

func TestRegister_Errors(t *testing.T) {
	f := newFixture(t)

	if err := f.reg.Register(&resource.Definition{}); err == nil {
		t.Error("Register() without key should fail")
	}
	if err := f.reg.Register(&resource.Definition{Key: "a/b"}); err == nil {
		t.Error("Register() with a slash in the key should fail")
	}
	if err := f.reg.Register(&resource.Definition{Key: "notes"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := f.reg.Register(&resource.Definition{Key: "notes"}); err == nil {
		t.Error("second Register() should fail with duplicate key")
	}
	err := f.reg.Register(&resource.Definition{
		Key:             "broken",
		AdditionalPaths: map[string]resource.AdditionalPath{"stats": {}},
	})
	if err == nil {
		t.Error("Register() with a path without callback should fail")
	}
	if _, err := f.reg.Service("missing"); err == nil {
		t.Error("Service(missing) should fail")
	}
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	noop := func(context.Context, *resource.Exec, *resource.Call) (any, error) { return nil, nil }
	err := f.reg.Register(&resource.Definition{
		Key: "products",
		AdditionalPaths: map[string]resource.AdditionalPath{
			"stats":   {Callback: noop},
			"reindex": {Method: "post", Callback: noop},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var got []string
	for _, rt := range f.reg.Routes() {
		got = append(got, rt.Method+" "+rt.Path)
	}
	want := []string{
		"GET /api/products",
		"POST /api/products",
		"POST /api/products/reindex",
		"GET /api/products/stats",
		"GET /api/products/{id}",
		"PATCH /api/products/{id}",
		"DELETE /api/products/{id}",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("routes =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	noop := func(context.Context, *resource.Exec, *resource.Call) (any, error) { return nil, nil }
	_ = f.reg.Register(&resource.Definition{
		Key:             "products",
		AdditionalPaths: map[string]resource.AdditionalPath{"stats": {Callback: noop}},
	})
	_ = f.reg.Register(&resource.Definition{
		Key:                      "faq",
		Get:                      &resource.Operation{},
		DisableNotDefinedMethods: true,
	})

	tests := []struct {
		method, path string
		want         Match
		wantOK       bool
	}{
		{"GET", "/api/products", Match{Resource: "products", Operation: "find"}, true},
		{"POST", "/api/products/", Match{Resource: "products", Operation: "create"}, true},
		{"GET", "/api/products/p1", Match{Resource: "products", Operation: "get", ID: "p1"}, true},
		{"GET", "/api/products/p1,p2", Match{Resource: "products", Operation: "get", ID: "p1,p2"}, true},
		{"PATCH", "/api/products/p1", Match{Resource: "products", Operation: "update", ID: "p1"}, true},
		{"DELETE", "/api/products/p1", Match{Resource: "products", Operation: "remove", ID: "p1"}, true},
		{"GET", "/api/products/stats", Match{Resource: "products", Operation: "stats"}, true},
		{"DELETE", "/api/products/stats", Match{Resource: "products", Operation: "remove", ID: "stats"}, true},
		{"GET", "/api/faq/q1", Match{Resource: "faq", Operation: "get", ID: "q1"}, true},
		{"GET", "/api/faq", Match{}, false},
		{"PUT", "/api/products/p1", Match{}, false},
		{"GET", "/api/unknown", Match{}, false},
		{"GET", "/products", Match{}, false},
		{"GET", "/api/products/p1/extra", Match{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			got, ok := f.reg.Lookup(tt.method, tt.path)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Lookup() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAuthorize_DefaultPermissions(t *testing.T) {
	f := newFixture(t)
	err := f.reg.Register(&resource.Definition{
		Key:      "widget",
		Security: &access.Policy{DefaultPermissions: true},
		Remove:   &resource.Operation{Security: access.Public()},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	wantPerms := map[string]string{
		"find":   "WIDGET_READ",
		"get":    "WIDGET_READ",
		"create": "WIDGET_CREATE",
		"update": "WIDGET_UPDATE",
	}
	for op, perm := range wantPerms {
		p := f.reg.Policy("widget", op)
		if p == nil || !slices.Equal(p.Permissions, []string{perm}) {
			t.Errorf("Policy(%s) = %+v, want permissions [%s]", op, p, perm)
		}
	}
	if !f.reg.Policy("widget", "remove").IsPublic() {
		t.Error("explicit public policy should win for remove")
	}

	reader := &access.Actor{ID: "u1", Role: "user", Permissions: []string{"widget_read"}}
	admin := &access.Actor{ID: "root", Role: access.AdminRole}

	tests := []struct {
		op     string
		actor  *access.Actor
		status int
	}{
		{"find", reader, 0},
		{"get", reader, 0},
		{"create", reader, http.StatusForbidden},
		{"create", admin, 0},
		{"update", nil, http.StatusUnauthorized},
		{"remove", nil, 0},
		{"stats", reader, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		err := f.reg.Authorize("widget", tt.op, tt.actor)
		if got := statusOf(err); got != tt.status {
			t.Errorf("Authorize(%s, %v) status = %d, want %d", tt.op, tt.actor, got, tt.status)
		}
	}
	if statusOf(f.reg.Authorize("nope", "find", admin)) != http.StatusNotFound {
		t.Error("Authorize on an unknown resource should be 404")
	}
}

func statusOf(err error) int {
	if err == nil {
		return 0
	}
	return apierr.StatusOf(err)
}

func TestAdditionalPath(t *testing.T) {
	f := newFixture(t)
	err := f.reg.Register(&resource.Definition{
		Key: "products",
		AdditionalPaths: map[string]resource.AdditionalPath{
			"count": {Callback: func(ctx context.Context, x *resource.Exec, c *resource.Call) (any, error) {
				recs, err := x.Store.Find(ctx, x.Key, record.FindParams{All: true})
				return map[string]int{"count": len(recs)}, err
			}},
			"fail": {Callback: func(context.Context, *resource.Exec, *resource.Call) (any, error) {
				return nil, errors.New("boom")
			}},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	svc, _ := f.reg.Service("products")
	ctx := context.Background()

	if _, err := svc.Create(ctx, record.Record{"key": "p1"}, nil, nil, resource.CreateOptions{}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	out, err := svc.Paths["count"](ctx, nil, nil, nil)
	if err != nil {
		t.Fatalf("count error = %v", err)
	}
	if out.(map[string]int)["count"] != 1 {
		t.Errorf("count = %v, want 1", out)
	}

	_, err = svc.Paths["fail"](ctx, nil, nil, nil)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError || apiErr.Message != "boom" {
		t.Errorf("fail error = %#v, want normalized 500", err)
	}
}

func TestExecLocatesOtherServices(t *testing.T) {
	f := newFixture(t)
	_ = f.reg.RegisterAll(&resource.Definition{Key: "roles"}, &resource.Definition{Key: "users"})

	x, ok := f.reg.Exec("users")
	if !ok {
		t.Fatal("Exec(users) not found")
	}
	if x.IndexName != "t_users" {
		t.Errorf("IndexName = %q, want t_users", x.IndexName)
	}
	roles, err := x.Service("roles")
	if err != nil || roles.Key != "roles" {
		t.Errorf("Service(roles) = %v, %v", roles, err)
	}
	if got := f.reg.Keys(); !slices.Equal(got, []string{"roles", "users"}) {
		t.Errorf("Keys() = %v", got)
	}
}

func TestBuildIndexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var order []string
	track := func(key string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, key)
	}

	_ = f.reg.RegisterAll(
		&resource.Definition{
			Key:   "products",
			Order: 2,
			Indexing: &resource.IndexingConfig{
				IndexConfig: search.IndexConfig{Fields: []string{"name", "make"}, SaveDocument: true},
				Populate: func(_ context.Context, _ *resource.Exec, rec record.Record, _ string) (record.Record, error) {
					track("products")
					out := record.Clone(rec)
					out["make"] = "acme"
					return out, nil
				},
			},
		},
		&resource.Definition{
			Key:   "faq",
			Order: 1,
			Indexing: &resource.IndexingConfig{
				PopulateIndex: func(context.Context, *resource.Exec) ([]record.Record, error) {
					track("faq")
					return []record.Record{{"key": "q1", "name": "How"}, {"key": "q2", "name": "Why"}}, nil
				},
				DataFormatter: func(_ context.Context, _ *resource.Exec, docs []record.Record) ([]record.Record, error) {
					return docs[:1], nil
				},
			},
		},
		&resource.Definition{
			Key:   "broken",
			Order: 1,
			Indexing: &resource.IndexingConfig{
				PopulateIndex: func(context.Context, *resource.Exec) ([]record.Record, error) {
					return nil, errors.New("source offline")
				},
			},
		},
		&resource.Definition{Key: "plain"},
	)
	_, _ = f.store.Create(ctx, "products", record.Record{"key": "p1", "name": "hammer"})
	_, _ = f.store.Create(ctx, "products", record.Record{"key": "p2", "name": "saw"})

	if f.state.Ready() {
		t.Fatal("state should not be ready before bootstrap")
	}

	var built []string
	f.bus.Subscribe("*", func(_ context.Context, e events.Event) error {
		if e.Action == events.ActionIndexBuilt {
			mu.Lock()
			built = append(built, e.Resource)
			mu.Unlock()
		}
		return nil
	})

	err := <-f.reg.StartIndexBootstrap(ctx)
	if err == nil || !strings.Contains(err.Error(), "source offline") {
		t.Errorf("bootstrap error = %v, want the broken resource's error", err)
	}
	if !f.state.Ready() {
		t.Error("state should be ready after bootstrap")
	}

	if len(order) == 0 || order[0] != "faq" || order[len(order)-1] != "products" {
		t.Errorf("build order = %v, want faq before products", order)
	}

	tests := []struct {
		index  string
		status state.IndexStatus
		docs   int
	}{
		{"t_faq", state.IndexBuilt, 1},
		{"t_products", state.IndexBuilt, 2},
		{"t_broken", state.IndexFailed, 0},
	}
	for _, tt := range tests {
		info, ok := f.state.Index(tt.index)
		if !ok || info.Status != tt.status || info.Documents != tt.docs {
			t.Errorf("state[%s] = %+v, want %s with %d docs", tt.index, info, tt.status, tt.docs)
		}
	}
	if _, ok := f.state.Index("t_plain"); ok {
		t.Error("unindexed resources should not be tracked")
	}

	res, err := f.index.Search(ctx, "t_products", "acme", search.Query{SearchField: "make"})
	if err != nil || res.Total != 2 {
		t.Errorf("populated products search = %+v, %v", res, err)
	}
	if !slices.Contains(built, "faq") || !slices.Contains(built, "products") || slices.Contains(built, "broken") {
		t.Errorf("index_built events = %v", built)
	}
}

func TestStartIndexBootstrap_WritesDuringFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	_ = f.reg.RegisterAll(
		&resource.Definition{
			Key:   "slow",
			Order: 1,
			Indexing: &resource.IndexingConfig{
				PopulateIndex: func(context.Context, *resource.Exec) ([]record.Record, error) {
					<-release
					return nil, nil
				},
			},
		},
		&resource.Definition{
			Key:      "later",
			Order:    2,
			Indexing: &resource.IndexingConfig{IndexConfig: search.IndexConfig{SaveDocument: true}},
		},
	)

	done := f.reg.StartIndexBootstrap(ctx)

	// The lower level is still loading; the later index must already exist.
	if info, ok := f.state.Index("t_later"); !ok || info.Status != state.IndexCreated {
		t.Errorf("state[t_later] = %+v, want created", info)
	}
	svc, _ := f.reg.Service("later")
	if _, err := svc.Create(ctx, record.Record{"key": "l1", "name": "early"}, nil, nil, resource.CreateOptions{}); err != nil {
		t.Fatalf("create during bootstrap error = %v", err)
	}
	if doc, _ := f.index.Get(ctx, "t_later", "l1"); doc == nil {
		t.Error("record created during bootstrap missing from index")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("bootstrap error = %v", err)
	}
	res, err := f.index.Search(ctx, "t_later", "", search.Query{})
	if err != nil || res.Total != 1 {
		t.Errorf("later index after bootstrap = %+v, %v", res, err)
	}
}

func TestBuildIndexes_NoIndexAdapter(t *testing.T) {
	r := New(Options{Logger: zerolog.Nop()})
	_ = r.Register(&resource.Definition{Key: "faq", Indexing: &resource.IndexingConfig{}})
	if err := r.BuildIndexes(context.Background()); err != nil {
		t.Errorf("BuildIndexes() error = %v", err)
	}
}
