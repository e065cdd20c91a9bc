// Package http exposes the registered resources over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/amber7117/server-api/adapters/metrics"
	"github.com/amber7117/server-api/core/openapi"
	"github.com/amber7117/server-api/core/registry"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/security"
	"github.com/amber7117/server-api/core/state"
	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/amber7117/server-api/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodySize bounds request bodies.
const maxBodySize = 10 << 20 // 10MB

// Version is reported by the version endpoint.
var Version = "dev"

// RouterConfig holds the collaborators of the router.
type RouterConfig struct {
	Registry      *registry.Registry
	State         *state.State
	Authenticator ports.Authenticator // nil treats every caller as anonymous
	Metrics       *metrics.Collector
	MetricsPath   string // default: /metrics
	Timeout       time.Duration
	Logger        zerolog.Logger
}

// NewRouter builds the HTTP router from the registry's route table.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(cfg.Logger, cfg.MetricsPath))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, cfg.Registry, cfg.MetricsPath))
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apierr.NotFound("Route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apierr.New(http.StatusMethodNotAllowed, "Method not allowed"))
	})

	health := &HealthHandler{state: cfg.State}
	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Get("/version", VersionHandler)
	r.Get("/openapi.json", OpenAPIHandler(cfg.Registry))

	h := &Handler{
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}
	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(cfg.Authenticator, cfg.Registry))
		for _, rt := range cfg.Registry.Routes() {
			r.Method(rt.Method, rt.Path, h.Route(rt))
		}
	})

	return r
}

// Handler dispatches requests to bound resource operations.
type Handler struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

// Route returns the handler of one route.
func (h *Handler) Route(rt registry.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := &Response{w: w}
		req := Request{User: ActorFrom(r.Context())}

		svc, err := h.registry.Service(rt.Resource)
		if err != nil {
			res.SendError(apierr.Normalize(err))
			return
		}

		input, err := buildInput(r, rt.Operation)
		if err != nil {
			res.SendError(apierr.Normalize(err))
			return
		}

		ctx := r.Context()
		switch rt.Operation {
		case security.OpCreate:
			_, err = svc.Create(ctx, input, req, res, resource.CreateOptions{})
		case security.OpFind:
			_, err = svc.Find(ctx, input, req, res)
		case security.OpGet:
			_, err = svc.Get(ctx, input, req, res)
		case security.OpUpdate:
			_, err = svc.Update(ctx, input, req, res)
		case security.OpRemove:
			_, err = svc.Remove(ctx, input, req, res)
		default:
			op, ok := svc.Paths[rt.Operation]
			if !ok {
				res.SendError(apierr.NotFound("Route not found"))
				return
			}
			_, err = op(ctx, input, req, res)
		}

		if err != nil && !res.Completed() {
			res.SendError(apierr.Normalize(err))
		}
	}
}

// buildInput assembles the operation input: query parameters for reads,
// the JSON body for create, {id, data} for update and query plus body for
// custom paths.
func buildInput(r *http.Request, op string) (record.Record, error) {
	input := queryInput(r)
	id := chi.URLParam(r, "id")

	switch op {
	case security.OpFind:
		return input, nil
	case security.OpGet, security.OpRemove:
		input["id"] = id
		return input, nil
	case security.OpCreate:
		return readBody(r)
	case security.OpUpdate:
		body, err := readBody(r)
		if err != nil {
			return nil, err
		}
		return record.Record{"id": id, "data": body}, nil
	}

	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	for k, v := range body {
		input[k] = v
	}
	return input, nil
}

func queryInput(r *http.Request) record.Record {
	input := record.Record{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			input[k] = vs[0]
		}
	}
	return input
}

func readBody(r *http.Request) (record.Record, error) {
	if r.Body == nil {
		return record.Record{}, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, apierr.New(http.StatusBadRequest, "Failed to read request body")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return record.Record{}, nil
	}

	var body record.Record
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, apierr.New(http.StatusBadRequest, "Request body must be a JSON object")
	}
	if body == nil {
		body = record.Record{}
	}
	return body, nil
}

// Request carries the authenticated actor into the pipeline.
type Request struct {
	User *access.Actor
}

// Actor returns the authenticated actor, or nil.
func (r Request) Actor() *access.Actor {
	return r.User
}

// Response writes JSON responses. Only the first write takes effect.
type Response struct {
	w http.ResponseWriter

	mu        sync.Mutex
	completed bool
}

// NewResponse wraps w.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w}
}

// Completed reports whether a response was written.
func (r *Response) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Send writes body as JSON with the given status.
func (r *Response) Send(status int, body any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return errors.New("response already sent")
	}
	r.completed = true
	return writeJSON(r.w, status, body)
}

// SendError writes err as a JSON error body.
func (r *Response) SendError(err *apierr.Error) error {
	if err == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return errors.New("response already sent")
	}
	r.completed = true
	return writeError(r.w, err)
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err *apierr.Error) error {
	return writeJSON(w, err.Status, err)
}

type actorKey struct{}

// WithActor returns ctx carrying actor.
func WithActor(ctx context.Context, actor *access.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored in ctx, or nil.
func ActorFrom(ctx context.Context) *access.Actor {
	a, _ := ctx.Value(actorKey{}).(*access.Actor)
	return a
}

// NewAuthMiddleware identifies the caller from a bearer token and enforces
// the resolved security policy of the matched operation. A present but
// invalid token is rejected even on public operations.
func NewAuthMiddleware(authn ports.Authenticator, reg *registry.Registry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor *access.Actor
			if token := bearerToken(r); token != "" && authn != nil {
				a, err := authn.Authenticate(r.Context(), token)
				if err != nil {
					writeError(w, apierr.Normalize(err))
					return
				}
				actor = a
			}

			if m, ok := reg.Lookup(r.Method, r.URL.Path); ok {
				if err := reg.Authorize(m.Resource, m.Operation, actor); err != nil {
					writeError(w, apierr.Normalize(err))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	state *state.State
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness reports 503 until every search index has been bootstrapped.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.state != nil && !h.state.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "starting",
			"indexes": h.state.Indexes(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// OpenAPIHandler serves the OpenAPI document of the route table.
func OpenAPIHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, openapi.Generate(reg, openapi.Info{
			Title:       "server-api",
			Description: "Resource operations synthesized from the registered definitions",
			Version:     Version,
		}))
	}
}

// VersionHandler returns the service version.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"service": "server-api",
	})
}

// NewMetricsMiddleware creates middleware that records request metrics.
func NewMetricsMiddleware(m *metrics.Collector, reg *registry.Registry, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == metricsPath {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			resourceKey := "unmatched"
			if match, ok := reg.Lookup(r.Method, r.URL.Path); ok {
				resourceKey = match.Resource
			}
			status := metrics.StatusClass(ww.Status())
			m.RequestsTotal.WithLabelValues(r.Method, resourceKey, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, resourceKey, status).Observe(time.Since(start).Seconds())
			if ww.Status() == http.StatusUnauthorized {
				m.AuthFailures.WithLabelValues("unauthorized").Inc()
			}
		})
	}
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == metricsPath {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// Ensure interface compliance.
var (
	_ resource.Request  = Request{}
	_ resource.Response = (*Response)(nil)
)
