// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/amber7117/server-api/adapters/auth"
	"github.com/amber7117/server-api/adapters/clock"
	"github.com/amber7117/server-api/adapters/fulltext"
	apihttp "github.com/amber7117/server-api/adapters/http"
	"github.com/amber7117/server-api/adapters/idgen"
	"github.com/amber7117/server-api/adapters/memory"
	"github.com/amber7117/server-api/adapters/metrics"
	"github.com/amber7117/server-api/adapters/sqlite"
	apitls "github.com/amber7117/server-api/adapters/tls"
	"github.com/amber7117/server-api/config"
	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/registry"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/state"
	"github.com/amber7117/server-api/definitions"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/amber7117/server-api/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// RolesCacheTTL bounds how long role permissions are cached.
const RolesCacheTTL = time.Minute

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	State      *state.State
	Registry   *registry.Registry
	Store      ports.RecordStore
	Index      ports.SearchIndex
	Events     *events.Bus
	Metrics    *metrics.Collector
	Auth       *auth.JWT
	HTTPServer *http.Server
	TLS        *apitls.Provider

	holder *config.Holder
}

// Options customizes application wiring.
type Options struct {
	// Definitions replaces the bundled resource catalog.
	Definitions []*resource.Definition

	// Registerer receives the metrics; prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer

	// Logger replaces the logger built from the logging config.
	Logger *zerolog.Logger
}

// New creates and initializes the application from a static configuration.
func New(cfg *config.Config) (*App, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithHotReload loads the configuration file and reloads it when the
// file changes or the process receives SIGHUP.
func NewWithHotReload(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a, err := New(cfg)
	if err != nil {
		return nil, err
	}

	holder, err := config.NewHolder(path, a.Logger)
	if err != nil {
		a.close()
		return nil, err
	}
	holder.OnChange(a.Reload)
	holder.OnError(func(err error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloaded(err)
		}
	})
	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watching disabled")
	}
	holder.WatchSignals()
	a.holder = holder

	return a, nil
}

// NewWithOptions creates and initializes the application.
func NewWithOptions(cfg *config.Config, opts Options) (*App, error) {
	logger := NewLogger(cfg.Logging)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger.Info().
		Str("storage", cfg.Storage.Adapter).
		Str("search", cfg.Search.Adapter).
		Msg("initializing server-api")

	store, err := NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	index, err := fulltext.New(cfg.Search.Adapter, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init search: %w", err)
	}
	if index == nil {
		logger.Warn().Msg("search index disabled, indexed resources fall back to storage")
	}

	a := &App{
		Logger: logger,
		State:  state.New(cfg),
		Store:  store,
		Index:  index,
		Events: events.NewBus(logger),
	}

	if cfg.Metrics.Enabled {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		a.Metrics = metrics.NewWithRegistry(reg)
		a.Metrics.Subscribe(a.Events)
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	ropts := registry.Options{
		Prefix:  cfg.Server.APIPrefix,
		State:   a.State,
		Store:   store,
		Index:   index,
		Clock:   clock.Real{},
		Events:  a.Events,
		Logger:  logger,
		Helpers: Helpers(),
	}
	if a.Metrics != nil {
		ropts.Observer = a.Metrics
	}
	a.Registry = registry.New(ropts)

	defs := opts.Definitions
	if defs == nil {
		defs = definitions.All(cfg.Auth.RolesResource)
	}
	if err := a.Registry.RegisterAll(defs...); err != nil {
		a.close()
		return nil, fmt.Errorf("register resources: %w", err)
	}
	logger.Info().
		Int("resources", len(a.Registry.Keys())).
		Int("routes", len(a.Registry.Routes())).
		Msg("resources registered")

	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("auth.jwt_secret not set, using a random secret; tokens will not survive a restart")
	}
	var (
		jwtOpts []auth.Option
		perms   *auth.RolePermissions
	)
	if _, err := a.Registry.Service(cfg.Auth.RolesResource); err == nil {
		perms = auth.NewRolePermissions(a.Registry, cfg.Auth.RolesResource, RolesCacheTTL, clock.Real{})
		jwtOpts = append(jwtOpts, auth.WithPermissions(perms))
	}
	a.Auth = auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0, jwtOpts...)
	RegisterHooks(a.Events, cfg.Auth.RolesResource, perms, logger)

	router := apihttp.NewRouter(apihttp.RouterConfig{
		Registry:      a.Registry,
		State:         a.State,
		Authenticator: a.Auth,
		Metrics:       a.Metrics,
		MetricsPath:   cfg.Metrics.Path,
		Timeout:       cfg.Server.WriteTimeout,
		Logger:        logger,
	})

	a.TLS, err = apitls.NewProvider(cfg.TLS, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init tls: %w", err)
	}

	a.HTTPServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	a.TLS.Apply(a.HTTPServer)

	return a, nil
}

// NewLogger builds the process logger and sets the global level.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// NewStore returns the record store named by the storage config.
func NewStore(cfg config.StorageConfig) (ports.RecordStore, error) {
	switch cfg.Adapter {
	case "memory", "":
		return memory.NewRecordStore(idgen.UUID{}), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return sqlite.NewRecordStore(db, idgen.UUID{}), nil
	default:
		return nil, &apierr.UnknownAdapterError{Kind: "Storage", Name: cfg.Adapter}
	}
}

// StartIndexes builds the search indexes in the background. Failures are
// logged; state.Ready reports completion.
func (a *App) StartIndexes(ctx context.Context) {
	done := a.Registry.StartIndexBootstrap(ctx)
	go func() {
		if err := <-done; err != nil {
			a.Logger.Error().Err(err).Msg("index bootstrap finished with errors")
			return
		}
		a.Logger.Info().Msg("index bootstrap complete")
	}()
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	a.StartIndexes(context.Background())

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Bool("tls", a.TLS.Enabled()).
			Msg("starting http server")
		if err := a.TLS.ListenAndServe(a.HTTPServer); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}
	if a.TLS != nil {
		if err := a.TLS.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("acme listener shutdown error")
		}
	}

	a.close()
	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("storage close error")
		}
	}
}

// Reload applies a new configuration. Only the fields listed by
// config.ReloadableFields take effect; the rest need a restart.
func (a *App) Reload(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.State.SetConfig(cfg)
	if a.Metrics != nil {
		a.Metrics.ConfigReloaded(nil)
	}
	a.Logger.Info().Msg("configuration applied")
}
