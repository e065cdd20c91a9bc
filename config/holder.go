// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 100 * time.Millisecond

type field struct {
	name string
	get  func(*Config) any
}

// Applied by App.Reload without a restart.
var reloadable = []field{
	{"logging.level", func(c *Config) any { return c.Logging.Level }},
	{"search.size", func(c *Config) any { return c.Search.Size }},
	{"search.sort", func(c *Config) any { return c.Search.Sort }},
	{"search.sort_type", func(c *Config) any { return c.Search.SortType }},
	{"pipeline.batch_concurrency", func(c *Config) any { return c.Pipeline.BatchConcurrency }},
}

// Read once while wiring; a change is stored but has no effect until restart.
var restartOnly = []field{
	{"server.host", func(c *Config) any { return c.Server.Host }},
	{"server.port", func(c *Config) any { return c.Server.Port }},
	{"server.api_prefix", func(c *Config) any { return c.Server.APIPrefix }},
	{"storage.adapter", func(c *Config) any { return c.Storage.Adapter }},
	{"storage.dsn", func(c *Config) any { return c.Storage.DSN }},
	{"search.adapter", func(c *Config) any { return c.Search.Adapter }},
	{"search.index_prefix", func(c *Config) any { return c.Search.IndexPrefix }},
	{"auth.jwt_secret", func(c *Config) any { return c.Auth.JWTSecret }},
	{"auth.roles_resource", func(c *Config) any { return c.Auth.RolesResource }},
	{"tls", func(c *Config) any { return c.TLS }},
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string { return names(reloadable) }

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string { return names(restartOnly) }

// RestartRequired lists the non-reloadable fields that differ between
// two configurations.
func RestartRequired(old, new *Config) []string { return diff(restartOnly, old, new) }

func names(fields []field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.name
	}
	return out
}

func diff(fields []field, old, new *Config) []string {
	var changed []string
	for _, f := range fields {
		if !reflect.DeepEqual(f.get(old), f.get(new)) {
			changed = append(changed, f.name)
		}
	}
	return changed
}

// Holder provides thread-safe access to configuration with hot reload support.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	onChange []func(*Config)
	onError  []func(error)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	return &Holder{
		config: cfg,
		path:   absPath,
		logger: logger.With().Str("component", "config").Logger(),
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload reads the file again. On failure the current configuration is
// kept and error listeners are notified.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		for _, fn := range h.errorListeners() {
			fn(err)
		}
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.config
	h.config = next
	listeners := append([]func(*Config){}, h.onChange...)
	h.mu.Unlock()

	if changed := diff(reloadable, prev, next); len(changed) > 0 {
		h.logger.Info().Strs("fields", changed).Msg("configuration reloaded")
	} else {
		h.logger.Debug().Msg("configuration reloaded, no reloadable field changed")
	}
	if pending := RestartRequired(prev, next); len(pending) > 0 {
		h.logger.Warn().Strs("fields", pending).Msg("changed fields take effect after restart")
	}

	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

func (h *Holder) errorListeners() []func(error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(error){}, h.onError...)
}

// OnChange registers a callback run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers a callback run when a reload fails.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// WatchFile reloads whenever the config file is written or replaced.
// The parent directory is watched so atomic renames are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop(watcher)
	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("SIGHUP received")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)

		case <-timer.C:
			h.Reload()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")

		case <-h.stopCh:
			return
		}
	}
}
