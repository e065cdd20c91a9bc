// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/amber7117/server-api/domain/search"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SERVER_API_"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	TLS      TLSConfig      `yaml:"tls" envPrefix:"TLS_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Search   SearchConfig   `yaml:"search" envPrefix:"SEARCH_"`
	Pipeline PipelineConfig `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Auth     AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host" env:"HOST"`
	Port         int           `yaml:"port" env:"PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	APIPrefix    string        `yaml:"api_prefix" env:"API_PREFIX"` // default: api
}

// TLSConfig configures HTTPS.
type TLSConfig struct {
	Mode     string   `yaml:"mode" env:"MODE"` // "off", "files" or "acme"
	CertFile string   `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string   `yaml:"key_file" env:"KEY_FILE"`
	Domains  []string `yaml:"domains" env:"DOMAINS" envSeparator:","`
	Email    string   `yaml:"email" env:"EMAIL"`
	CacheDir string   `yaml:"cache_dir" env:"CACHE_DIR"`
	Staging  bool     `yaml:"staging" env:"STAGING"`
	HTTPAddr string   `yaml:"http_addr" env:"HTTP_ADDR"` // ACME http-01 listener
}

// StorageConfig selects the primary record store.
type StorageConfig struct {
	Adapter string `yaml:"adapter" env:"ADAPTER"` // "memory" or "sqlite"
	DSN     string `yaml:"dsn" env:"DSN"`
}

// SearchConfig selects the search index and its request defaults.
type SearchConfig struct {
	Adapter      string             `yaml:"adapter" env:"ADAPTER"` // "memory" or "none"
	IndexPrefix  string             `yaml:"index_prefix" env:"INDEX_PREFIX"`
	DefaultIndex DefaultIndexConfig `yaml:"default_index"`
	Size         int                `yaml:"size" env:"SIZE"`
	Sort         string             `yaml:"sort" env:"SORT"`
	SortType     string             `yaml:"sort_type" env:"SORT_TYPE"`
}

// DefaultIndexConfig is merged under every resource's indexing config.
type DefaultIndexConfig struct {
	Ref          string   `yaml:"ref"`
	Fields       []string `yaml:"fields"`
	SaveDocument *bool    `yaml:"save_document"`
}

// PipelineConfig tunes operation execution.
type PipelineConfig struct {
	// BatchConcurrency bounds concurrent ids within one batch call.
	BatchConcurrency int `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret,omitempty" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer,omitempty" env:"ISSUER"`
	// RolesResource names the resource holding role permissions.
	RolesResource string `yaml:"roles_resource,omitempty" env:"ROLES_RESOURCE"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" env:"FORMAT"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"` // default: /metrics
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv creates configuration entirely from SERVER_API_* environment
// variables, for example SERVER_API_SERVER_PORT or SERVER_API_STORAGE_ADAPTER.
func LoadFromEnv() (*Config, error) {
	return finish(&Config{})
}

// LoadWithFallback loads the file when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies SERVER_API_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.APIPrefix == "" {
		cfg.Server.APIPrefix = "api"
	}

	if cfg.TLS.Mode == "" {
		cfg.TLS.Mode = "off"
	}
	if cfg.TLS.CacheDir == "" {
		cfg.TLS.CacheDir = "certs"
	}
	if cfg.TLS.HTTPAddr == "" {
		cfg.TLS.HTTPAddr = ":80"
	}

	if cfg.Storage.Adapter == "" {
		cfg.Storage.Adapter = "memory"
	}
	if cfg.Storage.Adapter == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "server-api.db"
	}

	if cfg.Search.Adapter == "" {
		cfg.Search.Adapter = "memory"
	}
	if cfg.Search.DefaultIndex.Ref == "" {
		cfg.Search.DefaultIndex.Ref = "key"
	}
	if len(cfg.Search.DefaultIndex.Fields) == 0 {
		cfg.Search.DefaultIndex.Fields = []string{"name", "key"}
	}
	if cfg.Search.DefaultIndex.SaveDocument == nil {
		save := true
		cfg.Search.DefaultIndex.SaveDocument = &save
	}
	if cfg.Search.Size == 0 {
		cfg.Search.Size = 10
	}
	if cfg.Search.Sort == "" {
		cfg.Search.Sort = "createdAt"
	}
	if cfg.Search.SortType == "" {
		cfg.Search.SortType = "asc"
	}

	if cfg.Pipeline.BatchConcurrency == 0 {
		cfg.Pipeline.BatchConcurrency = 8
	}

	if cfg.Auth.RolesResource == "" {
		cfg.Auth.RolesResource = "roles"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.TLS.Mode {
	case "off", "acme":
	case "files":
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required in files mode")
		}
	default:
		return fmt.Errorf("tls.mode must be 'off', 'files' or 'acme', got %q", cfg.TLS.Mode)
	}

	// Adapter names are checked by the adapter factories at startup.
	if cfg.Search.SortType != "asc" && cfg.Search.SortType != "desc" {
		return fmt.Errorf("search.sort_type must be 'asc' or 'desc', got %q", cfg.Search.SortType)
	}
	if cfg.Search.Size < 0 {
		return fmt.Errorf("search.size must not be negative")
	}

	if cfg.Pipeline.BatchConcurrency < 1 {
		return fmt.Errorf("pipeline.batch_concurrency must be at least 1")
	}

	if !slices.Contains([]string{"json", "console"}, cfg.Logging.Format) {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}

// IndexDefaults returns the global index config merged under every
// resource's own indexing config.
func (c SearchConfig) IndexDefaults() search.IndexConfig {
	cfg := search.IndexConfig{
		Ref:    c.DefaultIndex.Ref,
		Fields: slices.Clone(c.DefaultIndex.Fields),
	}
	if c.DefaultIndex.SaveDocument != nil {
		cfg.SaveDocument = *c.DefaultIndex.SaveDocument
	}
	return cfg
}
