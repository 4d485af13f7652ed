// Package config loads the proxy configuration from a YAML file and
// MDSPROXY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iderikon/mediastorage-proxy/pkg/models"
	"github.com/iderikon/mediastorage-proxy/pkg/reactor"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
	"github.com/iderikon/mediastorage-proxy/pkg/tracing"
)

// EnvPrefix prefixes every environment override, e.g. MDSPROXY_SERVER_LISTEN
const EnvPrefix = "MDSPROXY"

// DefaultNamespace is served when the configuration defines none
const DefaultNamespace = "default"

// Config is the complete proxy configuration
type Config struct {
	Server     ServerConfig       `mapstructure:"server" yaml:"server"`
	Storage    StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Database   store.Config       `mapstructure:"database" yaml:"database"`
	Reactor    reactor.Config     `mapstructure:"reactor" yaml:"reactor"`
	RateLimit  RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Auth       AuthConfig         `mapstructure:"auth" yaml:"auth"`
	Tracing    tracing.Config     `mapstructure:"tracing" yaml:"tracing"`
	Log        LogConfig          `mapstructure:"log" yaml:"log"`
	Namespaces []models.Namespace `mapstructure:"namespaces" yaml:"namespaces"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	MetricsListen   string        `mapstructure:"metrics_listen" yaml:"metrics_listen"`
	CertFile        string        `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile         string        `mapstructure:"key_file" yaml:"key_file"`
	ClientCAFile    string        `mapstructure:"client_ca_file" yaml:"client_ca_file"`
	ChunkSize       int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// TLSEnabled reports whether a certificate is configured
func (s ServerConfig) TLSEnabled() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

// StorageConfig selects the blob backend
type StorageConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend"` // "fs" or "memory"
	Root         string `mapstructure:"root" yaml:"root"`
	MinFreeBytes uint64 `mapstructure:"min_free_bytes" yaml:"min_free_bytes"`
}

// RateLimitConfig configures per-client upload limiting
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	RPS             float64       `mapstructure:"rps" yaml:"rps"`
	Burst           int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// AuthConfig lists accepted API keys, plain or bcrypt hashed. No keys
// disables authentication.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys" yaml:"api_keys"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	File  string `mapstructure:"file" yaml:"file"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.metrics_listen", ":9090")
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.client_ca_file", "")
	v.SetDefault("server.chunk_size", 64*1024)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.root", "./data")
	v.SetDefault("storage.min_free_bytes", uint64(1<<30))

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "mdsproxy.db")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "0s")

	defaults := reactor.DefaultConfig()
	v.SetDefault("reactor.workers", defaults.Workers)
	v.SetDefault("reactor.queue_size", defaults.QueueSize)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 50.0)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("rate_limit.cleanup_interval", "10m")

	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "mdsproxy")
	v.SetDefault("tracing.service_version", "dev")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")
}

// NewViper returns a viper instance with defaults and environment binding
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (or mdsproxy.yaml from the working directory or
// /etc/mdsproxy when path is empty) and applies environment overrides.
// A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mdsproxy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mdsproxy")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Namespaces) == 0 {
		cfg.Namespaces = []models.Namespace{{Name: DefaultNamespace}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the proxy cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("server.chunk_size must be positive, got %d", c.Server.ChunkSize))
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		errs = append(errs, errors.New("server.cert_file and server.key_file must be set together"))
	}

	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Root == "" {
			errs = append(errs, errors.New("storage.root is required for the fs backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Database.Type {
	case "memory", "sqlite", "":
	case "postgres", "postgresql":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.type %q", c.Database.Type))
	}

	if c.Reactor.Workers <= 0 {
		errs = append(errs, fmt.Errorf("reactor.workers must be positive, got %d", c.Reactor.Workers))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit.rps and rate_limit.burst must be positive"))
	}

	seen := make(map[string]bool, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if err := ns.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[ns.Name] {
			errs = append(errs, fmt.Errorf("duplicate namespace %q", ns.Name))
		}
		seen[ns.Name] = true
	}
	if len(c.Namespaces) == 0 {
		errs = append(errs, errors.New("no namespaces configured"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Namespace looks up a namespace by name
func (c *Config) Namespace(name string) (models.Namespace, bool) {
	for _, ns := range c.Namespaces {
		if ns.Name == name {
			return ns, true
		}
	}
	return models.Namespace{}, false
}
