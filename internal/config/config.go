package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/mirrorswitch/internal/mirror"
)

// Config is the top-level configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Store   StoreConfig   `yaml:"store" toml:"store"`
	Catalog CatalogConfig `yaml:"catalog" toml:"catalog"`
	Mirrors MirrorsConfig `yaml:"mirrors" toml:"mirrors"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// StoreConfig selects where the active mirror selection is persisted
type StoreConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	DBPath        string `yaml:"db_path" toml:"db_path"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix" toml:"key_prefix"`
}

// CatalogConfig holds catalog download settings
type CatalogConfig struct {
	CacheDir      string `yaml:"cache_dir" toml:"cache_dir"`
	RetryAttempts int    `yaml:"retry_attempts" toml:"retry_attempts"`
	MaxBytes      int64  `yaml:"max_bytes" toml:"max_bytes"`
	// LocalMode means catalogs are served locally, so the cache is never purged.
	LocalMode bool `yaml:"local_mode" toml:"local_mode"`
}

// MirrorsConfig holds the remote mirror definitions
type MirrorsConfig struct {
	Enabled         bool            `yaml:"enabled" toml:"enabled"`
	PermanentRemote bool            `yaml:"permanent_remote" toml:"permanent_remote"`
	URLTriesCount   int             `yaml:"url_tries_count" toml:"url_tries_count"`
	TimeoutSeconds  int             `yaml:"timeout_seconds" toml:"timeout_seconds"`
	Remotes         []mirror.Mirror `yaml:"remotes" toml:"remotes"`
}

// Timeout returns the per-round probe timeout.
func (m MirrorsConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "0.0.0.0:8080",
		},
		Store: StoreConfig{
			Backend:   BackendSQLite,
			DBPath:    "/var/lib/mirrorswitch/mirrorswitch.db",
			RedisAddr: "localhost:6379",
			KeyPrefix: "mirrorswitch:",
		},
		Catalog: CatalogConfig{
			CacheDir:      "/var/lib/mirrorswitch/catalogs",
			RetryAttempts: 3,
			MaxBytes:      64 << 20,
		},
		Mirrors: MirrorsConfig{
			Enabled:        true,
			URLTriesCount:  3,
			TimeoutSeconds: 10,
		},
	}
}

// Load reads a config file from the given path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"mirrorswitch.yaml",
		"mirrorswitch.toml",
		"/etc/mirrorswitch/mirrorswitch.yaml",
		"/etc/mirrorswitch/mirrorswitch.toml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "mirrorswitch", "mirrorswitch.yaml"),
			filepath.Join(home, ".config", "mirrorswitch", "mirrorswitch.toml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks the config for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of sqlite, redis", c.Store.Backend))
	}

	if c.Mirrors.URLTriesCount <= 0 {
		errs = append(errs, fmt.Errorf("mirrors.url_tries_count must be positive, got %d", c.Mirrors.URLTriesCount))
	}
	if c.Mirrors.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("mirrors.timeout_seconds must be positive, got %d", c.Mirrors.TimeoutSeconds))
	}
	if c.Catalog.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("catalog.retry_attempts must not be negative, got %d", c.Catalog.RetryAttempts))
	}

	seen := make(map[string]string)
	for i, r := range c.Mirrors.Remotes {
		if !r.Enabled {
			continue
		}
		if strings.TrimSpace(r.RemoteURL) == "" {
			errs = append(errs, fmt.Errorf("mirrors.remotes[%d] (%s): remote_url is required", i, r.Name))
			continue
		}
		if prev, dup := seen[r.Key()]; dup {
			errs = append(errs, fmt.Errorf("mirrors.remotes[%d] (%s): remote_url duplicates %s", i, r.Name, prev))
			continue
		}
		seen[r.Key()] = r.Name
	}

	return errors.Join(errs...)
}

// EnabledRemotes returns the remotes marked enabled, in file order.
func (c *Config) EnabledRemotes() []mirror.Mirror {
	out := make([]mirror.Mirror, 0, len(c.Mirrors.Remotes))
	for _, r := range c.Mirrors.Remotes {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
