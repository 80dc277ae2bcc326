package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// CacheFileName is the sibling cache of the last configuration successfully
// retrieved from the configuration manager. It lets a restore proceed while
// the manager is unreachable.
const CacheFileName = "restore_configuration_cache.json"

// ErrUnavailable means both the configuration provider and the local cache
// failed; the run cannot proceed.
var ErrUnavailable = errors.New("configuration unavailable from provider and cache")

// Config holds every parameter of a restore run. Loaded once per process
// and treated as immutable afterwards.
type Config struct {
	ServiceName string `json:"service_name" mapstructure:"service_name"`
	ServiceRoot string `json:"service_root" mapstructure:"service_root"`
	Database    string `json:"database" mapstructure:"database"`

	MaxRetry          int           `json:"max_retry" mapstructure:"max_retry"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	RestartMaxRetries int           `json:"restart_max_retries" mapstructure:"restart_max_retries"`
	RestartSleep      time.Duration `json:"restart_sleep" mapstructure:"restart_sleep"`

	LockDir    string `json:"lock_dir" mapstructure:"lock_dir"`
	CatalogDSN string `json:"catalog_dsn" mapstructure:"catalog_dsn"`
	AuditDSN   string `json:"audit_dsn" mapstructure:"audit_dsn"`
	Listen     string `json:"listen" mapstructure:"listen"`
}

// Defaults returns the built-in configuration, used to fill gaps from
// whichever source supplied the run's configuration.
func Defaults() Config {
	root := os.Getenv("FLEDGE_ROOT")
	if root == "" {
		root = "/usr/local/fledge"
	}
	return Config{
		ServiceName:       "foglamp",
		ServiceRoot:       root,
		Database:          "foglamp",
		MaxRetry:          3,
		Timeout:           30 * time.Second,
		RestartMaxRetries: 10,
		RestartSleep:      5 * time.Second,
		LockDir:           filepath.Join(root, "data"),
		CatalogDSN:        filepath.Join(root, "data", "backup_catalog.db"),
		Listen:            "127.0.0.1:8085",
	}
}

// Provider retrieves the restore configuration from an external source,
// typically the central configuration manager's management API.
type Provider interface {
	Retrieve() (Config, error)
}

// Loader resolves the effective configuration: provider first, cache file
// second. A successful provider fetch rewrites the cache.
type Loader struct {
	Provider Provider // may be nil: cache only
	CacheDir string
	Logger   *slog.Logger
}

func (l Loader) cachePath() string {
	return filepath.Join(l.CacheDir, CacheFileName)
}

// Load returns the effective configuration or ErrUnavailable when neither
// the provider nor the cache can serve one.
func (l Loader) Load() (Config, error) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}

	if l.Provider != nil {
		cfg, err := l.Provider.Retrieve()
		if err == nil {
			cfg = mergeDefaults(cfg)
			if werr := l.writeCache(cfg); werr != nil {
				log.Warn("cannot update configuration cache", "path", l.cachePath(), "error", werr)
			}
			return cfg, nil
		}
		log.Warn("configuration provider failed, trying local cache", "error", err)
	}

	cfg, err := l.readCache()
	if err != nil {
		log.Error("configuration cache unreadable", "path", l.cachePath(), "error", err)
		return Config{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return mergeDefaults(cfg), nil
}

func (l Loader) readCache() (Config, error) {
	v := viper.New()
	v.SetConfigFile(l.cachePath())
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationHook)); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// durationHook accepts both "30s" strings and plain nanosecond numbers for
// the duration fields of the cache file.
var durationHook = mapstructure.StringToTimeDurationHookFunc()

func (l Loader) writeCache(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.CacheDir, 0o750); err != nil {
		return err
	}
	tmp := l.cachePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.cachePath())
}

func mergeDefaults(cfg Config) Config {
	def := Defaults()
	cfg.ServiceName = strOr(cfg.ServiceName, def.ServiceName)
	cfg.ServiceRoot = strOr(cfg.ServiceRoot, def.ServiceRoot)
	cfg.Database = strOr(cfg.Database, def.Database)
	cfg.MaxRetry = intOr(cfg.MaxRetry, def.MaxRetry)
	cfg.RestartMaxRetries = intOr(cfg.RestartMaxRetries, def.RestartMaxRetries)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RestartSleep <= 0 {
		cfg.RestartSleep = def.RestartSleep
	}
	cfg.LockDir = strOr(cfg.LockDir, def.LockDir)
	cfg.CatalogDSN = strOr(cfg.CatalogDSN, def.CatalogDSN)
	cfg.Listen = strOr(cfg.Listen, def.Listen)
	return cfg
}

func strOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
