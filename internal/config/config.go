// Package config loads symgraph settings from a TOML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/matzehuels/symgraph/pkg/storage"
)

// appName names the default cache and data directories.
const appName = "symgraph"

// Cache backends.
const (
	CacheFile  = "file"
	CacheRedis = "redis"
	CacheLRU   = "lru"
	CacheNone  = "none"
)

// Config is the full process configuration.
type Config struct {
	Addr     string         `toml:"addr"`
	Server   string         `toml:"server"`
	Storage  storage.Config `toml:"storage"`
	Cache    CacheConfig    `toml:"cache"`
	Journal  JournalConfig  `toml:"journal"`
	GitHub   GitHubConfig   `toml:"github"`
	Registry RegistryConfig `toml:"registry"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Source   SourceConfig   `toml:"source"`
}

// CacheConfig selects the HTTP response cache.
type CacheConfig struct {
	Backend       string        `toml:"backend"`
	Dir           string        `toml:"dir"`
	TTL           time.Duration `toml:"ttl"`
	LRUSize       int           `toml:"lru_size"`
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`

	// Prefix scopes every cache key so several deployments can share one
	// backend, typically a Redis instance.
	Prefix string `toml:"prefix"`
}

// JournalConfig locates the step journal. An empty path keeps it in memory.
type JournalConfig struct {
	Path string `toml:"path"`
}

// GitHubConfig configures source acquisition from repositories.
type GitHubConfig struct {
	Token string `toml:"token"`
}

// RegistryConfig tunes the status registry.
type RegistryConfig struct {
	Shards    int           `toml:"shards"`
	StreamTTL time.Duration `toml:"stream_ttl"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	Workers           int   `toml:"workers"`
	QueueSize         int   `toml:"queue_size"`
	FanoutConcurrency int   `toml:"fanout_concurrency"`
	LatestConcurrency int   `toml:"latest_concurrency"`
	MaxBytes          int64 `toml:"max_bytes"`
}

// SourceConfig is the source acquisition policy.
type SourceConfig struct {
	MainRetries     int           `toml:"main_retries"`
	FallbackRetries int           `toml:"fallback_retries"`
	RetryDelay      time.Duration `toml:"retry_delay"`
	RaceAfter       int           `toml:"race_after"`
	DisableRacing   bool          `toml:"disable_racing"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:    ":8080",
		Server:  "http://localhost:8080",
		Storage: storage.Config{Backend: storage.BackendMemory},
		Cache: CacheConfig{
			Backend: CacheFile,
			TTL:     24 * time.Hour,
			LRUSize: 4096,
		},
		Source: SourceConfig{
			MainRetries:     2,
			FallbackRetries: 1,
			RetryDelay:      500 * time.Millisecond,
			RaceAfter:       2,
		},
	}
}

// Load reads path (optional; a missing file is not an error when path is
// empty or the default), then .env, then the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("SYMGRAPH_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = "symgraph.toml"
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays SYMGRAPH_* variables.
func applyEnv(cfg *Config, getenv func(string) string) {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(name))); err == nil {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, err := time.ParseDuration(strings.TrimSpace(getenv(name))); err == nil {
			*dst = v
		}
	}

	str("SYMGRAPH_ADDR", &cfg.Addr)
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		cfg.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	str("SYMGRAPH_SERVER", &cfg.Server)

	str("SYMGRAPH_STORAGE", &cfg.Storage.Backend)
	str("SYMGRAPH_STORAGE_DIR", &cfg.Storage.Dir)
	str("SYMGRAPH_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	str("SYMGRAPH_S3_REGION", &cfg.Storage.S3.Region)
	str("SYMGRAPH_S3_ACCESS_KEY", &cfg.Storage.S3.AccessKey)
	str("SYMGRAPH_S3_SECRET_KEY", &cfg.Storage.S3.SecretKey)
	str("SYMGRAPH_S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("SYMGRAPH_S3_PREFIX", &cfg.Storage.S3.Prefix)
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv("SYMGRAPH_S3_USE_SSL"))); err == nil {
		cfg.Storage.S3.UseSSL = v
	}
	str("SYMGRAPH_MONGO_URI", &cfg.Storage.Mongo.URI)
	str("SYMGRAPH_MONGO_DATABASE", &cfg.Storage.Mongo.Database)

	str("SYMGRAPH_CACHE", &cfg.Cache.Backend)
	str("SYMGRAPH_CACHE_DIR", &cfg.Cache.Dir)
	dur("SYMGRAPH_CACHE_TTL", &cfg.Cache.TTL)
	str("SYMGRAPH_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("SYMGRAPH_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	num("SYMGRAPH_REDIS_DB", &cfg.Cache.RedisDB)
	str("SYMGRAPH_CACHE_PREFIX", &cfg.Cache.Prefix)

	str("SYMGRAPH_JOURNAL", &cfg.Journal.Path)
	str("GITHUB_TOKEN", &cfg.GitHub.Token)
	str("SYMGRAPH_GITHUB_TOKEN", &cfg.GitHub.Token)

	dur("SYMGRAPH_STREAM_TTL", &cfg.Registry.StreamTTL)
	num("SYMGRAPH_WORKERS", &cfg.Pipeline.Workers)
}

// Validate rejects settings that cannot work.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "", storage.BackendMemory, storage.BackendS3, storage.BackendMongo:
	case storage.BackendFS:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage backend fs requires storage.dir")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Cache.Backend {
	case "", CacheFile, CacheLRU, CacheNone:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache backend redis requires cache.redis_addr")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Source.MainRetries < 0 || c.Source.FallbackRetries < 0 {
		return fmt.Errorf("source retries cannot be negative")
	}
	return nil
}

// CacheDir returns the file cache directory, defaulting to the XDG cache
// location (~/.cache/symgraph/).
func (c Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	return DefaultCacheDir()
}

// DefaultCacheDir returns $XDG_CACHE_HOME/symgraph or ~/.cache/symgraph.
func DefaultCacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
