// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/site-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/site-scraper/internal/progress/broker"
	"github.com/JakeFAU/site-scraper/internal/scheduler"
	"github.com/JakeFAU/site-scraper/internal/storage/gcs"
	"github.com/JakeFAU/site-scraper/internal/storage/local"
	"github.com/JakeFAU/site-scraper/internal/storage/postgres"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_SERVER_PORT.
const EnvPrefix = "SCRAPER"

// Storage providers.
const (
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderRedis    = "redis"
)

// Archive targets.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Events    EventsConfig    `mapstructure:"events"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Broker    broker.Config   `mapstructure:"broker"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SchedulerConfig governs admission, dispatch and request limits.
type SchedulerConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	CompletedCacheSize int           `mapstructure:"completed_cache_size"`
	AverageJobDuration time.Duration `mapstructure:"average_job_duration"`
	StoreTimeout       time.Duration `mapstructure:"store_timeout"`
	DefaultDepth       int           `mapstructure:"default_depth"`
	MaxDepth           int           `mapstructure:"max_depth"`
	DefaultMaxPages    int           `mapstructure:"default_max_pages"`
	MaxPagesLimit      int           `mapstructure:"max_pages_limit"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
}

// CrawlerConfig governs discovery and politeness.
type CrawlerConfig struct {
	UserAgent       string           `mapstructure:"user_agent"`
	RespectRobots   bool             `mapstructure:"respect_robots"`
	RobotsTTL       time.Duration    `mapstructure:"robots_ttl"`
	MaxPageBytes    int              `mapstructure:"max_page_bytes"`
	CheckpointEvery int              `mapstructure:"checkpoint_every"`
	RateLimit       ratelimit.Config `mapstructure:",squash"`
}

// HTTPConfig configures the plain HTTP fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool                    `mapstructure:"enabled"`
	MaxParallel   int                     `mapstructure:"max_parallel"`
	NavTimeoutSec int                     `mapstructure:"nav_timeout_seconds"`
	SettleDelay   time.Duration           `mapstructure:"settle_delay"`
	ExecPath      string                  `mapstructure:"exec_path"`
	Detector      headless.DetectorConfig `mapstructure:"detector"`
}

// NavigationTimeout converts the per-page render budget into a duration.
func (h HeadlessConfig) NavigationTimeout() time.Duration {
	return time.Duration(h.NavTimeoutSec) * time.Second
}

// StorageConfig selects the job store and the optional result archive.
type StorageConfig struct {
	Provider      string          `mapstructure:"provider"`
	Postgres      postgres.Config `mapstructure:"postgres"`
	Archive       string          `mapstructure:"archive"`
	ArchivePrefix string          `mapstructure:"archive_prefix"`
	Local         local.Config    `mapstructure:"local"`
	GCS           gcs.Config      `mapstructure:"gcs"`
}

// CacheConfig selects the discovery page cache.
type CacheConfig struct {
	Provider string `mapstructure:"provider"`
	Prefix   string `mapstructure:"prefix"`
}

// RedisConfig describes the shared Redis connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EventsConfig toggles job-update sinks and tunes the hub.
type EventsConfig struct {
	Log         bool          `mapstructure:"log"`
	Prometheus  bool          `mapstructure:"prometheus"`
	Redis       bool          `mapstructure:"redis"`
	PubSub      bool          `mapstructure:"pubsub"`
	Websocket   bool          `mapstructure:"websocket"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	BufferSize  int           `mapstructure:"buffer_size"`
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)

	v.SetDefault("scheduler.concurrency", scheduler.DefaultConcurrency)
	v.SetDefault("scheduler.completed_cache_size", scheduler.DefaultCompletedCacheSize)
	v.SetDefault("scheduler.average_job_duration", scheduler.DefaultAverageJobDuration.String())
	v.SetDefault("scheduler.store_timeout", scheduler.DefaultStoreTimeout.String())
	v.SetDefault("scheduler.default_depth", scheduler.DefaultDepth)
	v.SetDefault("scheduler.max_depth", scheduler.DefaultMaxDepth)
	v.SetDefault("scheduler.default_max_pages", scheduler.DefaultMaxPages)
	v.SetDefault("scheduler.max_pages_limit", scheduler.DefaultMaxPagesLimit)
	v.SetDefault("scheduler.cooldown", scheduler.DefaultCooldown.String())

	v.SetDefault("crawler.user_agent", "site-scraper/1.0 (+https://github.com/JakeFAU/site-scraper)")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.robots_ttl", "1h")
	v.SetDefault("crawler.max_page_bytes", 5*1024*1024)
	v.SetDefault("crawler.checkpoint_every", 5)
	v.SetDefault("crawler.rate_limit_rps", 2.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("http.timeout_seconds", 15)

	detector := headless.DefaultDetectorConfig()
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_delay", "500ms")
	v.SetDefault("headless.detector.min_html_bytes", detector.MinHTMLBytes)
	v.SetDefault("headless.detector.min_text_bytes", detector.MinTextBytes)
	v.SetDefault("headless.detector.shell_markers", detector.ShellMarkers)
	v.SetDefault("headless.detector.root_selectors", detector.RootSelectors)

	v.SetDefault("storage.provider", ProviderMemory)
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.archive", ArchiveNone)
	v.SetDefault("storage.archive_prefix", scheduler.DefaultArchivePrefix)
	v.SetDefault("storage.local.base_dir", "data/results")

	v.SetDefault("cache.provider", ProviderMemory)
	v.SetDefault("cache.prefix", "scraper:pages:")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("events.log", true)
	v.SetDefault("events.prometheus", true)
	v.SetDefault("events.redis", false)
	v.SetDefault("events.pubsub", false)
	v.SetDefault("events.websocket", true)
	v.SetDefault("events.redis_prefix", "")
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.sink_timeout", "10s")

	v.SetDefault("broker.send_buffer", 64)
	v.SetDefault("broker.write_timeout", "10s")
	v.SetDefault("broker.ping_interval", "30s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Scheduler.Concurrency <= 0 {
		errs = append(errs, errors.New("scheduler.concurrency must be > 0"))
	}
	if c.Scheduler.DefaultDepth > c.Scheduler.MaxDepth {
		errs = append(errs, errors.New("scheduler.default_depth must not exceed scheduler.max_depth"))
	}
	if c.Scheduler.DefaultMaxPages > c.Scheduler.MaxPagesLimit {
		errs = append(errs, errors.New("scheduler.default_max_pages must not exceed scheduler.max_pages_limit"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}

	switch c.Storage.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn must be set for the postgres provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.provider %q is not one of memory, postgres", c.Storage.Provider))
	}
	switch c.Storage.Archive {
	case ArchiveNone, ArchiveLocal:
	case ArchiveGCS:
		if c.Storage.GCS.Bucket == "" {
			errs = append(errs, errors.New("storage.gcs.bucket must be set for the gcs archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.archive %q is not one of none, local, gcs", c.Storage.Archive))
	}
	switch c.Cache.Provider {
	case ProviderMemory, ProviderRedis:
	default:
		errs = append(errs, fmt.Errorf("cache.provider %q is not one of memory, redis", c.Cache.Provider))
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr must be set when redis is used"))
	}
	if c.Events.PubSub && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set when events.pubsub is enabled"))
	}
	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs the Redis client.
func (c Config) UsesRedis() bool {
	return c.Cache.Provider == ProviderRedis || c.Events.Redis
}

// HTTPTimeout converts the fetch timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SchedulerOptions maps the scheduler section onto scheduler.Config.
func (c Config) SchedulerOptions() scheduler.Config {
	return scheduler.Config{
		Concurrency:        c.Scheduler.Concurrency,
		CompletedCacheSize: c.Scheduler.CompletedCacheSize,
		AverageJobDuration: c.Scheduler.AverageJobDuration,
		StoreTimeout:       c.Scheduler.StoreTimeout,
		DefaultDepth:       c.Scheduler.DefaultDepth,
		MaxDepth:           c.Scheduler.MaxDepth,
		DefaultMaxPages:    c.Scheduler.DefaultMaxPages,
		MaxPagesLimit:      c.Scheduler.MaxPagesLimit,
		Cooldown:           c.Scheduler.Cooldown,
		ArchivePrefix:      c.Storage.ArchivePrefix,
	}
}
