// Package config loads and validates crawl service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. FXNEWS_SERVER_PORT.
const EnvPrefix = "FXNEWS"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Backends BackendsConfig `mapstructure:"backends"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Hosts    HostsConfig    `mapstructure:"hosts"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BackendsConfig locates the NLP, sentiment and forecaster services. An empty URL disables
// that backend.
type BackendsConfig struct {
	NLPURL         string        `mapstructure:"nlp_url"`
	SentimentURL   string        `mapstructure:"sentiment_url"`
	PredictURL     string        `mapstructure:"predict_url"`
	EnrichTimeout  time.Duration `mapstructure:"enrich_timeout"`
	PredictTimeout time.Duration `mapstructure:"predict_timeout"`
}

// CrawlerConfig governs feed selection and the crawl fan-out.
type CrawlerConfig struct {
	UserAgent          string              `mapstructure:"user_agent"`
	FetchWorkers       int                 `mapstructure:"fetch_workers"`
	DefaultGroups      []string            `mapstructure:"default_groups"`
	FeedURLs           []string            `mapstructure:"feed_urls"`
	Groups             map[string][]string `mapstructure:"groups"`
	WindowHoursDefault int                 `mapstructure:"window_hours_default"`
	LimitDefault       int                 `mapstructure:"limit_default"`
	CrawlDeadline      time.Duration       `mapstructure:"crawl_deadline"`
	FetchTimeout       time.Duration       `mapstructure:"fetch_timeout"`
	ConnectTimeout     time.Duration       `mapstructure:"connect_timeout"`
	ReadTimeout        time.Duration       `mapstructure:"read_timeout"`
}

// RetryConfig configures feed fetch retries.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	Statuses       []int         `mapstructure:"statuses"`
}

// HostOverride sets the ceiling and spacing of one host.
type HostOverride struct {
	Host    string        `mapstructure:"host"`
	Limit   int           `mapstructure:"limit"`
	Spacing time.Duration `mapstructure:"spacing"`
}

// HostsConfig tunes per-host politeness. Overrides are layered over the built-in host table.
// They are a list because Viper splits map keys on dots.
type HostsConfig struct {
	DefaultLimit   int            `mapstructure:"default_limit"`
	DefaultSpacing time.Duration  `mapstructure:"default_spacing"`
	PreJitter      time.Duration  `mapstructure:"pre_jitter"`
	PostJitter     time.Duration  `mapstructure:"post_jitter"`
	Overrides      []HostOverride `mapstructure:"overrides"`
}

// EnrichConfig sets backend chunk sizes.
type EnrichConfig struct {
	NLPBatch       int `mapstructure:"nlp_batch"`
	SentimentBatch int `mapstructure:"sentiment_batch"`
}

// CacheConfig controls the response validator cache.
type CacheConfig struct {
	MetaTTLSeconds int           `mapstructure:"meta_ttl_seconds"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// MetaTTL returns the metadata TTL as a duration.
func (c CacheConfig) MetaTTL() time.Duration {
	return time.Duration(c.MetaTTLSeconds) * time.Second
}

// RedisConfig selects the shared response meta store.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig controls the optional Postgres article sink.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// StorageConfig selects where crawl snapshots are archived.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Bucket  string      `mapstructure:"bucket"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
}

// LocalConfig is the filesystem snapshot location.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds the crawl notification topic. Backend is "none", "memory" or "pubsub";
// empty means "pubsub" when a project is set and "none" otherwise.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// legacyEnv maps config keys to the environment names the service has always honored.
var legacyEnv = map[string]string{
	"server.port":                 "PORT",
	"server.cors_allowed_origins": "CORS_ALLOWED_ORIGINS",
	"backends.nlp_url":            "NLP_SERVICE_URL",
	"backends.sentiment_url":      "SENTIMENT_SERVICE_URL",
	"backends.predict_url":        "PREDICT_SERVICE_URL",
	"crawler.feed_urls":           "RSS_FEEDS",
	"crawler.default_groups":      "RSS_FEED_GROUPS",
	"crawler.fetch_workers":       "FETCH_WORKERS",
	"enrich.nlp_batch":            "NLP_BATCH",
	"enrich.sentiment_batch":      "SENTI_BATCH",
	"cache.meta_ttl_seconds":      "CRAWL_META_TTL",
}

// Load builds a Config from an optional file, a .env file in the working directory, and the
// environment. Prefixed variables win over legacy names.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

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
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5003)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("backends.nlp_url", "http://127.0.0.1:5004")
	v.SetDefault("backends.sentiment_url", "http://127.0.0.1:5002")
	v.SetDefault("backends.predict_url", "http://127.0.0.1:5001")
	v.SetDefault("backends.enrich_timeout", 15*time.Second)
	v.SetDefault("backends.predict_timeout", 10*time.Second)
	v.SetDefault("crawler.user_agent", "fxnews-crawler/1.0")
	v.SetDefault("crawler.fetch_workers", 32)
	v.SetDefault("crawler.default_groups", []string{
		"google_news", "central_banks", "energy", "markets",
		"crypto", "financial_media", "regional_vn", "institutions",
	})
	v.SetDefault("crawler.feed_urls", []string{})
	v.SetDefault("crawler.window_hours_default", 12)
	v.SetDefault("crawler.limit_default", 50)
	v.SetDefault("crawler.crawl_deadline", 45*time.Second)
	v.SetDefault("crawler.fetch_timeout", 45*time.Second)
	v.SetDefault("crawler.connect_timeout", 10*time.Second)
	v.SetDefault("crawler.read_timeout", 30*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_initial", 500*time.Millisecond)
	v.SetDefault("retry.backoff_max", 30*time.Second)
	v.SetDefault("retry.statuses", []int{429, 500, 502, 503, 504})
	v.SetDefault("hosts.default_limit", 2)
	v.SetDefault("hosts.default_spacing", time.Second)
	v.SetDefault("hosts.pre_jitter", 50*time.Millisecond)
	v.SetDefault("hosts.post_jitter", 200*time.Millisecond)
	v.SetDefault("enrich.nlp_batch", 100)
	v.SetDefault("enrich.sentiment_batch", 200)
	v.SetDefault("cache.meta_ttl_seconds", 180)
	v.SetDefault("cache.sweep_interval", time.Minute)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://127.0.0.1:6379/0")
	v.SetDefault("redis.key_prefix", "fxnews:crawl:meta:")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "news_articles")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.ensure_schema", true)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("pubsub.backend", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// normalize trims comma-separated list entries that came from the environment.
func (c *Config) normalize() {
	c.Server.CORSAllowedOrigins = trimList(c.Server.CORSAllowedOrigins)
	c.Crawler.DefaultGroups = trimList(c.Crawler.DefaultGroups)
	c.Crawler.FeedURLs = trimList(c.Crawler.FeedURLs)
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.PubSub.Backend = strings.ToLower(strings.TrimSpace(c.PubSub.Backend))
}

func trimList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.FetchWorkers <= 0 {
		return fmt.Errorf("crawler.fetch_workers must be > 0")
	}
	if c.Crawler.WindowHoursDefault <= 0 {
		return fmt.Errorf("crawler.window_hours_default must be > 0")
	}
	if c.Crawler.LimitDefault < 0 {
		return fmt.Errorf("crawler.limit_default must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Hosts.DefaultLimit <= 0 {
		return fmt.Errorf("hosts.default_limit must be > 0")
	}
	for _, o := range c.Hosts.Overrides {
		if strings.TrimSpace(o.Host) == "" || o.Limit < 0 || o.Spacing < 0 {
			return fmt.Errorf("hosts.overrides entry %+v is invalid", o)
		}
	}
	if c.Enrich.NLPBatch <= 0 || c.Enrich.SentimentBatch <= 0 {
		return fmt.Errorf("enrich batch sizes must be > 0")
	}
	if c.Cache.MetaTTLSeconds <= 0 {
		return fmt.Errorf("cache.meta_ttl_seconds must be > 0")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url must be set when redis is enabled")
	}
	switch c.Storage.Backend {
	case "", "none", "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	switch c.PubSub.Backend {
	case "", "none", "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("pubsub.backend %q is not supported", c.PubSub.Backend)
	}
	return nil
}
