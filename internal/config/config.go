// Package config loads and validates shelfscan configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/shelfscan/internal/clock"
	"github.com/JakeFAU/shelfscan/internal/crawlstate"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Store     StoreConfig     `mapstructure:"store"`
	Snapshots SnapshotConfig  `mapstructure:"snapshots"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Workers   WorkersConfig   `mapstructure:"workers"`
}

// ServerConfig controls HTTP server behavior. An empty APIKey disables
// authentication.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlConfig governs listing pagination and fetch behavior.
type CrawlConfig struct {
	Seeds              []string      `mapstructure:"seeds"`
	Retailer           string        `mapstructure:"retailer"`
	MaxPages           int           `mapstructure:"max_pages"`
	AutoExpand         bool          `mapstructure:"auto_expand"`
	MinSafePages       int           `mapstructure:"min_safe_pages"`
	DefaultPageSize    int           `mapstructure:"default_page_size"`
	DuplicateRatio     float64       `mapstructure:"duplicate_ratio"`
	DuplicateStreak    int           `mapstructure:"duplicate_streak"`
	EmptyStreak        int           `mapstructure:"empty_streak"`
	MaxJumpPages       int           `mapstructure:"max_jump_pages"`
	RequestDelay       time.Duration `mapstructure:"request_delay"`
	ListingConcurrency int           `mapstructure:"listing_concurrency"`
	DetailConcurrency  int           `mapstructure:"detail_concurrency"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	RatePerSecond      float64       `mapstructure:"rate_per_second"`
	UserAgent          string        `mapstructure:"user_agent"`
	RespectRobots      bool          `mapstructure:"respect_robots"`
	ForbiddenThreshold int           `mapstructure:"forbidden_threshold"`
	// BlockedDomains are never fetched: exact hosts or "*.suffix".
	BlockedDomains []string `mapstructure:"blocked_domains"`
	MaxSnapshots   int      `mapstructure:"max_snapshots"`
	// WindowStart and WindowEnd are UTC "HH:MM"; both empty disables the
	// scheduled crawl window.
	WindowStart string   `mapstructure:"window_start"`
	WindowEnd   string   `mapstructure:"window_end"`
	Schedule    []string `mapstructure:"schedule"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Engine             string        `mapstructure:"engine"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// DedupConfig selects the identity index backend.
type DedupConfig struct {
	Backend string        `mapstructure:"backend"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig is shared by the Redis dedup index and record stream.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	// StreamMaxLen approximately caps the record stream; 0 is unbounded.
	StreamMaxLen int64 `mapstructure:"stream_max_len"`
}

// StoreConfig selects where records and jobs are persisted.
type StoreConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SnapshotConfig selects the debug snapshot blob store.
type SnapshotConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PublisherConfig selects where record notifications go.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// QueueConfig sizes the in-process job queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// WorkersConfig sizes the job worker pool.
type WorkersConfig struct {
	Count int `mapstructure:"count"`
}

// Load builds a Config from disk/environment. v may carry bound CLI flags;
// nil starts from a fresh Viper.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("SHELFSCAN")
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
	// Comma-separated env values arrive as one element.
	cfg.Crawl.Seeds = splitList(cfg.Crawl.Seeds)
	cfg.Crawl.Schedule = splitList(cfg.Crawl.Schedule)
	cfg.Crawl.BlockedDomains = splitList(cfg.Crawl.BlockedDomains)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	state := crawlstate.DefaultConfig()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawl.seeds", []string{})
	v.SetDefault("crawl.retailer", "")
	v.SetDefault("crawl.max_pages", state.MaxPages)
	v.SetDefault("crawl.auto_expand", state.AutoExpand)
	v.SetDefault("crawl.min_safe_pages", state.MinSafePages)
	v.SetDefault("crawl.default_page_size", state.DefaultPageSize)
	v.SetDefault("crawl.duplicate_ratio", state.DuplicateRatio)
	v.SetDefault("crawl.duplicate_streak", state.DuplicateStreak)
	v.SetDefault("crawl.empty_streak", state.EmptyStreak)
	v.SetDefault("crawl.max_jump_pages", state.MaxJumpPages)
	v.SetDefault("crawl.request_delay", "1s")
	v.SetDefault("crawl.listing_concurrency", 4)
	v.SetDefault("crawl.detail_concurrency", 4)
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("crawl.retry_base_delay", "250ms")
	v.SetDefault("crawl.retry_max_delay", "5s")
	v.SetDefault("crawl.fetch_timeout", "30s")
	v.SetDefault("crawl.rate_per_second", 1.0)
	v.SetDefault("crawl.user_agent", "shelfscan/0.1")
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.forbidden_threshold", 3)
	v.SetDefault("crawl.blocked_domains", []string{})
	v.SetDefault("crawl.max_snapshots", 3)
	v.SetDefault("crawl.window_start", "")
	v.SetDefault("crawl.window_end", "")
	v.SetDefault("crawl.schedule", []string{})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.engine", "chromedp")
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", "45s")
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.prefix", "shelfscan:dedup")
	v.SetDefault("dedup.ttl", "24h")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "shelfscan:records")
	v.SetDefault("redis.stream_max_len", 100000)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "products")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("snapshots.backend", "none")
	v.SetDefault("snapshots.dir", "data/snapshots")
	v.SetDefault("snapshots.bucket", "")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "shelfscan-records")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("workers.count", 1)
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if err := c.State().Validate(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if c.Crawl.ListingConcurrency <= 0 {
		return fmt.Errorf("crawl.listing_concurrency must be > 0")
	}
	if c.Crawl.DetailConcurrency <= 0 {
		return fmt.Errorf("crawl.detail_concurrency must be > 0")
	}
	if c.Crawl.FetchTimeout <= 0 {
		return fmt.Errorf("crawl.fetch_timeout must be > 0")
	}
	if c.Crawl.RequestDelay < 0 {
		return fmt.Errorf("crawl.request_delay must be >= 0")
	}
	if (c.Crawl.WindowStart == "") != (c.Crawl.WindowEnd == "") {
		return fmt.Errorf("crawl.window_start and crawl.window_end must be set together")
	}
	if _, err := c.Window(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if !oneOf(c.Headless.Engine, "", "chromedp", "rod") {
		return fmt.Errorf("headless.engine must be chromedp or rod")
	}
	if !oneOf(c.Dedup.Backend, "memory", "redis") {
		return fmt.Errorf("dedup.backend must be memory or redis")
	}
	if !oneOf(c.Store.Backend, "memory", "postgres") {
		return fmt.Errorf("store.backend must be memory or postgres")
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set for the postgres backend")
	}
	if !oneOf(c.Snapshots.Backend, "none", "memory", "local", "gcs") {
		return fmt.Errorf("snapshots.backend must be none, memory, local or gcs")
	}
	if c.Snapshots.Backend == "gcs" && c.Snapshots.Bucket == "" {
		return fmt.Errorf("snapshots.bucket must be set for the gcs backend")
	}
	if !oneOf(c.Publisher.Backend, "none", "memory", "pubsub", "redis") {
		return fmt.Errorf("publisher.backend must be none, memory, pubsub or redis")
	}
	if c.Publisher.Backend == "pubsub" && c.Publisher.ProjectID == "" {
		return fmt.Errorf("publisher.project_id must be set for the pubsub backend")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	return nil
}

// State maps the crawl section onto controller thresholds.
func (c Config) State() crawlstate.Config {
	return crawlstate.Config{
		MaxPages:        c.Crawl.MaxPages,
		AutoExpand:      c.Crawl.AutoExpand,
		MinSafePages:    c.Crawl.MinSafePages,
		DefaultPageSize: c.Crawl.DefaultPageSize,
		DuplicateRatio:  c.Crawl.DuplicateRatio,
		DuplicateStreak: c.Crawl.DuplicateStreak,
		EmptyStreak:     c.Crawl.EmptyStreak,
		MaxJumpPages:    c.Crawl.MaxJumpPages,
	}
}

// Window parses the crawl window. A disabled window is returned when both
// ends are empty.
func (c Config) Window() (clock.Window, error) {
	w, err := clock.ParseWindow(c.Crawl.WindowStart, c.Crawl.WindowEnd)
	if err != nil {
		return clock.Window{}, fmt.Errorf("parse window: %w", err)
	}
	return w, nil
}
