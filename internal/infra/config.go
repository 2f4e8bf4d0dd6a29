package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds every engine setting. Loaded from YAML, then sensitive
// values are overridden from environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL     string   `yaml:"ws_url"`
		RestURL   string   `yaml:"rest_url"`
		IconURL   string   `yaml:"icon_url"` // template, %s replaced by lower-case base symbol
		APIKey    string   `yaml:"api_key"`
		APISecret string   `yaml:"api_secret"`
		Watchlist []string `yaml:"watchlist"` // "BASE/QUOTE" pairs

		AckTimeoutSec      int `yaml:"ack_timeout_sec"`
		LivenessTimeoutSec int `yaml:"liveness_timeout_sec"`
		ReadTimeoutSec     int `yaml:"read_timeout_sec"`
		BackoffInitialMS   int `yaml:"backoff_initial_ms"`
		BackoffMaxSec      int `yaml:"backoff_max_sec"`
	} `yaml:"feed"`

	Book struct {
		Depth      int `yaml:"depth"`       // top-N levels pushed per commit
		PendingCap int `yaml:"pending_cap"` // buffered deltas while awaiting a snapshot
	} `yaml:"book"`

	Ticker struct {
		Epsilon decimal.Decimal `yaml:"epsilon"` // relative price delta worth publishing
	} `yaml:"ticker"`

	Cache struct {
		TTLSec     int  `yaml:"ttl_sec"`
		IdleSec    int  `yaml:"idle_sec"`
		DiskBacked bool `yaml:"disk_backed"`
	} `yaml:"cache"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies env
// overrides, defaults and validation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills every tunable left at zero. No timeout is ever
// unbounded.
func (c *Config) applyDefaults() {
	if c.Feed.AckTimeoutSec <= 0 {
		c.Feed.AckTimeoutSec = 10
	}
	if c.Feed.LivenessTimeoutSec <= 0 {
		c.Feed.LivenessTimeoutSec = 15
	}
	if c.Feed.ReadTimeoutSec <= 0 {
		c.Feed.ReadTimeoutSec = 60
	}
	if c.Feed.BackoffInitialMS <= 0 {
		c.Feed.BackoffInitialMS = 1000
	}
	if c.Feed.BackoffMaxSec <= 0 {
		c.Feed.BackoffMaxSec = 60
	}
	if c.Book.Depth <= 0 {
		c.Book.Depth = 10
	}
	if c.Book.PendingCap <= 0 {
		c.Book.PendingCap = 256
	}
	if c.Ticker.Epsilon.IsZero() {
		c.Ticker.Epsilon = decimal.NewFromFloat(0.0001) // 0.01%
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 300
	}
	if c.Cache.IdleSec <= 0 {
		c.Cache.IdleSec = 1800
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.Feed.WSURL, "ws://") && !hasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if !hasPrefix(c.Feed.RestURL, "http://") && !hasPrefix(c.Feed.RestURL, "https://") {
		return fmt.Errorf("invalid feed REST URL: %s", c.Feed.RestURL)
	}
	if len(c.Feed.Watchlist) == 0 {
		return fmt.Errorf("at least one watchlist pair is required")
	}
	for _, s := range c.Feed.Watchlist {
		if !strings.Contains(s, "/") {
			return fmt.Errorf("watchlist pair %q must be BASE/QUOTE", s)
		}
	}
	if c.Feed.BackoffInitialMS > c.Feed.BackoffMaxSec*1000 {
		return fmt.Errorf("backoff initial delay exceeds ceiling")
	}
	if c.Ticker.Epsilon.IsNegative() {
		return fmt.Errorf("ticker epsilon must not be negative")
	}
	return nil
}

// Timeout accessors, so callers never re-derive units.

func (c *Config) AckTimeout() time.Duration      { return time.Duration(c.Feed.AckTimeoutSec) * time.Second }
func (c *Config) LivenessTimeout() time.Duration { return time.Duration(c.Feed.LivenessTimeoutSec) * time.Second }
func (c *Config) ReadTimeout() time.Duration     { return time.Duration(c.Feed.ReadTimeoutSec) * time.Second }
func (c *Config) BackoffInitial() time.Duration  { return time.Duration(c.Feed.BackoffInitialMS) * time.Millisecond }
func (c *Config) BackoffMax() time.Duration      { return time.Duration(c.Feed.BackoffMaxSec) * time.Second }
func (c *Config) CacheTTL() time.Duration        { return time.Duration(c.Cache.TTLSec) * time.Second }
func (c *Config) CacheIdle() time.Duration       { return time.Duration(c.Cache.IdleSec) * time.Second }

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overrides sensitive values from the environment.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("KRADER_API_KEY"); key != "" {
		cfg.Feed.APIKey = key
	}
	if secret := os.Getenv("KRADER_API_SECRET"); secret != "" {
		cfg.Feed.APISecret = secret
	}
}
