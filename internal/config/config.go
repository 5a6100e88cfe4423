package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds everything the service reads at startup. It is never
// mutated after Load returns.
type Config struct {
	ScreenshotDir string `mapstructure:"SCREENSHOT_DIR"`
	CacheDir      string `mapstructure:"CACHE_DIR"`
	CacheTTL      int    `mapstructure:"CACHE_TTL"` // seconds
	MaxConcurrent int    `mapstructure:"MAX_CONCURRENT"`
	APIKey        string `mapstructure:"API_KEY"`
	Port          int    `mapstructure:"PORT"`

	CacheBackend       string `mapstructure:"CACHE_BACKEND"`
	CacheSweepSchedule string `mapstructure:"CACHE_SWEEP_SCHEDULE"`
	DedupeInflight     bool   `mapstructure:"DEDUPE_INFLIGHT"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	BrowserHeadless bool `mapstructure:"BROWSER_HEADLESS"`
	BrowserInstall  bool `mapstructure:"BROWSER_INSTALL"`
}

var defaults = map[string]any{
	"SCREENSHOT_DIR":       "/app/screenshots",
	"CACHE_DIR":            "/app/cache",
	"CACHE_TTL":            3600,
	"MAX_CONCURRENT":       3,
	"API_KEY":              "",
	"PORT":                 3000,
	"CACHE_BACKEND":        "file",
	"CACHE_SWEEP_SCHEDULE": "@every 5m",
	"DEDUPE_INFLIGHT":      false,
	"REDIS_ADDR":           "localhost:6379",
	"REDIS_PASSWORD":       "",
	"REDIS_DB":             0,
	"REDIS_PREFIX":         "capture",
	"LOG_LEVEL":            "info",
	"LOG_FORMAT":           "console",
	"BROWSER_HEADLESS":     true,
	"BROWSER_INSTALL":      false,
}

// Load reads the optional .env files, then the process environment.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrapf(err, "failed to load %s", f)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// TTL returns the cache time-to-live as a duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

func (c *Config) validate() error {
	if c.ScreenshotDir == "" || c.CacheDir == "" {
		return errors.New("SCREENSHOT_DIR and CACHE_DIR must be set")
	}
	if c.CacheTTL <= 0 {
		return errors.Errorf("CACHE_TTL must be positive, got %d", c.CacheTTL)
	}
	if c.MaxConcurrent <= 0 {
		return errors.Errorf("MAX_CONCURRENT must be positive, got %d", c.MaxConcurrent)
	}
	switch c.CacheBackend {
	case "file", "clover", "redis":
	default:
		return errors.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	return nil
}
