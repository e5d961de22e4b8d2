// Package config loads server configuration from an optional YAML file,
// DUMARKET_* environment variables, and built-in defaults, in that order of
// precedence (env wins).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Engine      EngineConfig      `mapstructure:"engine"`
	MarketMaker MarketMakerConfig `mapstructure:"marketmaker"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL runs the server on
// the in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds the cache settings. An empty URL disables the cache.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// EngineConfig holds matching-core settings.
type EngineConfig struct {
	StartingBalance  int64 `mapstructure:"starting_balance"` // DuCoins per new user
	MaxOrderQuantity int64 `mapstructure:"max_order_quantity"`
}

// MarketMakerConfig holds the bot's quoting parameters.
type MarketMakerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	SpreadCents       int64         `mapstructure:"spread_cents"`
	BaseSize          int64         `mapstructure:"base_size"`
	DefaultFairCents  int64         `mapstructure:"default_fair_cents"`
	MaxInventory      int64         `mapstructure:"max_inventory"`
	SkewCentsPerShare int64         `mapstructure:"skew_cents_per_share"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DUMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "30s")

	v.SetDefault("engine.starting_balance", 1000)
	v.SetDefault("engine.max_order_quantity", 10000)

	v.SetDefault("marketmaker.enabled", true)
	v.SetDefault("marketmaker.spread_cents", 4)
	v.SetDefault("marketmaker.base_size", 100)
	v.SetDefault("marketmaker.default_fair_cents", 50)
	v.SetDefault("marketmaker.max_inventory", 500)
	v.SetDefault("marketmaker.skew_cents_per_share", 1)
	v.SetDefault("marketmaker.refresh_interval", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Engine.StartingBalance < 0 {
		return fmt.Errorf("engine.starting_balance must not be negative")
	}
	if c.Engine.MaxOrderQuantity < 1 {
		return fmt.Errorf("engine.max_order_quantity must be at least 1")
	}
	if c.MarketMaker.Enabled {
		if c.MarketMaker.SpreadCents < 2 || c.MarketMaker.SpreadCents > 98 {
			return fmt.Errorf("marketmaker.spread_cents must be between 2 and 98")
		}
		if c.MarketMaker.DefaultFairCents < 1 || c.MarketMaker.DefaultFairCents > 99 {
			return fmt.Errorf("marketmaker.default_fair_cents must be between 1 and 99")
		}
		if c.MarketMaker.BaseSize < 1 {
			return fmt.Errorf("marketmaker.base_size must be at least 1")
		}
		if c.MarketMaker.RefreshInterval < time.Second {
			return fmt.Errorf("marketmaker.refresh_interval must be at least 1s")
		}
	}
	if c.Redis.URL != "" && c.Redis.CacheTTL < time.Second {
		return fmt.Errorf("redis.cache_ttl must be at least 1s")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}
