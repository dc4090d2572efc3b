// Package config loads process configuration for querykit programs from an
// optional file and QUERYKIT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-querykit/core/persistence"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment variable read by Load, as in
// QUERYKIT_DATABASE_DSN.
const EnvPrefix = "QUERYKIT"

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Query    QueryConfig    `mapstructure:"query"`
}

// DatabaseConfig selects the store and the descriptor document.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Schema string `mapstructure:"schema"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// QueryConfig configures pagination.
type QueryConfig struct {
	DefaultLimit      int    `mapstructure:"default_limit"`
	MaxLimit          int    `mapstructure:"max_limit"`
	ParallelCount     bool   `mapstructure:"parallel_count"`
	CountStrategy     string `mapstructure:"count_strategy"`
	WarnUnstableOrder bool   `mapstructure:"warn_unstable_order"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:querykit.db?cache=shared")
	v.SetDefault("database.schema", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("query.default_limit", 20)
	v.SetDefault("query.max_limit", 100)
	v.SetDefault("query.parallel_count", false)
	v.SetDefault("query.count_strategy", "exact")
	v.SetDefault("query.warn_unstable_order", true)
}

// Load reads path, if not empty, then applies environment overrides. A
// missing file is an error; an empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Query.DefaultLimit <= 0 {
		return errors.New("query.default_limit must be positive")
	}
	if c.Query.MaxLimit > 0 && c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit %d exceeds query.max_limit %d", c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	if _, err := c.Query.Strategy(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}

// Strategy parses CountStrategy.
func (q QueryConfig) Strategy() (persistence.CountStrategy, error) {
	switch strings.ToLower(q.CountStrategy) {
	case "", "exact":
		return persistence.CountExact, nil
	case "lazy":
		return persistence.CountLazy, nil
	case "none":
		return persistence.CountNone, nil
	}
	return 0, fmt.Errorf("unknown query.count_strategy %q", q.CountStrategy)
}

// Page returns the first page with the default limit.
func (q QueryConfig) Page() persistence.Page {
	return persistence.Page{Offset: 0, Limit: q.DefaultLimit}
}

// ExecutorOptions converts the query settings to executor options.
func (q QueryConfig) ExecutorOptions() *persistence.Options {
	opts := persistence.DefaultOptions()
	opts.ParallelCount = q.ParallelCount
	opts.MaxLimit = q.MaxLimit
	opts.WarnUnstableOrder = q.WarnUnstableOrder
	return opts
}

// Logger builds a zap logger with ISO8601 timestamps.
func (l LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level: %w", err)
	}
	config := zap.NewProductionConfig()
	if l.Development {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	return config.Build()
}
