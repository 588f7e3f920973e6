// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Economy  EconomyConfig  `mapstructure:"economy"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MetricsConfig holds the metrics/health listener configuration.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// CacheConfig controls the catalog caches. A stale read for the remainder of
// a TTL window is accepted.
type CacheConfig struct {
	Size           int           `mapstructure:"size"`
	RankTTL        time.Duration `mapstructure:"rank_ttl"`
	AchievementTTL time.Duration `mapstructure:"achievement_ttl"`
}

// EconomyConfig holds points economy configuration.
type EconomyConfig struct {
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	MaxCascadeDepth int           `mapstructure:"max_cascade_depth"`
	FloorRankKey    string        `mapstructure:"floor_rank_key"`
	FloorRankName   string        `mapstructure:"floor_rank_name"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// ZerologLevel parses the configured level, falling back to info.
func (l LogConfig) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || l.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, ECONOMY_LOCK_TIMEOUT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Economy.MaxCascadeDepth < 1 {
		return fmt.Errorf("economy.max_cascade_depth must be at least 1, got %d", c.Economy.MaxCascadeDepth)
	}
	if c.Cache.Size < 1 {
		return fmt.Errorf("cache.size must be at least 1, got %d", c.Cache.Size)
	}
	if c.Economy.FloorRankKey == "" {
		return fmt.Errorf("economy.floor_rank_key must not be empty")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "loyalty")
	v.SetDefault("database.name", "loyalty")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", ":9102")

	v.SetDefault("cache.size", 256)
	v.SetDefault("cache.rank_ttl", "1h")
	v.SetDefault("cache.achievement_ttl", "5m")

	v.SetDefault("economy.lock_timeout", "5s")
	v.SetDefault("economy.max_cascade_depth", 8)
	v.SetDefault("economy.floor_rank_key", "member")
	v.SetDefault("economy.floor_rank_name", "Member")
}
