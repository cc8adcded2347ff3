package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Sessions  SessionConfig  `mapstructure:"sessions"`
	Cache     CacheConfig    `mapstructure:"cache"`
	JWTSecret string         `mapstructure:"jwt_secret"`
	LogLevel  string         `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SessionConfig controls token lifetimes, per-type concurrency limits and the
// background sweep. Limits maps session type ("web", "mobile") to the maximum
// number of live sessions per user; the "default" type is never limited.
type SessionConfig struct {
	TTL           time.Duration  `mapstructure:"ttl"`
	Limits        map[string]int `mapstructure:"limits"`
	SweepSchedule string         `mapstructure:"sweep_schedule"`
	ExemptRole    string         `mapstructure:"exempt_role"`
}

type CacheConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("database.path", "./data")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("sessions.ttl", "24h")
	viper.SetDefault("sessions.limits", map[string]int{"web": 3, "mobile": 1})
	viper.SetDefault("sessions.sweep_schedule", "*/15 * * * *")
	viper.SetDefault("sessions.exempt_role", "admin")
	viper.SetDefault("cache.max_entries", 512)
	viper.SetDefault("jwt_secret", "changeme-secret")
	viper.SetDefault("log_level", "info")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
