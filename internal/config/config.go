// Package config loads and validates runtime configuration at startup.
// Fail-fast: an invalid or missing required value is returned as an error
// before any connection is opened.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file, a .env file, and MATCHD_* environment variables. DATABASE_URL
// and REDIS_URL are honoured as aliases.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"jobmate/matching-service/internal/matching"
)

const envPrefix = "MATCHD"

// Config holds all runtime configuration for the matching service.
type Config struct {
	DatabaseURL string          `mapstructure:"database-url"`
	RedisURL    string          `mapstructure:"redis-url"`
	HTTP        ServerConfig    `mapstructure:"http"`
	GRPC        ServerConfig    `mapstructure:"grpc"`
	Matching    MatchingConfig  `mapstructure:"matching"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Log         LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MatchingConfig struct {
	Threshold   float64          `mapstructure:"threshold"`
	Weights     matching.Weights `mapstructure:"weights"`
	ChunkSize   int              `mapstructure:"chunk-size"`
	MaxAttempts int              `mapstructure:"max-attempts"`
	RetryDelay  time.Duration    `mapstructure:"retry-delay"`
	LockTTL     time.Duration    `mapstructure:"lock-ttl"`
	IndexTTL    time.Duration    `mapstructure:"index-ttl"`
}

// SchedulerConfig drives periodic reconciliation. An empty Spec disables it.
type SchedulerConfig struct {
	Spec        string `mapstructure:"spec"`
	Parallelism int    `mapstructure:"parallelism"`
}

type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

// New returns a viper instance with defaults and environment bindings set.
func New() *viper.Viper {
	v := viper.New()

	d := matching.DefaultConfig()
	v.SetDefault("database-url", "")
	v.SetDefault("redis-url", "")
	v.SetDefault("http.port", 8083)
	v.SetDefault("grpc.port", 9093)
	v.SetDefault("matching.threshold", matching.DefaultThreshold)
	v.SetDefault("matching.weights.keyword", d.Weights.Keyword)
	v.SetDefault("matching.weights.sector", d.Weights.Sector)
	v.SetDefault("matching.weights.location", d.Weights.Location)
	v.SetDefault("matching.chunk-size", d.ChunkSize)
	v.SetDefault("matching.max-attempts", d.MaxAttempts)
	v.SetDefault("matching.retry-delay", d.RetryDelay)
	v.SetDefault("matching.lock-ttl", matching.DefaultLockTTL)
	v.SetDefault("matching.index-ttl", matching.DefaultIndexTTL)
	v.SetDefault("scheduler.spec", "@every 6h")
	v.SetDefault("scheduler.parallelism", 4)
	v.SetDefault("log.json", false)
	v.SetDefault("log.debug", false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// BindEnv only errors without a key.
	_ = v.BindEnv("database-url", envPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis-url", envPrefix+"_REDIS_URL", "REDIS_URL")

	return v
}

// LoadDotEnv loads environment variables from the given files, or .env when
// none is given. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the optional config file into v, then decodes and validates
// the merged configuration.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value the service cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("grpc.port out of range: %d", c.GRPC.Port)
	}
	m := c.Matching
	if m.Threshold < 0 || m.Threshold > 1 {
		return fmt.Errorf("matching.threshold must be within [0,1], got %v", m.Threshold)
	}
	if err := m.Weights.Validate(); err != nil {
		return fmt.Errorf("matching.weights: %w", err)
	}
	if m.ChunkSize < 1 {
		return fmt.Errorf("matching.chunk-size must be at least 1, got %d", m.ChunkSize)
	}
	if m.MaxAttempts < 1 {
		return fmt.Errorf("matching.max-attempts must be at least 1, got %d", m.MaxAttempts)
	}
	if m.RetryDelay < 0 || m.LockTTL <= 0 || m.IndexTTL <= 0 {
		return fmt.Errorf("matching durations must be positive")
	}
	if c.Scheduler.Parallelism < 1 {
		return fmt.Errorf("scheduler.parallelism must be at least 1, got %d", c.Scheduler.Parallelism)
	}
	return nil
}

// Reconciler converts the matching section into reconciler settings.
func (c *Config) Reconciler() matching.Config {
	threshold := c.Matching.Threshold
	return matching.Config{
		Threshold:   &threshold,
		Weights:     c.Matching.Weights,
		ChunkSize:   c.Matching.ChunkSize,
		MaxAttempts: c.Matching.MaxAttempts,
		RetryDelay:  c.Matching.RetryDelay,
	}
}
