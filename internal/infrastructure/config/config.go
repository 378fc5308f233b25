package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks environment overrides. A double underscore separates
	// nesting levels: IA_SERVER__READ_TIMEOUT sets server.read_timeout.
	EnvPrefix = "IA_"

	// DefaultFile is read when present; IA_CONFIG_FILE points elsewhere
	DefaultFile = "configs/config.yaml"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment" validate:"required"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	NATS      NATSConfig      `koanf:"nats"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Engine    EngineConfig    `koanf:"engine"`
	Stream    StreamConfig    `koanf:"stream"`
	Security  SecurityConfig  `koanf:"security"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	// ValidateContract checks requests against the embedded OpenAPI document
	ValidateContract bool `koanf:"validate_contract"`
}

type StoreConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory postgres"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

type RedisConfig struct {
	Enabled  bool          `koanf:"enabled"`
	URL      string        `koanf:"url"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db" validate:"min=0"`
	TTL      time.Duration `koanf:"ttl" validate:"gt=0"`
}

type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix" validate:"required"`
}

type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name" validate:"required"`
	SampleRate  float64 `koanf:"sample_rate" validate:"min=0,max=1"`
}

type EngineConfig struct {
	// Location is the IANA zone aggregation layouts are evaluated in
	Location         string `koanf:"location" validate:"required"`
	MaxBuckets       int64  `koanf:"max_buckets" validate:"min=1"`
	PatternCacheSize int    `koanf:"pattern_cache_size" validate:"min=1"`
}

type StreamConfig struct {
	Enabled      bool          `koanf:"enabled"`
	BufferSize   int           `koanf:"buffer_size" validate:"min=1"`
	PingInterval time.Duration `koanf:"ping_interval" validate:"gt=0"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second" validate:"min=0"`
	BurstSize         int `koanf:"burst_size" validate:"min=0"`
}

// Defaults is the configuration used when nothing overrides it
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL: "localhost:6379",
			TTL: 5 * time.Minute,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "interactions",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "interaction-analytics",
			SampleRate:  1.0,
		},
		Engine: EngineConfig{
			Location:         "UTC",
			MaxBuckets:       100_000,
			PatternCacheSize: 512,
		},
		Stream: StreamConfig{
			Enabled:      true,
			BufferSize:   256,
			PingInterval: 30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
	}
}

// Load reads defaults, the optional config file and environment overrides
func Load() (*Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG_FILE")
	if path == "" {
		path = DefaultFile
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file. A missing file is not an
// error.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct constraints and the rules that span sections
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Store.Driver == StorePostgres && c.Database.URL == "" {
		return errors.New("invalid config: database.url is required for the postgres store")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return errors.New("invalid config: redis.url is required when redis is enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("invalid config: nats.url is required when nats is enabled")
	}
	if _, err := c.Engine.TimeLocation(); err != nil {
		return fmt.Errorf("invalid config: engine.location: %w", err)
	}

	return nil
}

// TimeLocation resolves the configured zone
func (e EngineConfig) TimeLocation() (*time.Location, error) {
	return time.LoadLocation(e.Location)
}
