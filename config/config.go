// Package config loads the Arnold service configuration from an optional
// YAML file, ARNOLD_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/session"
)

// EnvPrefix prefixes every environment override, e.g. ARNOLD_SERVER_ADDR.
const EnvPrefix = "ARNOLD"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig         `mapstructure:"server" yaml:"server"`
	OpenAI    OpenAIConfig         `mapstructure:"openai" yaml:"openai"`
	Session   SessionConfig        `mapstructure:"session" yaml:"session"`
	Storage   StorageConfig        `mapstructure:"storage" yaml:"storage"`
	Redis     RedisConfig          `mapstructure:"redis" yaml:"redis"`
	Metrics   MetricsConfig        `mapstructure:"metrics" yaml:"metrics"`
	Telemetry TelemetryConfig      `mapstructure:"telemetry" yaml:"telemetry"`
	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP listener and client websockets.
type ServerConfig struct {
	Addr                   string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout      time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins         []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	InboundFramesPerSecond float64       `mapstructure:"inbound_frames_per_second" yaml:"inbound_frames_per_second"`
	InboundFrameBurst      int           `mapstructure:"inbound_frame_burst" yaml:"inbound_frame_burst"`
}

// OpenAIConfig configures the upstream Realtime API.
type OpenAIConfig struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Model    string `mapstructure:"model" yaml:"model"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// SessionConfig tunes the voice session manager.
type SessionConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ToolTimeout       time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier        float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Voice             string        `mapstructure:"voice" yaml:"voice"`
	// FlushThreshold is the playback frame size in bytes.
	FlushThreshold int `mapstructure:"flush_threshold" yaml:"flush_threshold"`
}

// StorageConfig selects the workout repository.
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// RedisConfig enables Redis-backed session metrics snapshots when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// MetricsConfig controls the Prometheus exporter. An empty Addr mounts
// /metrics on the main server instead of a dedicated listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	// SampleRatio is the fraction of new traces recorded; 1 records all.
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	policy := session.DefaultPolicy()
	return Config{
		Server: ServerConfig{
			Addr:                   ":8000",
			ReadHeaderTimeout:      10 * time.Second,
			ShutdownTimeout:        15 * time.Second,
			AllowedOrigins:         []string{"*"},
			InboundFramesPerSecond: 100,
			InboundFrameBurst:      50,
		},
		OpenAI: OpenAIConfig{
			Model:    "gpt-4o-realtime-preview",
			Endpoint: "wss://api.openai.com/v1/realtime",
		},
		Session: SessionConfig{
			HeartbeatInterval: 30 * time.Second,
			ToolTimeout:       30 * time.Second,
			MaxRetries:        policy.MaxRetries,
			InitialDelay:      policy.InitialDelay,
			MaxDelay:          policy.MaxDelay,
			Multiplier:        policy.Multiplier,
			Voice:             session.DefaultConfig().Voice,
			FlushThreshold:    session.DefaultFlushThreshold,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			DSN:    "arnold.db",
		},
		Redis: RedisConfig{
			Prefix: "arnold",
			TTL:    24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "http://localhost:4318",
			ServiceName: "arnold",
			SampleRatio: 1,
		},
		Logging: logger.LoggingConfig{
			DefaultLevel: "info",
			Format:       logger.FormatText,
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
// The OpenAI API key is checked separately by RequireAPIKey, so commands that
// never dial upstream work without one.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of sqlite, postgres, memory", c.Storage.Driver))
	}
	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Session.HeartbeatInterval < 0 || c.Session.ToolTimeout < 0 {
		errs = append(errs, errors.New("session intervals cannot be negative"))
	}
	if c.Session.FlushThreshold < 0 {
		errs = append(errs, errors.New("session.flush_threshold cannot be negative"))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %g must be between 0 and 1", c.Telemetry.SampleRatio))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RequireAPIKey reports an error when no OpenAI API key is configured.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return errors.New("config: OpenAI API key is required (set OPENAI_API_KEY)")
	}
	return nil
}

// Policy returns the reconnect backoff policy.
func (c *Config) Policy() session.Policy {
	return session.Policy{
		MaxRetries:   c.Session.MaxRetries,
		InitialDelay: c.Session.InitialDelay,
		MaxDelay:     c.Session.MaxDelay,
		Multiplier:   c.Session.Multiplier,
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if key := c.OpenAI.APIKey; key != "" {
		c.OpenAI.APIKey = logger.RedactSensitiveData(key)
		if c.OpenAI.APIKey == key {
			c.OpenAI.APIKey = "[REDACTED]"
		}
	}
	if c.Redis.Password != "" {
		c.Redis.Password = "[REDACTED]"
	}
	return c
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load builds the configuration from defaults, the file at path (optional),
// the environment and any flags already bound on v. A nil v uses a fresh
// viper instance.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The conventional variable name wins over the prefixed one.
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY", EnvPrefix+"_OPENAI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so environment variables can override it.
func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.inbound_frames_per_second", d.Server.InboundFramesPerSecond)
	v.SetDefault("server.inbound_frame_burst", d.Server.InboundFrameBurst)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", d.OpenAI.Model)
	v.SetDefault("openai.endpoint", d.OpenAI.Endpoint)

	v.SetDefault("session.heartbeat_interval", d.Session.HeartbeatInterval)
	v.SetDefault("session.tool_timeout", d.Session.ToolTimeout)
	v.SetDefault("session.max_retries", d.Session.MaxRetries)
	v.SetDefault("session.initial_delay", d.Session.InitialDelay)
	v.SetDefault("session.max_delay", d.Session.MaxDelay)
	v.SetDefault("session.multiplier", d.Session.Multiplier)
	v.SetDefault("session.voice", d.Session.Voice)
	v.SetDefault("session.flush_threshold", d.Session.FlushThreshold)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.environment", d.Telemetry.Environment)
	v.SetDefault("telemetry.sample_ratio", d.Telemetry.SampleRatio)

	v.SetDefault("logging.level", d.Logging.DefaultLevel)
	v.SetDefault("logging.format", d.Logging.Format)
}
