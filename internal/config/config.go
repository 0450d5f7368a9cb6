// ============================================================================
// isopool Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: YAML configuration loading with environment overrides
//
// Lookup order:
//   1. explicit path (--config flag)
//   2. $ISOPOOL_CONFIG
//   3. isopool.yaml in ., ./configs, $HOME/.isopool
//   4. built-in defaults
//
// Every key can be overridden from the environment with the ISOPOOL_ prefix,
// dots replaced by underscores. Example: ISOPOOL_POOL_WORKERS=8
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ISOPOOL"

// Config is the root application configuration.
type Config struct {
	AppName string        `mapstructure:"app_name" yaml:"app_name"`
	Pool    PoolConfig    `mapstructure:"pool" yaml:"pool"`
	Codec   string        `mapstructure:"codec" yaml:"codec"` // cbor, msgpack or json
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
}

// PoolConfig sizes the worker pool and its queues.
type PoolConfig struct {
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	ChannelCapacity int           `mapstructure:"channel_capacity" yaml:"channel_capacity"`
	QueueCapacity   int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	QueueingEnabled bool          `mapstructure:"queueing_enabled" yaml:"queueing_enabled"`
	DispatchPolicy  string        `mapstructure:"dispatch_policy" yaml:"dispatch_policy"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs []string `mapstructure:"outputs" yaml:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	Development bool           `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" yaml:"enable"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// GatewayConfig controls the gRPC gateway.
type GatewayConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// JournalConfig controls the lifecycle journal.
type JournalConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Path          string        `mapstructure:"path" yaml:"path"`
	SyncOnAppend  bool          `mapstructure:"sync_on_append" yaml:"sync_on_append"`
	BufferSize    int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "isopool",
		Pool: PoolConfig{
			Workers:         4,
			ChannelCapacity: 16,
			QueueCapacity:   1024,
			QueueingEnabled: true,
			DispatchPolicy:  "round_robin",
			DefaultTimeout:  30 * time.Second,
		},
		Codec: "cbor",
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/isopool.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Gateway: GatewayConfig{Enabled: true, Addr: ":50051"},
		Journal: JournalConfig{
			Path:          "data/journal/isopool.log",
			BufferSize:    256,
			FlushInterval: time.Second,
		},
	}
}

// Load reads configuration from path when non-empty, otherwise it searches the
// usual locations. A missing config file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("pool.workers", cfg.Pool.Workers)
	v.SetDefault("pool.channel_capacity", cfg.Pool.ChannelCapacity)
	v.SetDefault("pool.queue_capacity", cfg.Pool.QueueCapacity)
	v.SetDefault("pool.queueing_enabled", cfg.Pool.QueueingEnabled)
	v.SetDefault("pool.dispatch_policy", cfg.Pool.DispatchPolicy)
	v.SetDefault("pool.default_timeout", cfg.Pool.DefaultTimeout)
	v.SetDefault("pool.task_timeout", cfg.Pool.TaskTimeout)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("gateway.enabled", cfg.Gateway.Enabled)
	v.SetDefault("gateway.addr", cfg.Gateway.Addr)
	v.SetDefault("journal.enabled", cfg.Journal.Enabled)
	v.SetDefault("journal.path", cfg.Journal.Path)
	v.SetDefault("journal.sync_on_append", cfg.Journal.SyncOnAppend)
	v.SetDefault("journal.buffer_size", cfg.Journal.BufferSize)
	v.SetDefault("journal.flush_interval", cfg.Journal.FlushInterval)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("isopool")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".isopool"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad panics when Load fails.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if c.Pool.Workers < 0 {
		return fmt.Errorf("invalid pool.workers: %d", c.Pool.Workers)
	}
	c.Pool.DispatchPolicy = strings.ToLower(strings.TrimSpace(c.Pool.DispatchPolicy))
	switch c.Pool.DispatchPolicy {
	case "", "round_robin", "lru":
	default:
		return fmt.Errorf("invalid pool.dispatch_policy: %q", c.Pool.DispatchPolicy)
	}
	if c.Pool.DefaultTimeout < 0 || c.Pool.TaskTimeout < 0 {
		return fmt.Errorf("pool timeouts must not be negative")
	}

	c.Codec = strings.ToLower(strings.TrimSpace(c.Codec))
	switch c.Codec {
	case "":
		c.Codec = "cbor"
	case "cbor", "msgpack", "json":
	default:
		return fmt.Errorf("invalid codec: %q", c.Codec)
	}

	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// Write stores cfg as YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
