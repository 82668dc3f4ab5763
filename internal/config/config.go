// Package config loads ledgersync settings from a YAML file and LEDGERSYNC_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type StorageConfig struct {
	Driver   string      `mapstructure:"driver"`
	DataDir  string      `mapstructure:"data_dir"`
	QueueKey string      `mapstructure:"queue_key"`
	Redis    RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type RemoteConfig struct {
	DSN           string        `mapstructure:"dsn"`
	MaxConns      int32         `mapstructure:"max_conns"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type SyncConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	Interval      time.Duration `mapstructure:"interval"`
	PassTimeout   time.Duration `mapstructure:"pass_timeout"`
	ConflictCheck bool          `mapstructure:"conflict_check"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configPath (optional) and overlays environment variables such
// as LEDGERSYNC_SYNC_MAX_RETRIES.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEDGERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.queue_key", "offline_changes")
	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "ledgersync:")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.max_conns", 4)
	v.SetDefault("remote.probe_interval", 15*time.Second)
	v.SetDefault("remote.probe_timeout", 3*time.Second)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.settle_delay", 2*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.pass_timeout", 5*time.Minute)
	v.SetDefault("sync.conflict_check", true)
	v.SetDefault("log.level", "info")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the synchronizer cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.QueueKey == "" {
		return fmt.Errorf("storage.queue_key must not be empty")
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.SettleDelay < 0 {
		return fmt.Errorf("sync.settle_delay must not be negative")
	}
	if c.Sync.PassTimeout <= 0 {
		return fmt.Errorf("sync.pass_timeout must be positive")
	}
	return nil
}
