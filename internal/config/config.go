package config

import (
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout  time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel           string        `mapstructure:"log_level" yaml:"log_level"`
	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	ChatHistoryLimit   int           `mapstructure:"chat_history_limit" yaml:"chat_history_limit"`
	DefaultLanguage    string        `mapstructure:"default_language" yaml:"default_language"`

	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Relay    RelayConfig    `mapstructure:"relay" yaml:"relay"`
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Rooms    RoomsConfig    `mapstructure:"rooms" yaml:"rooms"`
}

// StoreConfig selects the persistence driver.
type StoreConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"` // sqlite or mongo
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	MongoURI      string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database" yaml:"mongo_database"`
}

// RelayConfig selects how live rooms are shared between instances.
type RelayConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"` // local, redis or nats
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisChannel  string `mapstructure:"redis_channel" yaml:"redis_channel"`
	NATSURL       string `mapstructure:"nats_url" yaml:"nats_url"`
	NATSSubject   string `mapstructure:"nats_subject" yaml:"nats_subject"`
}

// ExecutorConfig points at the code execution API.
type ExecutorConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RoomsConfig tunes the in-memory room lifecycle.
type RoomsConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"

	RelayLocal = "local"
	RelayRedis = "redis"
	RelayNATS  = "nats"
)

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		MaxMessageBytes:    1 << 20,
		RateLimitPerMinute: 600,
		ChatHistoryLimit:   50,
		DefaultLanguage:    "javascript",
		Store: StoreConfig{
			Driver:        StoreSQLite,
			SQLitePath:    "wirecode.db",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "codeeditor",
		},
		Relay: RelayConfig{
			Driver:       RelayLocal,
			RedisAddr:    "localhost:6379",
			RedisChannel: "wirecode:rooms",
			NATSURL:      "nats://localhost:4222",
			NATSSubject:  "wirecode.rooms",
		},
		Executor: ExecutorConfig{
			URL:     "https://emkc.org/api/v2/piston",
			Timeout: 10 * time.Second,
		},
		Rooms: RoomsConfig{
			IdleTTL:       10 * time.Minute,
			FlushInterval: 2 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero top-level values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// Validate reports unknown drivers and unusable limits.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreSQLite, StoreMongo:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Relay.Driver {
	case RelayLocal, RelayRedis, RelayNATS:
	default:
		return fmt.Errorf("unknown relay driver %q", c.Relay.Driver)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max_message_bytes must be positive")
	}
	if c.Rooms.FlushInterval <= 0 {
		return fmt.Errorf("rooms.flush_interval must be positive")
	}
	return nil
}
