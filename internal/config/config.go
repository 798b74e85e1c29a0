package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// MaxMessageBytes caps a single inbound websocket frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gt=0"`
	// MaxContentLength caps message content, in characters.
	MaxContentLength int `mapstructure:"max_content_length" yaml:"max_content_length" validate:"gt=0"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `mapstructure:"send_buffer" yaml:"send_buffer" validate:"gt=0"`
	// TypingTimeout ends a typing indicator that was not refreshed.
	TypingTimeout time.Duration `mapstructure:"typing_timeout" yaml:"typing_timeout" validate:"gt=0"`
	// WriteTimeout bounds durable writes, which outlive the connection that issued them.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	// RateLimitPerMinute limits inbound events per connection; 0 disables.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`

	Store StoreConfig `mapstructure:"store" yaml:"store"`
	JWT   JWTConfig   `mapstructure:"jwt" yaml:"jwt"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver" validate:"required,oneof=sqlite mongo"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	MongoURI      string `mapstructure:"mongo_uri" yaml:"mongo_uri" validate:"required_if=Driver mongo"`
	MongoDatabase string `mapstructure:"mongo_database" yaml:"mongo_database" validate:"required_if=Driver mongo"`
}

// JWTConfig configures credential verification and issuance.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret" validate:"required,min=8"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gt=0"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		MaxMessageBytes:    64 << 10,
		MaxContentLength:   4000,
		SendBuffer:         64,
		TypingTimeout:      6 * time.Second,
		WriteTimeout:       10 * time.Second,
		RateLimitPerMinute: 600,
		Store: StoreConfig{
			Driver:        DriverSQLite,
			SQLitePath:    "wirechat.db",
			MongoDatabase: "wirechat",
		},
		JWT: JWTConfig{
			Secret:   "change-me-in-production",
			Issuer:   "wirechat",
			Audience: "wirechat-relay",
			TTL:      24 * time.Hour,
		},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
