package config

import (
	"time"

	"github.com/vovakirdan/roomsync/internal/identity"
)

// Config holds relay and client configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	Room              string        `mapstructure:"room" yaml:"room"`
	RelayURL          string        `mapstructure:"relay_url" yaml:"relay_url"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	EchoSelf          bool          `mapstructure:"echo_self" yaml:"echo_self"`
	ClientBuffer      int           `mapstructure:"client_buffer" yaml:"client_buffer"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		Room:              "general",
		RelayURL:          "ws://localhost:8080/ws",
		JWTIssuer:         "roomsync",
		TokenTTL:          24 * time.Hour,
		ClientBuffer:      32,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
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
	if other.Room != "" {
		c.Room = other.Room
	}
	if other.RelayURL != "" {
		c.RelayURL = other.RelayURL
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.TokenTTL != 0 {
		c.TokenTTL = other.TokenTTL
	}
	if other.EchoSelf {
		c.EchoSelf = true
	}
	if other.ClientBuffer != 0 {
		c.ClientBuffer = other.ClientBuffer
	}
}

// Token returns the JWT settings, or nil when no secret is configured.
func (c Config) Token() *identity.TokenConfig {
	if c.JWTSecret == "" {
		return nil
	}
	return &identity.TokenConfig{
		Secret:   []byte(c.JWTSecret),
		Issuer:   c.JWTIssuer,
		Audience: c.JWTAudience,
		TTL:      c.TokenTTL,
	}
}
