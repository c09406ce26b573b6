// Package config loads dexlink settings from DEXLINK_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env                string `mapstructure:"env"`
	LogLevel           string `mapstructure:"log_level"`
	LocalStackEndpoint string `mapstructure:"localstack_endpoint"`
	Gateway            GatewayConfig
	Channel            ChannelConfig
	Outcome            OutcomeConfig
	Signer             SignerConfig
	Redis              RedisConfig
	Metrics            MetricsConfig
	Watch              WatchConfig
}

// GatewayConfig holds the exchange API settings.
type GatewayConfig struct {
	BaseURL    string  `mapstructure:"base_url"`
	TimeoutMS  int     `mapstructure:"timeout_ms"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	Burst      int     `mapstructure:"burst"`
	APIKey     string  `mapstructure:"api_key"`
	// HaltCoolOffSec is how long a resumed pool stays closed to new intents.
	HaltCoolOffSec int `mapstructure:"halt_cool_off_sec"`
}

// Timeout is TimeoutMS as a duration.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutMS) * time.Millisecond
}

// HaltCoolOff is HaltCoolOffSec as a duration.
func (g GatewayConfig) HaltCoolOff() time.Duration {
	return time.Duration(g.HaltCoolOffSec) * time.Second
}

// ChannelConfig holds the confirmation socket settings.
type ChannelConfig struct {
	URL              string `mapstructure:"url"`
	HeartbeatSec     int    `mapstructure:"heartbeat_sec"`
	BackoffInitialMS int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMS     int    `mapstructure:"backoff_max_ms"`
}

// Heartbeat is HeartbeatSec as a duration.
func (c ChannelConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}

// BackoffInitial is BackoffInitialMS as a duration.
func (c ChannelConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMS) * time.Millisecond
}

// BackoffMax is BackoffMaxMS as a duration.
func (c ChannelConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// OutcomeConfig holds confirmation tracking settings.
type OutcomeConfig struct {
	TimeoutSec    int `mapstructure:"timeout_sec"`
	JournalTTLSec int `mapstructure:"journal_ttl_sec"`
}

// Timeout is how long a submission is tracked.
func (o OutcomeConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSec) * time.Second
}

// JournalTTL is how long a journal entry is kept.
func (o OutcomeConfig) JournalTTL() time.Duration {
	return time.Duration(o.JournalTTLSec) * time.Second
}

// SignerConfig holds signer-specific settings. The daemon takes its key from
// KeyCiphertextPath through KMS, or from PrivateKey in development.
type SignerConfig struct {
	SocketPath        string `mapstructure:"socket_path"`
	SessionTTLSec     int    `mapstructure:"session_ttl_sec"`
	MaxOperations     int64  `mapstructure:"max_operations"`
	KMSKeyID          string `mapstructure:"kms_key_id"`
	AWSRegion         string `mapstructure:"aws_region"`
	KeyCiphertextPath string `mapstructure:"key_ciphertext_path"`
	PrivateKey        string `mapstructure:"private_key"`
}

// SessionTTL is SessionTTLSec as a duration.
func (s SignerConfig) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLSec) * time.Second
}

// RedisConfig holds Redis connection settings. An empty Addr disables the
// outcome journal.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty Addr
// disables the endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// WatchConfig makes the daemon quote one pair on an interval. An empty
// TokenIn disables it.
type WatchConfig struct {
	TokenIn     string `mapstructure:"token_in"`
	TokenOut    string `mapstructure:"token_out"`
	Amount      string `mapstructure:"amount"`
	IntervalSec int    `mapstructure:"interval_sec"`
}

// Interval is IntervalSec as a duration.
func (w WatchConfig) Interval() time.Duration {
	return time.Duration(w.IntervalSec) * time.Second
}

// Load reads configuration from environment variables prefixed with DEXLINK_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEXLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")

	// Gateway defaults
	v.SetDefault("gateway.base_url", "http://localhost:8080")
	v.SetDefault("gateway.timeout_ms", 30000)
	v.SetDefault("gateway.rate_per_sec", 10)
	v.SetDefault("gateway.burst", 20)
	v.SetDefault("gateway.halt_cool_off_sec", 30)

	// Channel defaults
	v.SetDefault("channel.url", "ws://localhost:8080/socket")
	v.SetDefault("channel.heartbeat_sec", 30)
	v.SetDefault("channel.backoff_initial_ms", 250)
	v.SetDefault("channel.backoff_max_ms", 30000)

	// Outcome defaults
	v.SetDefault("outcome.timeout_sec", 120)
	v.SetDefault("outcome.journal_ttl_sec", 86400)

	// Signer defaults
	v.SetDefault("signer.socket_path", "/var/run/dexlink/signer.sock")
	v.SetDefault("signer.session_ttl_sec", 3600)
	v.SetDefault("signer.max_operations", 0)
	v.SetDefault("signer.aws_region", "us-east-1")

	// Redis defaults
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Metrics defaults
	v.SetDefault("metrics.addr", ":9090")

	// Watch defaults
	v.SetDefault("watch.amount", "1")
	v.SetDefault("watch.interval_sec", 60)

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LogLevel = v.GetString("log_level")
	cfg.LocalStackEndpoint = v.GetString("localstack_endpoint")

	cfg.Gateway = GatewayConfig{
		BaseURL:    v.GetString("gateway.base_url"),
		TimeoutMS:  v.GetInt("gateway.timeout_ms"),
		RatePerSec: v.GetFloat64("gateway.rate_per_sec"),
		Burst:      v.GetInt("gateway.burst"),
		APIKey:     v.GetString("gateway.api_key"),

		HaltCoolOffSec: v.GetInt("gateway.halt_cool_off_sec"),
	}

	cfg.Channel = ChannelConfig{
		URL:              v.GetString("channel.url"),
		HeartbeatSec:     v.GetInt("channel.heartbeat_sec"),
		BackoffInitialMS: v.GetInt("channel.backoff_initial_ms"),
		BackoffMaxMS:     v.GetInt("channel.backoff_max_ms"),
	}

	cfg.Outcome = OutcomeConfig{
		TimeoutSec:    v.GetInt("outcome.timeout_sec"),
		JournalTTLSec: v.GetInt("outcome.journal_ttl_sec"),
	}

	cfg.Signer = SignerConfig{
		SocketPath:        v.GetString("signer.socket_path"),
		SessionTTLSec:     v.GetInt("signer.session_ttl_sec"),
		MaxOperations:     v.GetInt64("signer.max_operations"),
		KMSKeyID:          v.GetString("signer.kms_key_id"),
		AWSRegion:         v.GetString("signer.aws_region"),
		KeyCiphertextPath: v.GetString("signer.key_ciphertext_path"),
		PrivateKey:        v.GetString("signer.private_key"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.Metrics = MetricsConfig{
		Addr: v.GetString("metrics.addr"),
	}

	cfg.Watch = WatchConfig{
		TokenIn:     v.GetString("watch.token_in"),
		TokenOut:    v.GetString("watch.token_out"),
		Amount:      v.GetString("watch.amount"),
		IntervalSec: v.GetInt("watch.interval_sec"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the components cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway.base_url is required"))
	}
	if c.Gateway.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout_ms must be positive, got %d", c.Gateway.TimeoutMS))
	}
	if c.Gateway.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("gateway.rate_per_sec must not be negative, got %g", c.Gateway.RatePerSec))
	}
	if c.Channel.URL == "" {
		errs = append(errs, errors.New("channel.url is required"))
	}
	if c.Outcome.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("outcome.timeout_sec must be positive, got %d", c.Outcome.TimeoutSec))
	}
	if c.Signer.SessionTTLSec <= 0 {
		errs = append(errs, fmt.Errorf("signer.session_ttl_sec must be positive, got %d", c.Signer.SessionTTLSec))
	}
	if c.Watch.TokenIn != "" && c.Watch.IntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("watch.interval_sec must be positive, got %d", c.Watch.IntervalSec))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
