package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Streaming StreamingConfig `yaml:"streaming"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Policy    PolicyConfig    `yaml:"policy"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
}

// UpstreamConfig describes the single Anthropic-compatible upstream.
type UpstreamConfig struct {
	BaseURL          string            `yaml:"base_url"`
	APIVersion       string            `yaml:"api_version"`
	TokenHeader      string            `yaml:"token_header"`
	DefaultModel     string            `yaml:"default_model"`
	DefaultMaxTokens int               `yaml:"default_max_tokens"`
	Timeout          time.Duration     `yaml:"timeout"`
	MaxIdleConns     int               `yaml:"max_idle_conns"`
	Headers          map[string]string `yaml:"headers,omitempty"`
}

type StreamingConfig struct {
	QueueCapacity     int           `yaml:"queue_capacity"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	KeepAliveText     string        `yaml:"keep_alive_text"`
}

// ReasoningConfig is the extended-thinking block merged into provider_config
// when the caller did not set one.
type ReasoningConfig struct {
	Enabled      bool `yaml:"enabled"`
	BudgetTokens int  `yaml:"budget_tokens"`
}

type BreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPath string `yaml:"metrics_path"`
}

// AuthConfig controls gateway-level client keys. The upstream token header is
// always required regardless of this setting.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type RateLimitConfig struct {
	Enabled    bool          `yaml:"enabled"`
	DefaultRPM int           `yaml:"default_rpm"`
	Window     time.Duration `yaml:"window"`
}

type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			ReadTimeout: 30 * time.Second,
			// Streams have no duration cap; the SSE writer clears its own deadline.
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxBodyBytes:     4 << 20,
		},
		Upstream: UpstreamConfig{
			BaseURL:          "https://api.anthropic.com/v1",
			APIVersion:       "2023-06-01",
			TokenHeader:      "X-Anthropic-API-Token",
			DefaultModel:     "claude-3-7-sonnet-20250219",
			DefaultMaxTokens: 20000,
			Timeout:          5 * time.Minute,
			MaxIdleConns:     100,
		},
		Streaming: StreamingConfig{
			QueueCapacity:     100,
			KeepAliveInterval: 15 * time.Second,
			KeepAliveText:     "keep-alive-text",
		},
		Reasoning: ReasoningConfig{
			Enabled:      true,
			BudgetTokens: 16000,
		},
		Breaker: BreakerConfig{
			FailureThreshold:      5,
			RecoveryProbeInterval: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "relay",
			User:            "relay",
			MaxConns:        10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPath: "/metrics",
		},
		RateLimit: RateLimitConfig{
			DefaultRPM: 60,
			Window:     time.Minute,
		},
		Policy: PolicyConfig{
			BundlePath:        "/etc/relay/policies",
			EvaluationTimeout: 100 * time.Millisecond,
		},
	}
}

// Validate checks the settings the gateway cannot run without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url must be set")
	}
	if _, err := url.Parse(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("upstream.base_url: %w", err)
	}
	if c.Upstream.TokenHeader == "" {
		return fmt.Errorf("upstream.token_header must be set")
	}
	if c.Upstream.DefaultMaxTokens <= 0 {
		return fmt.Errorf("upstream.default_max_tokens must be positive, got %d", c.Upstream.DefaultMaxTokens)
	}
	if c.Streaming.QueueCapacity <= 0 {
		return fmt.Errorf("streaming.queue_capacity must be positive, got %d", c.Streaming.QueueCapacity)
	}
	if c.Streaming.KeepAliveInterval <= 0 {
		return fmt.Errorf("streaming.keep_alive_interval must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPM <= 0 {
		return fmt.Errorf("rate_limit.default_rpm must be positive when rate limiting is enabled")
	}
	if !strings.HasPrefix(c.Telemetry.MetricsPath, "/") {
		return fmt.Errorf("telemetry.metrics_path must start with /, got %q", c.Telemetry.MetricsPath)
	}
	if c.Reasoning.Enabled && c.Reasoning.BudgetTokens <= 0 {
		return fmt.Errorf("reasoning.budget_tokens must be positive when reasoning is enabled")
	}
	return nil
}
