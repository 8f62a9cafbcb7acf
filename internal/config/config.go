// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Render  RenderConfig  `mapstructure:"render"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeSec int    `mapstructure:"conn_lifetime_seconds"`
}

// WorkerConfig governs the job claim loop.
type WorkerConfig struct {
	Queue          string `mapstructure:"queue"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	DataDir        string `mapstructure:"data_dir"`
}

// CrawlerConfig governs politeness and the crawl pipeline.
type CrawlerConfig struct {
	UserAgent             string  `mapstructure:"user_agent"`
	PerDomainConcurrency  int     `mapstructure:"per_domain_concurrency"`
	PerDomainDelaySeconds float64 `mapstructure:"per_domain_delay_seconds"`
	MaxRetries            int     `mapstructure:"max_retries"`
	RespectRobots         bool    `mapstructure:"respect_robots"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// ProxyConfig controls the rotating proxy pool.
type ProxyConfig struct {
	File              string `mapstructure:"file"`
	FailureThreshold  int    `mapstructure:"failure_threshold"`
	QuarantineSeconds int    `mapstructure:"quarantine_seconds"`
}

// RenderConfig configures the headless rendering fallback.
type RenderConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MaxParallel   int     `mapstructure:"max_parallel"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS     float64 `mapstructure:"domain_qps"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOCIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_seconds", 1800)
	v.SetDefault("worker.queue", "default")
	v.SetDefault("worker.poll_interval_ms", 1000)
	v.SetDefault("worker.data_dir", "data")
	v.SetDefault("crawler.user_agent", "social-discovery-bot/0.1")
	v.SetDefault("crawler.per_domain_concurrency", 2)
	v.SetDefault("crawler.per_domain_delay_seconds", 1.5)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 4000)
	v.SetDefault("proxy.failure_threshold", 5)
	v.SetDefault("proxy.quarantine_seconds", 900)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.max_parallel", 1)
	v.SetDefault("render.nav_timeout_seconds", 25)
	v.SetDefault("render.domain_qps", 0.5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.PerDomainConcurrency <= 0 {
		return fmt.Errorf("crawler.per_domain_concurrency must be > 0")
	}
	if c.Crawler.PerDomainDelaySeconds < 0 {
		return fmt.Errorf("crawler.per_domain_delay_seconds must be >= 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Proxy.FailureThreshold <= 0 {
		return fmt.Errorf("proxy.failure_threshold must be > 0")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when rendering is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// PerDomainDelay converts the configured delay into a duration.
func (c CrawlerConfig) PerDomainDelay() time.Duration {
	return time.Duration(c.PerDomainDelaySeconds * float64(time.Second))
}

// Timeout converts the configured HTTP timeout into a duration.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Quarantine converts the configured quarantine window into a duration.
func (c ProxyConfig) Quarantine() time.Duration {
	return time.Duration(c.QuarantineSeconds) * time.Second
}
