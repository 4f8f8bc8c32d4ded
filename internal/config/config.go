// Package config loads the service configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quell/internal/limiter/models"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Limits  LimitsConfig  `yaml:"limits"`
	Abuse   AbuseConfig   `yaml:"abuse"`
	Reaper  ReaperConfig  `yaml:"reaper"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP listener parameters.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AdminPort       int           `yaml:"admin_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WindowLimit parameterizes the per-IP sliding window for anonymous traffic.
type WindowLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// BucketLimit parameterizes a tier's per-subject token bucket.
type BucketLimit struct {
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"`
}

// LimitsConfig maps traffic classes and tiers to limiter parameters.
type LimitsConfig struct {
	Anonymous    WindowLimit                  `yaml:"anonymous"`
	Tiers        map[models.Tier]BucketLimit  `yaml:"tiers"`
	ClassWeights map[models.EndpointClass]int `yaml:"class_weights"`
	BotFactor    int                          `yaml:"bot_factor"`
}

// AbuseConfig tunes abuse-alert thresholds and the alert pipeline.
type AbuseConfig struct {
	// WindowFactor scales the sliding-window ceiling into the abuse
	// threshold: attempts beyond WindowFactor * max_requests alert.
	WindowFactor float64 `yaml:"window_factor"`
	// BucketCostFraction: a denied cost above this fraction of bucket
	// capacity alerts.
	BucketCostFraction float64 `yaml:"bucket_cost_fraction"`
	// AlertBuffer is the async sink's channel depth.
	AlertBuffer int `yaml:"alert_buffer"`
}

// ReaperConfig tunes background eviction of idle keys.
type ReaperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AuthConfig holds identity-extraction parameters for the middleware.
type AuthConfig struct {
	JWTSecret  string      `yaml:"jwt_secret"`
	TrustProxy bool        `yaml:"trust_proxy"`
	APIKeyTier models.Tier `yaml:"api_key_tier"`
}

// LoggingConfig selects log output shape.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AdminPort:       9090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Limits: LimitsConfig{
			Anonymous: WindowLimit{MaxRequests: 60, Window: time.Minute},
			Tiers: map[models.Tier]BucketLimit{
				models.TierFree:     {Capacity: 60, RefillRate: 1},
				models.TierStandard: {Capacity: 300, RefillRate: 5},
				models.TierInternal: {Capacity: 3000, RefillRate: 50},
			},
			ClassWeights: map[models.EndpointClass]int{
				models.ClassAuth:      1,
				models.ClassRead:      1,
				models.ClassWrite:     2,
				models.ClassSensitive: 3,
			},
			BotFactor: 2,
		},
		Abuse: AbuseConfig{
			WindowFactor:       2,
			BucketCostFraction: 0.8,
			AlertBuffer:        256,
		},
		Reaper: ReaperConfig{
			Interval: time.Minute,
		},
		Auth: AuthConfig{
			APIKeyTier: models.TierStandard,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at
// configPath when non-empty, then QUELL_* environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func loadFromEnvironment(cfg *Config) {
	if host := os.Getenv("QUELL_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("QUELL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if port := os.Getenv("QUELL_ADMIN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.AdminPort = p
		}
	}
	if timeout := os.Getenv("QUELL_SHUTDOWN_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}

	if maxReq := os.Getenv("QUELL_ANONYMOUS_MAX_REQUESTS"); maxReq != "" {
		if n, err := strconv.Atoi(maxReq); err == nil {
			cfg.Limits.Anonymous.MaxRequests = n
		}
	}
	if window := os.Getenv("QUELL_ANONYMOUS_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			cfg.Limits.Anonymous.Window = d
		}
	}

	if interval := os.Getenv("QUELL_REAPER_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Reaper.Interval = d
		}
	}

	if secret := os.Getenv("QUELL_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if trust := os.Getenv("QUELL_TRUST_PROXY"); trust != "" {
		cfg.Auth.TrustProxy = strings.ToLower(trust) == "true"
	}

	if level := os.Getenv("QUELL_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("QUELL_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}

// Validate rejects configurations the limiters themselves would refuse,
// so misconfiguration fails at startup instead of at first request.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Server.AdminPort <= 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("server.admin_port must be in (0, 65535], got %d", c.Server.AdminPort)
	}
	if c.Server.Port == c.Server.AdminPort {
		return fmt.Errorf("server.port and server.admin_port must differ, both are %d", c.Server.Port)
	}

	if c.Limits.Anonymous.MaxRequests <= 0 {
		return fmt.Errorf("limits.anonymous.max_requests must be positive, got %d", c.Limits.Anonymous.MaxRequests)
	}
	if c.Limits.Anonymous.Window <= 0 {
		return fmt.Errorf("limits.anonymous.window must be positive, got %s", c.Limits.Anonymous.Window)
	}
	for tier, limit := range c.Limits.Tiers {
		if !tier.IsValid() || tier == models.TierAnonymous {
			return fmt.Errorf("limits.tiers: %q is not a configurable tier", tier)
		}
		if limit.Capacity <= 0 {
			return fmt.Errorf("limits.tiers.%s.capacity must be positive, got %v", tier, limit.Capacity)
		}
		if limit.RefillRate <= 0 {
			return fmt.Errorf("limits.tiers.%s.refill_rate must be positive, got %v", tier, limit.RefillRate)
		}
	}
	for class, weight := range c.Limits.ClassWeights {
		if !class.IsValid() {
			return fmt.Errorf("limits.class_weights: unknown endpoint class %q", class)
		}
		if weight <= 0 {
			return fmt.Errorf("limits.class_weights.%s must be positive, got %d", class, weight)
		}
	}

	if c.Abuse.WindowFactor <= 0 {
		return fmt.Errorf("abuse.window_factor must be positive, got %v", c.Abuse.WindowFactor)
	}
	if c.Abuse.BucketCostFraction <= 0 || c.Abuse.BucketCostFraction > 1 {
		return fmt.Errorf("abuse.bucket_cost_fraction must be in (0, 1], got %v", c.Abuse.BucketCostFraction)
	}
	if c.Abuse.AlertBuffer <= 0 {
		return fmt.Errorf("abuse.alert_buffer must be positive, got %d", c.Abuse.AlertBuffer)
	}

	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("reaper.interval must be positive, got %s", c.Reaper.Interval)
	}

	if c.Auth.APIKeyTier != "" && !c.Auth.APIKeyTier.IsValid() {
		return fmt.Errorf("auth.api_key_tier: unknown tier %q", c.Auth.APIKeyTier)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}
