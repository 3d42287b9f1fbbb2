package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidTier = errors.New("invalid rate limit tier")

type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Log          LogConfig          `json:"log" yaml:"log"`
	Redis        RedisConfig        `json:"redis" yaml:"redis"`
	Database     DatabaseConfig     `json:"database" yaml:"database"`
	JWT          JWTConfig          `json:"jwt" yaml:"jwt"`
	RateLimit    RateLimitConfig    `json:"rate_limit" yaml:"rate_limit"`
	Idempotency  IdempotencyConfig  `json:"idempotency" yaml:"idempotency"`
	StoreBreaker BreakerConfig      `json:"store_breaker" yaml:"store_breaker"`
	AdmissionLog AdmissionLogConfig `json:"admission_log" yaml:"admission_log"`
	Services     []ServiceConfig    `json:"services" yaml:"services"`
	Routes       []RouteConfig      `json:"routes" yaml:"routes"`
}

type ServerConfig struct {
	Port                string `json:"port" yaml:"port"`
	Environment         string `json:"environment" yaml:"environment"`
	EnableH2C           bool   `json:"enable_h2c" yaml:"enable_h2c"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

type RedisConfig struct {
	// Empty host selects the in-process store (single instance only)
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// Returns host:port for the redis client
func (r RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type DatabaseConfig struct {
	// postgres:// URLs or key=value strings open Postgres, anything else is treated as a sqlite path
	DSN string `json:"dsn" yaml:"dsn"`
}

type JWTConfig struct {
	Secret      string `json:"secret" yaml:"secret"`
	ExpiryHours int    `json:"expiry_hours" yaml:"expiry_hours"`
}

// TierConfig is a fixed window: Limit requests per Window seconds
type TierConfig struct {
	Window uint `json:"window" yaml:"window"`
	Limit  uint `json:"limit" yaml:"limit"`
}

type RateLimitConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Prefix  string `json:"prefix" yaml:"prefix"`

	// Fallback for authenticated callers when a group/plan pair has no entry.
	// The built-in plans leave api/free unset, so this is the baseline API quota.
	Default TierConfig `json:"default" yaml:"default"`
	// Fallback for anonymous callers when a group has no entry
	Anonymous TierConfig `json:"anonymous" yaml:"anonymous"`

	// Keyed by lower-case endpoint group ("auth", "webhooks", "ai", ...)
	GroupAnonymous map[string]TierConfig `json:"group_anonymous" yaml:"group_anonymous"`
	// Keyed by endpoint group, then by plan ("free", "basic", "premium", "enterprise")
	Plans map[string]map[string]TierConfig `json:"plans" yaml:"plans"`

	ReadMultiplier  float64 `json:"read_multiplier" yaml:"read_multiplier"`
	WriteMultiplier float64 `json:"write_multiplier" yaml:"write_multiplier"`
}

type IdempotencyConfig struct {
	Prefix     string `json:"prefix" yaml:"prefix"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

type BreakerConfig struct {
	MaxFailures    int `json:"max_failures" yaml:"max_failures"`
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type AdmissionLogConfig struct {
	Enabled              bool `json:"enabled" yaml:"enabled"`
	BufferSize           int  `json:"buffer_size" yaml:"buffer_size"`
	BatchSize            int  `json:"batch_size" yaml:"batch_size"`
	FlushIntervalSeconds int  `json:"flush_interval_seconds" yaml:"flush_interval_seconds"`
	RetentionDays        int  `json:"retention_days" yaml:"retention_days"`
}

// ServiceConfig is an upstream reached through the gateway proxy.
// Group, Operation, Skip and Idempotent annotate every route registered for it.
type ServiceConfig struct {
	Path       string   `json:"path" yaml:"path"`
	Targets    []string `json:"targets" yaml:"targets"`
	Strategy   string   `json:"strategy" yaml:"strategy"`
	Group      string   `json:"group" yaml:"group"`
	Operation  string   `json:"operation" yaml:"operation"`
	Skip       bool     `json:"skip" yaml:"skip"`
	Idempotent bool     `json:"idempotent" yaml:"idempotent"`

	// Empty disables active health checks of the targets
	HealthCheckPath string        `json:"health_check_path" yaml:"health_check_path"`
	Breaker         BreakerConfig `json:"breaker" yaml:"breaker"`
}

// RouteConfig annotates a single route pattern. An empty method matches any method.
type RouteConfig struct {
	Method     string `json:"method" yaml:"method"`
	Path       string `json:"path" yaml:"path"`
	Group      string `json:"group" yaml:"group"`
	Operation  string `json:"operation" yaml:"operation"`
	Skip       bool   `json:"skip" yaml:"skip"`
	Idempotent bool   `json:"idempotent" yaml:"idempotent"`
}

// Returns a config populated with the built-in defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                "8080",
			Environment:         "development",
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 15,
			IdleTimeoutSeconds:  15,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Redis: RedisConfig{
			Host:   "localhost",
			Port:   6379,
			Prefix: "gateway:",
		},
		Database: DatabaseConfig{DSN: "gateway.db"},
		JWT:      JWTConfig{Secret: "change-me", ExpiryHours: 24},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			Prefix:    "ratelimit:",
			Default:   TierConfig{Window: 60, Limit: 100},
			Anonymous: TierConfig{Window: 60, Limit: 30},
			GroupAnonymous: map[string]TierConfig{
				"auth":     {Window: 900, Limit: 10},
				"webhooks": {Window: 60, Limit: 100},
				"ai":       {Window: 60, Limit: 5},
			},
			Plans:           defaultPlans(),
			ReadMultiplier:  1.0,
			WriteMultiplier: 0.5,
		},
		Idempotency:  IdempotencyConfig{Prefix: "idempotency:", TTLSeconds: 86400},
		StoreBreaker: BreakerConfig{MaxFailures: 5, TimeoutSeconds: 10},
		AdmissionLog: AdmissionLogConfig{
			Enabled:              true,
			BufferSize:           1000,
			BatchSize:            100,
			FlushIntervalSeconds: 5,
			RetentionDays:        7,
		},
	}
}

func defaultPlans() map[string]map[string]TierConfig {
	perMinute := func(free, basic, premium, enterprise uint) map[string]TierConfig {
		return map[string]TierConfig{
			"free":       {Window: 60, Limit: free},
			"basic":      {Window: 60, Limit: basic},
			"premium":    {Window: 60, Limit: premium},
			"enterprise": {Window: 60, Limit: enterprise},
		}
	}

	return map[string]map[string]TierConfig{
		"auth":     perMinute(10, 20, 30, 50),
		"webhooks": perMinute(100, 500, 1000, 5000),
		"admin":    perMinute(30, 60, 120, 300),
		"search":   perMinute(60, 200, 500, 2000),
		"upload":   perMinute(10, 30, 100, 500),
		"ai":       perMinute(10, 50, 200, 1000),

		// no "free" entry: it resolves to Default (RATE_LIMIT_DEFAULT_*)
		"api": {
			"basic":      {Window: 60, Limit: 300},
			"premium":    {Window: 60, Limit: 1000},
			"enterprise": {Window: 60, Limit: 5000},
		},
	}
}

// Load reads defaults, then the file at path (JSON or YAML by extension), then
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Validate rejects tiers and multipliers that would make every request fail
func (c *Config) Validate() error {
	rl := c.RateLimit

	if err := validateTier("default", rl.Default); err != nil {
		return err
	}
	if err := validateTier("anonymous", rl.Anonymous); err != nil {
		return err
	}
	for group, tier := range rl.GroupAnonymous {
		if err := validateTier("anonymous "+group, tier); err != nil {
			return err
		}
	}
	for group, plans := range rl.Plans {
		for plan, tier := range plans {
			if err := validateTier(group+"/"+plan, tier); err != nil {
				return err
			}
		}
	}

	if rl.ReadMultiplier <= 0 || rl.WriteMultiplier <= 0 {
		return fmt.Errorf("rate limit multipliers must be positive (read=%v, write=%v)", rl.ReadMultiplier, rl.WriteMultiplier)
	}

	if c.Idempotency.TTLSeconds <= 0 {
		return fmt.Errorf("idempotency ttl must be positive, got %d", c.Idempotency.TTLSeconds)
	}

	for _, svc := range c.Services {
		if svc.Path == "" || !strings.HasPrefix(svc.Path, "/") {
			return fmt.Errorf("service path %q must start with /", svc.Path)
		}
	}

	return nil
}

func validateTier(name string, tier TierConfig) error {
	if tier.Window == 0 || tier.Limit == 0 {
		return fmt.Errorf("%w: %s (window=%d, limit=%d)", ErrInvalidTier, name, tier.Window, tier.Limit)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
