package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// applyEnv overlays environment variables onto the loaded file values.
// Numeric variables that fail to parse are reported instead of ignored.
func (c *Config) applyEnv() error {
	envString("PORT", &c.Server.Port)
	envString("ENVIRONMENT", &c.Server.Environment)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	envString("REDIS_HOST", &c.Redis.Host)
	envString("REDIS_PASSWORD", &c.Redis.Password)
	envString("REDIS_PREFIX", &c.Redis.Prefix)
	envString("DATABASE_DSN", &c.Database.DSN)
	envString("JWT_SECRET", &c.JWT.Secret)

	ints := []struct {
		name   string
		target *int
	}{
		{"REDIS_PORT", &c.Redis.Port},
		{"REDIS_DB", &c.Redis.DB},
		{"JWT_EXPIRY_HOURS", &c.JWT.ExpiryHours},
		{"IDEMPOTENCY_TTL", &c.Idempotency.TTLSeconds},
	}
	for _, v := range ints {
		if err := envInt(v.name, v.target); err != nil {
			return err
		}
	}

	if err := envBool("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled); err != nil {
		return err
	}

	rl := &c.RateLimit
	if err := envTier("RATE_LIMIT_DEFAULT", &rl.Default); err != nil {
		return err
	}
	if err := envTier("RATE_LIMIT_ANON", &rl.Anonymous); err != nil {
		return err
	}

	for _, group := range []string{"auth", "webhooks", "ai"} {
		if rl.GroupAnonymous == nil {
			rl.GroupAnonymous = make(map[string]TierConfig)
		}
		tier, ok := rl.GroupAnonymous[group]
		if !ok {
			tier = rl.Anonymous
		}
		prefix := "RATE_LIMIT_" + strings.ToUpper(group) + "_ANON"
		if err := envTier(prefix, &tier); err != nil {
			return err
		}
		rl.GroupAnonymous[group] = tier
	}

	if err := envFloat("RATE_LIMIT_READ_MULTIPLIER", &rl.ReadMultiplier); err != nil {
		return err
	}
	if err := envFloat("RATE_LIMIT_WRITE_MULTIPLIER", &rl.WriteMultiplier); err != nil {
		return err
	}

	return nil
}

func envString(name string, target *string) {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		*target = strings.TrimSpace(v)
	}
}

func envInt(name string, target *int) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", name, err)
	}
	*target = n
	return nil
}

func envUint(name string, target *uint) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("env %s: %w", name, err)
	}
	*target = uint(n)
	return nil
}

func envFloat(name string, target *float64) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("env %s: %w", name, err)
	}
	*target = f
	return nil
}

func envBool(name string, target *bool) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", name, err)
	}
	*target = b
	return nil
}

// envTier reads <prefix>_WINDOW and <prefix>_LIMIT
func envTier(prefix string, tier *TierConfig) error {
	if err := envUint(prefix+"_WINDOW", &tier.Window); err != nil {
		return err
	}
	return envUint(prefix+"_LIMIT", &tier.Limit)
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
