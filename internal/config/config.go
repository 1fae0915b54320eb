package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port              int    `env:"PORT" envDefault:"8080"`
	DatabaseURL       string `env:"DATABASE_URL,required"`
	RedisURL          string `env:"REDIS_URL"`
	JWTSecret         string `env:"JWT_SECRET,required"`
	AgentBaseURL      string `env:"AGENT_BASE_URL" envDefault:"http://localhost:3100"`
	PairingTTLSeconds int    `env:"PAIRING_TTL_SECONDS" envDefault:"300"`
	StatusTTLSeconds  int    `env:"STATUS_TTL_SECONDS" envDefault:"3600"`
	SessionTTLHours   int    `env:"SESSION_TTL_HOURS" envDefault:"168"`
	RetryMaxAttempts  int    `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryDelaySeconds int    `env:"RETRY_DELAY_SECONDS" envDefault:"5"`
	RetryBackoff      string `env:"RETRY_BACKOFF" envDefault:"linear"`
	RetentionDays     int    `env:"RETENTION_DAYS" envDefault:"30"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLSeconds) * time.Second
}

func (c *Config) StatusTTL() time.Duration {
	return time.Duration(c.StatusTTLSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	switch c.RetryBackoff {
	case "linear", "exponential":
	default:
		return fmt.Errorf("RETRY_BACKOFF must be \"linear\" or \"exponential\", got %q", c.RetryBackoff)
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: session state will not survive restarts")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
