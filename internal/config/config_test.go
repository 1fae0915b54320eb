package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("PairingTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{PairingTTLSeconds: 300}
		assert.Equal(t, 5*time.Minute, cfg.PairingTTL())
	})

	t.Run("StatusTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{StatusTTLSeconds: 3600}
		assert.Equal(t, time.Hour, cfg.StatusTTL())
	})

	t.Run("Retention converts days to duration", func(t *testing.T) {
		cfg := &Config{RetentionDays: 30}
		assert.Equal(t, 30*24*time.Hour, cfg.Retention())
	})
}

func TestValidate(t *testing.T) {
	t.Run("rejects unknown backoff policy", func(t *testing.T) {
		cfg := &Config{RetryBackoff: "fibonacci"}
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("accepts linear and exponential", func(t *testing.T) {
		for _, policy := range []string{"linear", "exponential"} {
			cfg := &Config{RetryBackoff: policy}
			assert.NoError(t, cfg.Validate(false))
		}
	})

	t.Run("rejects short JWT secret in production", func(t *testing.T) {
		cfg := &Config{RetryBackoff: "linear", JWTSecret: "short"}
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("rejects known weak secret in production", func(t *testing.T) {
		cfg := &Config{RetryBackoff: "linear", JWTSecret: "change-me"}
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("accepts strong secret in production", func(t *testing.T) {
		cfg := &Config{RetryBackoff: "linear", JWTSecret: "0123456789abcdef0123456789abcdef"}
		assert.NoError(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                os.Getenv("PORT"),
		"DATABASE_URL":        os.Getenv("DATABASE_URL"),
		"REDIS_URL":           os.Getenv("REDIS_URL"),
		"JWT_SECRET":          os.Getenv("JWT_SECRET"),
		"PAIRING_TTL_SECONDS": os.Getenv("PAIRING_TTL_SECONDS"),
		"RETRY_BACKOFF":       os.Getenv("RETRY_BACKOFF"),
		"LOG_LEVEL":           os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("JWT_SECRET", "test-secret")
		os.Unsetenv("PORT")
		os.Unsetenv("REDIS_URL")
		os.Unsetenv("PAIRING_TTL_SECONDS")
		os.Unsetenv("RETRY_BACKOFF")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "", cfg.RedisURL)
		assert.Equal(t, 300, cfg.PairingTTLSeconds)
		assert.Equal(t, "linear", cfg.RetryBackoff)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("fails when DATABASE_URL missing", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("JWT_SECRET", "test-secret")

		_, err := Load()
		assert.Error(t, err)
	})
}
