package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "unit-test-secret-key-with-enough-length"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOTMAIL_JWT_SECRET", testJWTSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "bots.example.com", cfg.Relay.Domain)
	assert.Equal(t, 48*time.Hour, cfg.Relay.ClaimTokenTTL)
	assert.Equal(t, 200, cfg.Quota.VerifiedLimit)
	assert.Equal(t, 25, cfg.Quota.UnverifiedLimit)
	assert.Equal(t, 10, cfg.Quota.FlagPenalty)
	assert.Equal(t, 5, cfg.Abuse.Threshold)
	assert.Equal(t, time.Hour, cfg.Abuse.Window)
	assert.Equal(t, 8, cfg.Abuse.PrefixLength)
	assert.Equal(t, 14*24*time.Hour, cfg.Abuse.BlockDuration)
	assert.Equal(t, "*/10 * * * *", cfg.Abuse.ScanSchedule)
	assert.Equal(t, 2, cfg.Abuse.LookbackWindows)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Empty(t, cfg.Database.DSN)
	assert.Empty(t, cfg.Redis.Address)
	assert.Equal(t, testJWTSecret, cfg.JWT.Secret)
	assert.Equal(t, 5.0, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BOTMAIL_JWT_SECRET", testJWTSecret)
	t.Setenv("BOTMAIL_SERVER_PORT", "9090")
	t.Setenv("BOTMAIL_RELAY_DOMAIN", "Mail.Bots.Dev")
	t.Setenv("BOTMAIL_QUOTA_UNVERIFIED_LIMIT", "50")
	t.Setenv("BOTMAIL_ABUSE_THRESHOLD", "3")
	t.Setenv("BOTMAIL_ABUSE_WINDOW", "30m")
	t.Setenv("BOTMAIL_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	// 域名折叠为小写
	assert.Equal(t, "mail.bots.dev", cfg.Relay.Domain)
	assert.Equal(t, 50, cfg.Quota.UnverifiedLimit)
	assert.Equal(t, 3, cfg.Abuse.Threshold)
	assert.Equal(t, 30*time.Minute, cfg.Abuse.Window)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoadValidation(t *testing.T) {
	t.Run("默认 JWT secret 被拒", func(t *testing.T) {
		t.Setenv("BOTMAIL_JWT_SECRET", "change-me-in-production")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("过短的 JWT secret 被拒", func(t *testing.T) {
		t.Setenv("BOTMAIL_JWT_SECRET", "short")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("配额基础额度必须为正", func(t *testing.T) {
		t.Setenv("BOTMAIL_JWT_SECRET", testJWTSecret)
		t.Setenv("BOTMAIL_QUOTA_VERIFIED_LIMIT", "0")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("告警阈值下限为 2", func(t *testing.T) {
		t.Setenv("BOTMAIL_JWT_SECRET", testJWTSecret)
		t.Setenv("BOTMAIL_ABUSE_THRESHOLD", "1")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("非法时长回落到默认值", func(t *testing.T) {
		t.Setenv("BOTMAIL_JWT_SECRET", testJWTSecret)
		t.Setenv("BOTMAIL_ABUSE_WINDOW", "banana")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, time.Hour, cfg.Abuse.Window)
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList("a, b"))
	assert.Equal(t, []string{"a"}, parseList("a,,  ,"))
	assert.Empty(t, parseList(""))
}
